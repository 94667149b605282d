// Package security implements PubSub message-layer signing and
// encryption: a Policy abstraction over the wire algorithm, per-group
// key material in KeyStorage, and SKSClient, which watches an
// external Security Key Service for key rollovers.
package security
