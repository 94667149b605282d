// Package transport implements the pluggable send/receive channels a
// connection's configured profile URI resolves to: UDP, raw Ethernet
// and MQTT. The control plane talks to all of them uniformly through
// the Channel interface; it never imports a concrete profile.
package transport
