// Package open62541 provides a subscribe-side OPC UA PubSub control
// plane: Connections, ReaderGroups and DataSetReaders arranged in a
// fixed three-level hierarchy, driven by a cooperative event loop and
// a pluggable transport/codec/security stack.
//
// # Packages
//
//   - pubsub: the control plane itself — Manager, Connection,
//     ReaderGroup, DataSetReader, and the receive pipeline that decodes
//     an inbound frame and dispatches it to the matching reader.
//   - eventloop: the cooperative scheduler pubsub runs cyclic ticks,
//     delayed frees and socket readiness callbacks on.
//   - transport: pluggable Channel/Profile implementations for UDP,
//     raw Ethernet and MQTT.
//   - codec: UADP binary and JSON NetworkMessage encode/decode.
//   - security: message-layer signing/encryption policies, key storage
//     and the SKS client that watches for key rollovers.
//   - errors: the module's classified-error type.
//   - metric: Prometheus metric registration shared across packages.
//   - pkg/worker, pkg/buffer, pkg/retry, pkg/timestamp: generic
//     concurrency and utility helpers the packages above are built on.
//   - cmd/pubsubd: the standalone daemon binary.
package open62541
