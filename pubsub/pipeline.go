package pubsub

import (
	"time"

	"github.com/gauravks/open62541/codec"
	"github.com/gauravks/open62541/errors"
	"github.com/gauravks/open62541/security"
)

// onInboundFrame is the entry point for transports that share one
// channel across every ReaderGroup (UDP, Ethernet): the owning group
// is unknown until headers are decoded, so processBuffer resolves it
// per NetworkMessage via selectReaderGroup. It acquires the service
// mutex, so callers must not already hold it.
func (m *Manager) onInboundFrame(conn *Connection, buffer []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processBuffer(conn, nil, buffer)
}

// onInboundFrameForTopic is the entry point for transports that
// multiplex distinct ReaderGroups over per-topic channels (MQTT): the
// queueName a frame arrived on already identifies its group via the
// topics table registered in AddReaderGroup, so header-based
// selection can be skipped in favor of that direct match. A queueName
// with no (or a stale) registration falls back to onInboundFrame's
// header-scan behavior.
func (m *Manager) onInboundFrameForTopic(conn *Connection, queueName string, buffer []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	groupID, ok := m.topics[queueName]
	if !ok {
		m.processBuffer(conn, nil, buffer)
		return
	}
	group, err := m.findReaderGroupLocked(groupID)
	if err != nil || group.parent != conn {
		m.processBuffer(conn, nil, buffer)
		return
	}
	m.processBuffer(conn, group, buffer)
}

// processBuffer implements the receive pipeline (spec §4.5) for one
// inbound buffer, which may contain several concatenated
// NetworkMessages: decode headers, select a reader-group's security
// context, verify+decrypt, decode the payload, dispatch to matching
// readers, and loop while bytes remain (edge case c: partial buffer
// advances pos). pinned, when non-nil, is the group the buffer's
// topic already resolved to and is used instead of a header scan.
func (m *Manager) processBuffer(conn *Connection, pinned *ReaderGroup, buffer []byte) {
	pos := 0
	cdc := codec.For(conn.encoding)

	for pos < len(buffer) {
		if m.metrics != nil {
			m.metrics.RecordFrameReceived(conn.id.String())
		}

		start := time.Now()
		headers, offset, err := cdc.DecodeHeaders(buffer[pos:])
		if m.metrics != nil {
			m.metrics.RecordPipelineStage("decode_headers", time.Since(start))
		}
		if err != nil {
			// Bad framing on one datagram must not tear down the
			// connection or its multicast peers — log and stop
			// processing this buffer.
			m.logger.Warn("discarding frame: header decode failed", "connection", conn.id, "error", err)
			if m.metrics != nil {
				m.metrics.RecordFrameDropped(conn.id.String(), "decode_headers")
			}
			return
		}
		if m.metrics != nil {
			m.metrics.RecordFrameDecoded(conn.id.String())
		}

		group := pinned
		if group == nil {
			group = m.selectReaderGroup(conn, headers)
		}
		rest := buffer[pos+offset:]
		secured := group != nil && group.config.SecurityMode != security.ModeNone

		var payload []byte
		switch {
		case group != nil:
			decrypted, err := m.verifyAndDecrypt(group, headers, rest)
			if err != nil {
				// The frame is dropped, but without decrypting it we
				// cannot know where it ends within a concatenated
				// buffer — stop processing the rest of this buffer
				// rather than guess a boundary.
				m.logger.Warn("discarding frame: verify/decrypt failed", "connection", conn.id, "readergroup", group.id, "error", err)
				if m.metrics != nil {
					m.metrics.RecordFrameDropped(conn.id.String(), "security")
					m.metrics.RecordDecryptFailure(group.id.String())
				}
				return
			}
			payload = decrypted

		case requiresSecurityAnywhere(conn):
			// Edge case (b): no reader matched, but some reader-group
			// on this connection mandates security. Nothing can
			// verify this frame, so it is dropped; the buffer cannot
			// be processed further without the frame boundary a
			// successful decrypt would reveal.
			if m.metrics != nil {
				m.metrics.RecordFrameDropped(conn.id.String(), "no_security_context")
			}
			return

		default:
			payload = rest
		}

		dataSets, err := cdc.DecodePayload(headers, payload)
		if err != nil {
			m.logger.Warn("discarding frame: payload decode failed", "connection", conn.id, "error", err)
			if m.metrics != nil {
				m.metrics.RecordFrameDropped(conn.id.String(), "decode_payload")
			}
			return
		}

		// Edge case (a): zero readers still decodes and discards —
		// dispatch is a no-op when nothing matches.
		m.dispatch(conn, headers, dataSets)

		if secured {
			// A secured NetworkMessage occupies the rest of the
			// buffer; concatenating multiple secured messages into one
			// buffer is not supported.
			pos = len(buffer)
		} else {
			pos += offset + payloadConsumed(conn.encoding, payload, dataSets)
		}
	}
}

// payloadConsumed reports how many payload bytes the just-decoded
// message occupied, so processBuffer can advance pos to the next
// concatenated NetworkMessage. UADP payloads are a sequence of
// length-prefixed DataSetMessage blocks, so the consumed length is
// recoverable from the decoded field data; JSON has no such framing
// and always consumes to the end of the buffer.
func payloadConsumed(enc codec.Encoding, payload []byte, dataSets []codec.DataSetMessage) int {
	if enc == codec.EncodingJSON {
		return len(payload)
	}
	consumed := 0
	for _, ds := range dataSets {
		consumed += 4 + len(ds.FieldData)
	}
	return consumed
}

// selectReaderGroup iterates the connection's reader-groups
// newest-first and, within each, its readers newest-first; the first
// reader whose identifier check matches the decoded headers selects
// that reader-group for verify/decrypt (spec §4.5 step 2, "first match
// wins" per the open question resolution).
func (m *Manager) selectReaderGroup(conn *Connection, headers codec.Headers) *ReaderGroup {
	for _, g := range conn.readerGroups {
		for _, r := range g.readers {
			if r.MatchesHeaders(headers) {
				return g
			}
		}
	}
	return nil
}

// requiresSecurityAnywhere reports whether any reader-group on conn
// requires message security, used to decide edge case (b): no match
// but security is mandatory somewhere on this connection.
func requiresSecurityAnywhere(conn *Connection) bool {
	for _, g := range conn.readerGroups {
		if g.config.SecurityMode != security.ModeNone {
			return true
		}
	}
	return false
}

// verifyAndDecrypt runs group's security policy over payload. A group
// with SecurityMode none passes the payload through unchanged.
func (m *Manager) verifyAndDecrypt(group *ReaderGroup, headers codec.Headers, payload []byte) ([]byte, error) {
	if group.config.SecurityMode == security.ModeNone || group.config.SecurityPolicy == nil || group.keyStorage == nil {
		return payload, nil
	}
	return group.config.SecurityPolicy.VerifyAndDecrypt(group.keyStorage.Context(), group.config.SecurityMode, payload)
}

// dispatch hands each DataSetMessage to every reader, across every
// reader-group on conn, whose identifier check matches both the
// NetworkMessage headers and that DataSetMessage's writer id. First
// successful dispatch promotes the reader and its group to
// Operational.
func (m *Manager) dispatch(conn *Connection, headers codec.Headers, dataSets []codec.DataSetMessage) {
	for _, g := range conn.readerGroups {
		for _, r := range g.readers {
			if !r.MatchesHeaders(headers) {
				continue
			}
			for _, ds := range dataSets {
				delivered, err := r.dispatch(ds)
				if err != nil {
					m.logger.Warn("dataset decode failed", "reader", r.id, "error", err)
					r.setState(StateError, CauseInternalError, m.callback)
					if m.metrics != nil {
						kind, ok := errors.KindOf(err)
						if !ok {
							kind = errors.KindInternalError
						}
						m.metrics.RecordError("reader", kind.String())
					}
					continue
				}
				if !delivered {
					continue
				}
				if m.metrics != nil {
					m.metrics.RecordDataSetDelivered(r.id.String(), "dispatch")
				}
				r.promoteOnFirstDispatch(m.callback)
				g.promoteOnFirstDispatch(m.callback)
			}
		}
	}
}

