package codec

import (
	"encoding/binary"
	"fmt"
)

// UADP flag bits (NetworkMessage version+flags byte and ExtendedFlags).
const (
	flagPublisherIDEnabled uint8 = 1 << 4
	flagGroupHeaderEnabled uint8 = 1 << 5
	flagPayloadHeaderEnabled uint8 = 1 << 6
	flagExtendedFlagsEnabled uint8 = 1 << 7

	extFlagPublisherIDString uint8 = 1 << 3
	extFlagSecurityEnabled   uint8 = 1 << 4
)

// UADPCodec implements Codec over the binary, little-endian wire
// format Part 14 defines. All multi-byte fields are little-endian.
type UADPCodec struct{}

// Encode serializes a NetworkMessage to its UADP wire form: a
// version+flags byte, PublisherId, GroupHeader, PayloadHeader, the
// concatenated DataSetMessages, each length-prefixed like the
// length-prefixed framing the rest of the module uses for binary
// wire data.
func (c *UADPCodec) Encode(msg *NetworkMessage) ([]byte, error) {
	var flags uint8 = flagPublisherIDEnabled | flagGroupHeaderEnabled | flagExtendedFlagsEnabled
	if len(msg.DataSets) > 0 {
		flags |= flagPayloadHeaderEnabled
	}

	var extFlags uint8
	if msg.Headers.PublisherID.IsString {
		extFlags |= extFlagPublisherIDString
	}
	if msg.Headers.HasSecurityHeader {
		extFlags |= extFlagSecurityEnabled
	}

	buf := make([]byte, 0, 64+totalFieldLen(msg.DataSets))
	buf = append(buf, msg.Headers.Version&0x0F|flags, extFlags)

	if msg.Headers.PublisherID.IsString {
		buf = appendLengthPrefixedString(buf, msg.Headers.PublisherID.Text)
	} else {
		buf = appendUint32(buf, msg.Headers.PublisherID.Numeric)
	}

	buf = appendUint16(buf, msg.Headers.WriterGroupID)

	if extFlags&extFlagSecurityEnabled != 0 {
		buf = appendUint32(buf, msg.Headers.SecurityTokenID)
		buf = appendLengthPrefixedBytes(buf, msg.Headers.SecurityNonce)
	}

	if flags&flagPayloadHeaderEnabled != 0 {
		buf = append(buf, uint8(len(msg.DataSets)))
		for _, ds := range msg.DataSets {
			buf = appendUint16(buf, ds.DataSetWriterID)
		}
	}

	for _, ds := range msg.DataSets {
		buf = appendLengthPrefixedBytes(buf, ds.FieldData)
	}

	return buf, nil
}

// DecodeHeaders parses the version/flags byte through the
// PayloadHeader's DataSetWriterId list and returns the offset where
// the (possibly encrypted) payload begins.
func (c *UADPCodec) DecodeHeaders(frame []byte) (Headers, int, error) {
	var h Headers
	if len(frame) < 2 {
		return h, 0, fmt.Errorf("uadp: frame too short for header byte")
	}

	flags := frame[0]
	extFlags := frame[1]
	h.Version = flags & 0x0F
	h.HasGroupHeader = flags&flagGroupHeaderEnabled != 0
	h.HasPayloadHeader = flags&flagPayloadHeaderEnabled != 0
	h.HasSecurityHeader = extFlags&extFlagSecurityEnabled != 0

	pos := 2

	if flags&flagPublisherIDEnabled != 0 {
		if extFlags&extFlagPublisherIDString != 0 {
			s, n, err := readLengthPrefixedString(frame, pos)
			if err != nil {
				return h, 0, fmt.Errorf("uadp: publisher id: %w", err)
			}
			h.PublisherID = PublisherID{Text: s, IsString: true}
			pos += n
		} else {
			v, n, err := readUint32(frame, pos)
			if err != nil {
				return h, 0, fmt.Errorf("uadp: publisher id: %w", err)
			}
			h.PublisherID = PublisherID{Numeric: v}
			pos += n
		}
	}

	if h.HasGroupHeader {
		v, n, err := readUint16(frame, pos)
		if err != nil {
			return h, 0, fmt.Errorf("uadp: writer group id: %w", err)
		}
		h.WriterGroupID = v
		pos += n
	}

	if h.HasSecurityHeader {
		tok, n, err := readUint32(frame, pos)
		if err != nil {
			return h, 0, fmt.Errorf("uadp: security token id: %w", err)
		}
		h.SecurityTokenID = tok
		pos += n

		nonce, n, err := readLengthPrefixedBytes(frame, pos)
		if err != nil {
			return h, 0, fmt.Errorf("uadp: security nonce: %w", err)
		}
		h.SecurityNonce = nonce
		pos += n
	}

	if h.HasPayloadHeader {
		if pos >= len(frame) {
			return h, 0, fmt.Errorf("uadp: truncated payload header")
		}
		count := int(frame[pos])
		pos++
		h.DataSetWriterIDs = make([]uint16, count)
		for i := 0; i < count; i++ {
			v, n, err := readUint16(frame, pos)
			if err != nil {
				return h, 0, fmt.Errorf("uadp: dataset writer id %d: %w", i, err)
			}
			h.DataSetWriterIDs[i] = v
			pos += n
		}
	}

	return h, pos, nil
}

// DecodePayload parses the length-prefixed DataSetMessage field-data
// blocks out of the verified/decrypted payload region.
func (c *UADPCodec) DecodePayload(headers Headers, payload []byte) ([]DataSetMessage, error) {
	if len(headers.DataSetWriterIDs) == 0 {
		if len(payload) == 0 {
			return nil, nil
		}
		return nil, fmt.Errorf("uadp: payload present without a PayloadHeader")
	}

	out := make([]DataSetMessage, 0, len(headers.DataSetWriterIDs))
	pos := 0
	for _, writerID := range headers.DataSetWriterIDs {
		data, n, err := readLengthPrefixedBytes(payload, pos)
		if err != nil {
			return nil, fmt.Errorf("uadp: dataset field data for writer %d: %w", writerID, err)
		}
		out = append(out, DataSetMessage{DataSetWriterID: writerID, FieldData: data})
		pos += n
	}
	return out, nil
}

func totalFieldLen(dataSets []DataSetMessage) int {
	n := 0
	for _, ds := range dataSets {
		n += len(ds.FieldData) + 4
	}
	return n
}

func appendUint16(buf []byte, v uint16) []byte {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendUint32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendLengthPrefixedBytes(buf []byte, data []byte) []byte {
	buf = appendUint32(buf, uint32(len(data)))
	return append(buf, data...)
}

func appendLengthPrefixedString(buf []byte, s string) []byte {
	return appendLengthPrefixedBytes(buf, []byte(s))
}

func readUint16(frame []byte, pos int) (uint16, int, error) {
	if pos+2 > len(frame) {
		return 0, 0, fmt.Errorf("truncated uint16 at offset %d", pos)
	}
	return binary.LittleEndian.Uint16(frame[pos : pos+2]), 2, nil
}

func readUint32(frame []byte, pos int) (uint32, int, error) {
	if pos+4 > len(frame) {
		return 0, 0, fmt.Errorf("truncated uint32 at offset %d", pos)
	}
	return binary.LittleEndian.Uint32(frame[pos : pos+4]), 4, nil
}

func readLengthPrefixedBytes(frame []byte, pos int) ([]byte, int, error) {
	length, n, err := readUint32(frame, pos)
	if err != nil {
		return nil, 0, err
	}
	start := pos + n
	end := start + int(length)
	if end > len(frame) {
		return nil, 0, fmt.Errorf("truncated length-prefixed block at offset %d", pos)
	}
	data := make([]byte, length)
	copy(data, frame[start:end])
	return data, n + int(length), nil
}

func readLengthPrefixedString(frame []byte, pos int) (string, int, error) {
	data, n, err := readLengthPrefixedBytes(frame, pos)
	if err != nil {
		return "", 0, err
	}
	return string(data), n, nil
}
