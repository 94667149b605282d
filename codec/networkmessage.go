// Package codec implements the wire encoding for OPC UA PubSub
// NetworkMessages: UADP (fixed-endian binary, bit-exact with Part 14)
// and an equivalent JSON schema.
package codec

import "fmt"

// PublisherID carries either variant the Connection config allows: a
// numeric id or a string id.
type PublisherID struct {
	Numeric  uint32
	Text     string
	IsString bool
}

func (p PublisherID) Equal(other PublisherID) bool {
	if p.IsString != other.IsString {
		return false
	}
	if p.IsString {
		return p.Text == other.Text
	}
	return p.Numeric == other.Numeric
}

func (p PublisherID) String() string {
	if p.IsString {
		return p.Text
	}
	return fmt.Sprintf("%d", p.Numeric)
}

// Headers are the fields the receive pipeline's step 1 decodes before
// any ReaderGroup is selected: enough to demultiplex on PublisherId,
// WriterGroupId and DataSetWriterId without touching the payload.
type Headers struct {
	Version       uint8
	PublisherID   PublisherID
	WriterGroupID uint16

	HasGroupHeader    bool
	HasPayloadHeader  bool
	HasSecurityHeader bool

	DataSetWriterIDs []uint16 // one per DataSetMessage, from PayloadHeader
	SecurityTokenID  uint32
	SecurityNonce    []byte
}

// DataSetMessage is one decoded payload entry: the writer id it
// belongs to, plus the field bytes a DataSetReader's offset buffer or
// field-by-field decoder consumes.
type DataSetMessage struct {
	DataSetWriterID uint16
	FieldData       []byte
}

// NetworkMessage is a fully decoded frame: headers and one or more
// DataSetMessages. Footer bytes (the signature, when present) are
// stripped by the security layer before this point and are not kept.
type NetworkMessage struct {
	Headers     Headers
	DataSets    []DataSetMessage
}

// Encoding selects which codec a connection's transport profile binds
// to — set by transport.Resolve from the profile URI scheme.
type Encoding int

const (
	EncodingUADP Encoding = iota
	EncodingJSON
)

// Codec turns NetworkMessages into wire bytes and back.
type Codec interface {
	Encode(msg *NetworkMessage) ([]byte, error)

	// DecodeHeaders parses only the fields needed to select a
	// ReaderGroup (step 1 of the receive pipeline) and returns the
	// byte offset where the security-protected payload begins.
	DecodeHeaders(frame []byte) (Headers, int, error)

	// DecodePayload parses the DataSetMessages out of the
	// (already verified/decrypted) payload region.
	DecodePayload(headers Headers, payload []byte) ([]DataSetMessage, error)
}

// For selects the Codec matching an Encoding.
func For(enc Encoding) Codec {
	switch enc {
	case EncodingJSON:
		return &JSONCodec{}
	default:
		return &UADPCodec{}
	}
}
