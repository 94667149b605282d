package codec

import (
	"encoding/json"
	"fmt"
)

// jsonNetworkMessage mirrors NetworkMessage using the equivalent JSON
// schema Part 14 defines for the JSON encoding variant.
type jsonNetworkMessage struct {
	MessageVersion int                  `json:"Version"`
	PublisherID    json.RawMessage      `json:"PublisherId"`
	WriterGroupID  uint16               `json:"WriterGroupId,omitempty"`
	SecurityTokenID *uint32             `json:"SecurityTokenId,omitempty"`
	SecurityNonce  []byte               `json:"SecurityNonce,omitempty"`
	Messages       []jsonDataSetMessage `json:"Messages"`
}

type jsonDataSetMessage struct {
	DataSetWriterID uint16          `json:"DataSetWriterId"`
	Payload         json.RawMessage `json:"Payload"`
}

// JSONCodec implements Codec over the JSON NetworkMessage schema. Its
// DecodeHeaders must parse the whole document (JSON has no
// field-at-a-time seek), unlike UADP's incremental binary parse.
type JSONCodec struct{}

func (c *JSONCodec) Encode(msg *NetworkMessage) ([]byte, error) {
	wire := jsonNetworkMessage{
		MessageVersion: int(msg.Headers.Version),
		WriterGroupID:  msg.Headers.WriterGroupID,
	}

	var err error
	if msg.Headers.PublisherID.IsString {
		wire.PublisherID, err = json.Marshal(msg.Headers.PublisherID.Text)
	} else {
		wire.PublisherID, err = json.Marshal(msg.Headers.PublisherID.Numeric)
	}
	if err != nil {
		return nil, fmt.Errorf("json: marshal publisher id: %w", err)
	}

	if msg.Headers.HasSecurityHeader {
		tok := msg.Headers.SecurityTokenID
		wire.SecurityTokenID = &tok
		wire.SecurityNonce = msg.Headers.SecurityNonce
	}

	for _, ds := range msg.DataSets {
		wire.Messages = append(wire.Messages, jsonDataSetMessage{
			DataSetWriterID: ds.DataSetWriterID,
			Payload:         json.RawMessage(ds.FieldData),
		})
	}

	return json.Marshal(wire)
}

func (c *JSONCodec) DecodeHeaders(frame []byte) (Headers, int, error) {
	var wire jsonNetworkMessage
	if err := json.Unmarshal(frame, &wire); err != nil {
		return Headers{}, 0, fmt.Errorf("json: decode headers: %w", err)
	}

	h := Headers{
		Version:          uint8(wire.MessageVersion),
		WriterGroupID:    wire.WriterGroupID,
		HasGroupHeader:   true,
		HasPayloadHeader: len(wire.Messages) > 0,
	}

	pubID, err := decodePublisherID(wire.PublisherID)
	if err != nil {
		return Headers{}, 0, fmt.Errorf("json: publisher id: %w", err)
	}
	h.PublisherID = pubID

	if wire.SecurityTokenID != nil {
		h.HasSecurityHeader = true
		h.SecurityTokenID = *wire.SecurityTokenID
		h.SecurityNonce = wire.SecurityNonce
	}

	for _, m := range wire.Messages {
		h.DataSetWriterIDs = append(h.DataSetWriterIDs, m.DataSetWriterID)
	}

	// JSON carries the full document; DecodePayload re-parses it, so
	// the "payload offset" this codec returns is 0 — the caller passes
	// the whole frame through verification/decryption as one blob.
	return h, 0, nil
}

func (c *JSONCodec) DecodePayload(headers Headers, payload []byte) ([]DataSetMessage, error) {
	var wire jsonNetworkMessage
	if err := json.Unmarshal(payload, &wire); err != nil {
		return nil, fmt.Errorf("json: decode payload: %w", err)
	}

	out := make([]DataSetMessage, 0, len(wire.Messages))
	for _, m := range wire.Messages {
		out = append(out, DataSetMessage{
			DataSetWriterID: m.DataSetWriterID,
			FieldData:       []byte(m.Payload),
		})
	}
	return out, nil
}

func decodePublisherID(raw json.RawMessage) (PublisherID, error) {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return PublisherID{Text: asString, IsString: true}, nil
	}

	var asNumber uint32
	if err := json.Unmarshal(raw, &asNumber); err == nil {
		return PublisherID{Numeric: asNumber}, nil
	}

	return PublisherID{}, fmt.Errorf("publisher id is neither a string nor a number")
}
