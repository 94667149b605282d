package pubsub

import (
	"fmt"
	"sync"
)

// fieldSlot is one field's position in a DataSetMessage's field-data
// blob once that blob's layout is known.
type fieldSlot struct {
	offset int
	length int
	// varLength is true for a String/ByteString field: its stored
	// length is length-prefixed within the blob rather than fixed by
	// config, so decode must read a 4-byte prefix at offset before the
	// value.
	varLength bool
}

// OffsetBuffer decodes a DataSetReader's field-data blob. In FIXED_SIZE
// mode every field has a config-determined fixed width, so the layout
// is built once, lazily, from the first received frame and every
// later decode is a direct slice — no parsing. Outside FIXED_SIZE mode
// Decode always walks the blob field by field.
type OffsetBuffer struct {
	mu      sync.Mutex
	built   bool
	fast    bool
	slots   []fieldSlot
	fields  []FieldConfig
}

// NewOffsetBuffer creates an unbuilt buffer for the given field layout.
// fast selects the precomputed-offset path; it is only valid when every
// field has a fixed width (checked by ValidateFixedSize at freeze
// time).
func NewOffsetBuffer(fields []FieldConfig, fast bool) *OffsetBuffer {
	return &OffsetBuffer{fields: fields, fast: fast}
}

// Reset clears a built layout, forcing the next Decode to rebuild it.
// A reader's freeze and unfreeze replace its buffer with a new one
// rather than calling Reset.
func (b *OffsetBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.built = false
	b.slots = nil
}

// build computes each field's slot from the fixed-width layout. Only
// valid when b.fast — variable-width fields can't be offset-addressed
// ahead of the actual data.
func (b *OffsetBuffer) build() error {
	slots := make([]fieldSlot, len(b.fields))
	offset := 0
	for i, f := range b.fields {
		width, fixed := f.fixedWidth()
		if !fixed {
			return fmt.Errorf("field %q has no fixed width", f.Name)
		}
		slots[i] = fieldSlot{offset: offset, length: width}
		offset += width
	}
	b.slots = slots
	b.built = true
	return nil
}

// Decode splits blob into one []byte per configured field, in field
// order. On the fast path the first call builds the offset table;
// later calls reuse it directly. On the slow path every call walks the
// blob, since field widths may vary per message (bounded or unbounded
// strings).
func (b *OffsetBuffer) Decode(blob []byte) ([][]byte, error) {
	if b.fast {
		return b.decodeFast(blob)
	}
	return b.decodeSlow(blob)
}

func (b *OffsetBuffer) decodeFast(blob []byte) ([][]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.built {
		if err := b.build(); err != nil {
			return nil, err
		}
	}

	out := make([][]byte, len(b.slots))
	for i, slot := range b.slots {
		end := slot.offset + slot.length
		if end > len(blob) {
			return nil, fmt.Errorf("offset buffer: field %d needs %d bytes, blob has %d", i, end, len(blob))
		}
		out[i] = blob[slot.offset:end]
	}
	return out, nil
}

func (b *OffsetBuffer) decodeSlow(blob []byte) ([][]byte, error) {
	out := make([][]byte, len(b.fields))
	pos := 0
	for i, f := range b.fields {
		if width, fixed := f.fixedWidth(); fixed {
			if pos+width > len(blob) {
				return nil, fmt.Errorf("field %q needs %d bytes at offset %d, blob has %d", f.Name, width, pos, len(blob))
			}
			out[i] = blob[pos : pos+width]
			pos += width
			continue
		}

		// Variable-length String/ByteString: 4-byte little-endian
		// length prefix, matching the codec's own length-prefixed
		// framing convention.
		if pos+4 > len(blob) {
			return nil, fmt.Errorf("field %q: truncated length prefix at offset %d", f.Name, pos)
		}
		length := int(blob[pos]) | int(blob[pos+1])<<8 | int(blob[pos+2])<<16 | int(blob[pos+3])<<24
		pos += 4
		if pos+length > len(blob) {
			return nil, fmt.Errorf("field %q: truncated value at offset %d", f.Name, pos)
		}
		out[i] = blob[pos : pos+length]
		pos += length
	}
	return out, nil
}

// ValidateFixedSize checks the FIXED_SIZE eligibility rule for a
// field list (freeze rule 4): every field must be numeric/boolean, or
// a string/byte-string with a configured bound.
func ValidateFixedSize(fields []FieldConfig) error {
	for _, f := range fields {
		if _, fixed := f.fixedWidth(); !fixed {
			return fmt.Errorf("field %q is not eligible for FIXED_SIZE: %s with no fixed width", f.Name, fieldTypeName(f.Type))
		}
	}
	return nil
}

func fieldTypeName(t FieldType) string {
	switch t {
	case FieldNumeric:
		return "numeric"
	case FieldBoolean:
		return "boolean"
	case FieldString:
		return "string"
	case FieldByteString:
		return "byte string"
	default:
		return "unknown"
	}
}
