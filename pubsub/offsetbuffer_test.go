package pubsub

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func fixedFields() []FieldConfig {
	return []FieldConfig{
		{Name: "temperature", Type: FieldNumeric, Width: 4},
		{Name: "alarm", Type: FieldBoolean, Width: 1},
	}
}

func TestOffsetBufferSlowPathFixedWidth(t *testing.T) {
	buf := NewOffsetBuffer(fixedFields(), false)

	blob := make([]byte, 5)
	binary.LittleEndian.PutUint32(blob[0:4], 42)
	blob[4] = 1

	fields, err := buf.Decode(blob)
	require.NoError(t, err)
	require.Len(t, fields, 2)
	require.Equal(t, uint32(42), binary.LittleEndian.Uint32(fields[0]))
	require.Equal(t, byte(1), fields[1][0])
}

func TestOffsetBufferFastPathBuildsOnceThenReuses(t *testing.T) {
	buf := NewOffsetBuffer(fixedFields(), true)

	blob := make([]byte, 5)
	binary.LittleEndian.PutUint32(blob[0:4], 7)
	blob[4] = 0

	_, err := buf.Decode(blob)
	require.NoError(t, err)
	require.True(t, buf.built)

	fields, err := buf.Decode(blob)
	require.NoError(t, err)
	require.Equal(t, uint32(7), binary.LittleEndian.Uint32(fields[0]))
}

func TestOffsetBufferFastPathRejectsVariableWidthAtBuild(t *testing.T) {
	buf := NewOffsetBuffer([]FieldConfig{{Name: "name", Type: FieldString}}, true)
	_, err := buf.Decode([]byte{0, 0, 0, 0})
	require.Error(t, err)
}

func TestOffsetBufferSlowPathVariableLengthString(t *testing.T) {
	fields := []FieldConfig{{Name: "label", Type: FieldString}}
	buf := NewOffsetBuffer(fields, false)

	value := []byte("hello")
	blob := make([]byte, 4+len(value))
	binary.LittleEndian.PutUint32(blob[0:4], uint32(len(value)))
	copy(blob[4:], value)

	out, err := buf.Decode(blob)
	require.NoError(t, err)
	require.Equal(t, value, out[0])
}

func TestOffsetBufferResetForcesRebuild(t *testing.T) {
	buf := NewOffsetBuffer(fixedFields(), true)
	blob := make([]byte, 5)

	_, err := buf.Decode(blob)
	require.NoError(t, err)
	require.True(t, buf.built)

	buf.Reset()
	require.False(t, buf.built)
}

func TestValidateFixedSizeRejectsUnboundedString(t *testing.T) {
	err := ValidateFixedSize([]FieldConfig{{Name: "name", Type: FieldString}})
	require.Error(t, err)
}

func TestValidateFixedSizeAcceptsBoundedStringAndNumeric(t *testing.T) {
	err := ValidateFixedSize([]FieldConfig{
		{Name: "name", Type: FieldString, MaxLength: 16},
		{Name: "count", Type: FieldNumeric, Width: 4},
	})
	require.NoError(t, err)
}
