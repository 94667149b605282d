package codec

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJSONRoundTrip(t *testing.T) {
	msg := &NetworkMessage{
		Headers: Headers{
			Version:       1,
			PublisherID:   PublisherID{Text: "pub-1", IsString: true},
			WriterGroupID: 5,
		},
		DataSets: []DataSetMessage{
			{DataSetWriterID: 1, FieldData: []byte(`{"temperature":21.5}`)},
		},
	}

	c := &JSONCodec{}
	frame, err := c.Encode(msg)
	require.NoError(t, err)

	headers, _, err := c.DecodeHeaders(frame)
	require.NoError(t, err)
	require.True(t, headers.PublisherID.IsString)
	require.Equal(t, "pub-1", headers.PublisherID.Text)
	require.Equal(t, []uint16{1}, headers.DataSetWriterIDs)

	dataSets, err := c.DecodePayload(headers, frame)
	require.NoError(t, err)
	require.Len(t, dataSets, 1)
	require.JSONEq(t, `{"temperature":21.5}`, string(dataSets[0].FieldData))
}

func TestJSONDecodeHeadersNumericPublisherID(t *testing.T) {
	msg := &NetworkMessage{Headers: Headers{PublisherID: PublisherID{Numeric: 77}}}
	c := &JSONCodec{}
	frame, err := c.Encode(msg)
	require.NoError(t, err)

	headers, _, err := c.DecodeHeaders(frame)
	require.NoError(t, err)
	require.False(t, headers.PublisherID.IsString)
	require.Equal(t, uint32(77), headers.PublisherID.Numeric)
}

func TestForSelectsCodecByEncoding(t *testing.T) {
	require.IsType(t, &UADPCodec{}, For(EncodingUADP))
	require.IsType(t, &JSONCodec{}, For(EncodingJSON))
}
