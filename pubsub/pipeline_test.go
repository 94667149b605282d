package pubsub

import (
	"testing"

	"github.com/gauravks/open62541/codec"
	"github.com/gauravks/open62541/security"
	"github.com/stretchr/testify/require"
)

func setupManagerWithReader(t *testing.T, readerCfg DataSetReaderConfig) (*Manager, *Connection, *ReaderGroup, *DataSetReader) {
	t.Helper()
	m := newTestManager()
	_, conn := newFakeConnection(t, m)

	groupID, err := m.AddReaderGroup(conn.id, ReaderGroupConfig{})
	require.NoError(t, err)
	group, err := m.FindReaderGroup(groupID)
	require.NoError(t, err)
	group.state = StatePreOperational

	readerID, err := m.AddDataSetReader(groupID, readerCfg)
	require.NoError(t, err)
	reader, err := m.FindDataSetReader(readerID)
	require.NoError(t, err)
	reader.state = StatePreOperational

	return m, conn, group, reader
}

func encodeFrame(t *testing.T, ds ...codec.DataSetMessage) []byte {
	t.Helper()
	frame, err := (&codec.UADPCodec{}).Encode(&codec.NetworkMessage{
		Headers:  codec.Headers{PublisherID: numericPublisher(1)},
		DataSets: ds,
	})
	require.NoError(t, err)
	return frame
}

func TestProcessBufferDispatchesAndPromotesOnFirstFrame(t *testing.T) {
	m, conn, group, reader := setupManagerWithReader(t, DataSetReaderConfig{
		PublisherID:     numericPublisher(1),
		DataSetWriterID: 1,
	})

	frame := encodeFrame(t, codec.DataSetMessage{DataSetWriterID: 1, FieldData: []byte{1, 2, 3, 4}})
	m.processBuffer(conn, nil, frame)

	require.Equal(t, StateOperational, reader.state)
	require.Equal(t, StateOperational, group.state)
}

func TestProcessBufferAdvancesPastConcatenatedMessages(t *testing.T) {
	var delivered int
	m, conn, _, _ := setupManagerWithReader(t, DataSetReaderConfig{
		PublisherID:     numericPublisher(1),
		DataSetWriterID: 1,
		Fields:          []FieldConfig{{Name: "v", Type: FieldNumeric, Width: 4}},
		TargetVariables: []TargetVariable{{FieldIndex: 0, Write: func(data []byte) error {
			delivered++
			return nil
		}}},
	})

	first := encodeFrame(t, codec.DataSetMessage{DataSetWriterID: 1, FieldData: []byte{1, 0, 0, 0}})
	second := encodeFrame(t, codec.DataSetMessage{DataSetWriterID: 1, FieldData: []byte{2, 0, 0, 0}})
	buffer := append(append([]byte{}, first...), second...)

	m.processBuffer(conn, nil, buffer)

	require.Equal(t, 2, delivered, "both concatenated messages must be dispatched")
}

func TestProcessBufferZeroReadersDecodesAndDiscards(t *testing.T) {
	m := newTestManager()
	_, conn := newFakeConnection(t, m)

	frame := encodeFrame(t, codec.DataSetMessage{DataSetWriterID: 1, FieldData: []byte{1, 2, 3, 4}})
	require.NotPanics(t, func() { m.processBuffer(conn, nil, frame) })
}

func TestProcessBufferDropsFrameWhenSecurityRequiredButNoMatch(t *testing.T) {
	m := newTestManager()
	_, conn := newFakeConnection(t, m)

	groupID, err := m.AddReaderGroup(conn.id, ReaderGroupConfig{
		SecurityMode:    security.ModeSignAndEncrypt,
		SecurityGroupID: "sg-1",
		SecurityPolicy:  security.NewAESGCMPolicy(),
	})
	require.NoError(t, err)
	_, err = m.AddDataSetReader(groupID, DataSetReaderConfig{
		PublisherID:     numericPublisher(99), // deliberately non-matching
		DataSetWriterID: 7,
	})
	require.NoError(t, err)

	frame := encodeFrame(t, codec.DataSetMessage{DataSetWriterID: 1, FieldData: []byte{1, 2, 3, 4}})
	require.NotPanics(t, func() { m.processBuffer(conn, nil, frame) })
}

func TestProcessBufferDropsFrameOnDecryptFailure(t *testing.T) {
	m, conn, group, _ := setupManagerWithReader(t, DataSetReaderConfig{
		PublisherID:     numericPublisher(1),
		DataSetWriterID: 1,
	})
	group.config.SecurityMode = security.ModeSignAndEncrypt
	group.config.SecurityPolicy = security.NewAESGCMPolicy()
	group.keyStorage = security.NewKeyStorage("sg-1")
	// No keys installed: VerifyAndDecrypt must fail, and the frame is
	// dropped rather than decoded as plaintext.

	frame := encodeFrame(t, codec.DataSetMessage{DataSetWriterID: 1, FieldData: []byte{1, 2, 3, 4}})
	require.NotPanics(t, func() { m.processBuffer(conn, nil, frame) })
}

func TestSelectReaderGroupPicksNewestFirstOnMultipleMatches(t *testing.T) {
	m := newTestManager()
	connID, conn := newFakeConnection(t, m)

	olderGroup, err := m.AddReaderGroup(connID, ReaderGroupConfig{})
	require.NoError(t, err)
	_, err = m.AddDataSetReader(olderGroup, DataSetReaderConfig{PublisherID: numericPublisher(1), DataSetWriterID: 1})
	require.NoError(t, err)

	newerGroup, err := m.AddReaderGroup(connID, ReaderGroupConfig{})
	require.NoError(t, err)
	_, err = m.AddDataSetReader(newerGroup, DataSetReaderConfig{PublisherID: numericPublisher(1), DataSetWriterID: 1})
	require.NoError(t, err)

	h := codec.Headers{PublisherID: numericPublisher(1), DataSetWriterIDs: []uint16{1}}
	selected := m.selectReaderGroup(conn, h)
	require.NotNil(t, selected)
	require.Equal(t, newerGroup, selected.id)
}

func TestOnInboundFrameForTopicRoutesByRegisteredQueueName(t *testing.T) {
	m := newTestManager()
	_, conn := newFakeConnection(t, m)

	groupID, err := m.AddReaderGroup(conn.id, ReaderGroupConfig{QueueName: "press-1/telemetry"})
	require.NoError(t, err)
	group, err := m.FindReaderGroup(groupID)
	require.NoError(t, err)
	group.state = StatePreOperational

	readerID, err := m.AddDataSetReader(groupID, DataSetReaderConfig{
		PublisherID:     numericPublisher(1),
		DataSetWriterID: 1,
	})
	require.NoError(t, err)
	reader, err := m.FindDataSetReader(readerID)
	require.NoError(t, err)
	reader.state = StatePreOperational

	frame := encodeFrame(t, codec.DataSetMessage{DataSetWriterID: 1, FieldData: []byte{1, 2, 3, 4}})
	m.onInboundFrameForTopic(conn, "press-1/telemetry", frame)

	require.Equal(t, StateOperational, reader.state)
	require.Equal(t, StateOperational, group.state)
}

func TestOnInboundFrameForTopicFallsBackOnUnknownQueueName(t *testing.T) {
	m, conn, group, reader := setupManagerWithReader(t, DataSetReaderConfig{
		PublisherID:     numericPublisher(1),
		DataSetWriterID: 1,
	})

	frame := encodeFrame(t, codec.DataSetMessage{DataSetWriterID: 1, FieldData: []byte{1, 2, 3, 4}})
	m.onInboundFrameForTopic(conn, "unregistered/topic", frame)

	require.Equal(t, StateOperational, reader.state)
	require.Equal(t, StateOperational, group.state)
}

func TestOnInboundFrameAcquiresLock(t *testing.T) {
	m, conn, _, _ := setupManagerWithReader(t, DataSetReaderConfig{
		PublisherID:     numericPublisher(1),
		DataSetWriterID: 1,
	})

	frame := encodeFrame(t, codec.DataSetMessage{DataSetWriterID: 1, FieldData: []byte{1, 2, 3, 4}})

	locked := make(chan struct{})
	go func() {
		m.mu.Lock()
		close(locked)
	}()
	<-locked
	// onInboundFrame must block until the goroutine above releases m.mu.
	done := make(chan struct{})
	go func() {
		m.onInboundFrame(conn, frame)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("onInboundFrame proceeded while m.mu was held")
	default:
	}
	m.mu.Unlock()
	<-done
}
