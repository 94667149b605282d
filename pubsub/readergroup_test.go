package pubsub

import (
	"context"
	"testing"

	"github.com/gauravks/open62541/codec"
	"github.com/gauravks/open62541/security"
	"github.com/stretchr/testify/require"
)

func newTestGroup(parent *Connection, cfg ReaderGroupConfig) *ReaderGroup {
	return newReaderGroup(Identifier(1), parent, cfg.withDefaults(), nil, testLogger())
}

func TestReaderGroupPausedOnlyReachableFromDisabled(t *testing.T) {
	g := newTestGroup(&Connection{}, ReaderGroupConfig{})

	err := g.setState(context.Background(), StatePaused, CauseGood, nil)
	require.NoError(t, err)
	require.Equal(t, StatePaused, g.state)

	g.state = StatePreOperational
	err = g.setState(context.Background(), StatePaused, CauseGood, nil)
	require.Error(t, err)
}

func TestReaderGroupOperationalOnlyReachableFromPreOperational(t *testing.T) {
	g := newTestGroup(&Connection{}, ReaderGroupConfig{})

	err := g.setState(context.Background(), StateOperational, CauseGood, nil)
	require.Error(t, err)

	g.state = StatePreOperational
	g.parent.state = StatePreOperational
	err = g.setState(context.Background(), StateOperational, CauseGood, nil)
	require.NoError(t, err)
	require.Equal(t, StateOperational, g.state)
}

func TestReaderGroupPreOperationalRequiresParentNotDisabled(t *testing.T) {
	g := newTestGroup(&Connection{}, ReaderGroupConfig{})
	g.parent.state = StateDisabled

	err := g.setState(context.Background(), StatePreOperational, CauseGood, nil)
	require.Error(t, err)

	g.parent.state = StateOperational
	err = g.setState(context.Background(), StatePreOperational, CauseGood, nil)
	require.NoError(t, err)
}

func TestReaderGroupCascadeFromDrivesChildrenToSameState(t *testing.T) {
	g := newTestGroup(&Connection{}, ReaderGroupConfig{})
	r := newDataSetReader(Identifier(2), g, DataSetReaderConfig{}, testLogger())
	r.state = StateOperational
	g.readers = []*DataSetReader{r}
	g.state = StateOperational

	var got []State
	cb := func(id Identifier, kind EntityKind, s State, cause Cause) { got = append(got, s) }

	g.cascadeFrom(StateDisabled, CauseResourceUnavailable, cb)

	require.Equal(t, StateDisabled, g.state)
	require.Equal(t, StateDisabled, r.state)
	require.Equal(t, CauseResourceUnavailable, r.cause)
	require.Contains(t, got, StateDisabled)
}

func TestReaderGroupFreezeFixedSizeRejectsMultipleReaders(t *testing.T) {
	g := newTestGroup(&Connection{}, ReaderGroupConfig{RTLevel: RTFixedSize, Encoding: codec.EncodingUADP})
	g.readers = []*DataSetReader{
		newDataSetReader(1, g, DataSetReaderConfig{}, testLogger()),
		newDataSetReader(2, g, DataSetReaderConfig{}, testLogger()),
	}

	err := g.freeze()
	require.Error(t, err)
	require.False(t, g.configurationFrozen)
}

func TestReaderGroupFreezeFixedSizeRejectsNonNumericPublisher(t *testing.T) {
	g := newTestGroup(&Connection{}, ReaderGroupConfig{RTLevel: RTFixedSize, Encoding: codec.EncodingUADP})
	g.readers = []*DataSetReader{
		newDataSetReader(1, g, DataSetReaderConfig{
			PublisherID: codec.PublisherID{Text: "station-a", IsString: true},
			Fields:      []FieldConfig{{Name: "v", Type: FieldNumeric, Width: 4}},
		}, testLogger()),
	}

	err := g.freeze()
	require.Error(t, err)
}

func TestReaderGroupFreezeFixedSizeAcceptsEligibleConfiguration(t *testing.T) {
	g := newTestGroup(&Connection{}, ReaderGroupConfig{RTLevel: RTFixedSize, Encoding: codec.EncodingUADP})
	g.readers = []*DataSetReader{
		newDataSetReader(1, g, DataSetReaderConfig{
			PublisherID: numericPublisher(1),
			Fields:      []FieldConfig{{Name: "v", Type: FieldNumeric, Width: 4}},
		}, testLogger()),
	}

	err := g.freeze()
	require.NoError(t, err)
	require.True(t, g.configurationFrozen)
	require.Equal(t, 1, g.parent.freezeCounter)
	require.True(t, g.readers[0].frozen)

	g.unfreeze()
	require.False(t, g.configurationFrozen)
	require.Equal(t, 0, g.parent.freezeCounter)
}

func TestReaderGroupSetEncryptionKeysRequiresUADP(t *testing.T) {
	g := newTestGroup(&Connection{}, ReaderGroupConfig{
		Encoding:        codec.EncodingJSON,
		SecurityPolicy:  security.NewAESGCMPolicy(),
		SecurityGroupID: "sg-1",
	})
	g.keyStorage = security.NewKeyStorage("sg-1")

	err := g.setEncryptionKeys(security.KeySet{TokenID: 1, SigningKey: make([]byte, 32), EncryptingKey: make([]byte, 32), Nonce: make([]byte, 12)})
	require.Error(t, err)
}

func TestReaderGroupSetEncryptionKeysInstallsOnSharedContext(t *testing.T) {
	g := newTestGroup(&Connection{}, ReaderGroupConfig{
		Encoding:        codec.EncodingUADP,
		SecurityPolicy:  security.NewAESGCMPolicy(),
		SecurityGroupID: "sg-1",
	})
	g.keyStorage = security.NewKeyStorage("sg-1")

	ks := security.KeySet{TokenID: 3, SigningKey: make([]byte, 32), EncryptingKey: make([]byte, 32), Nonce: make([]byte, 12)}
	err := g.setEncryptionKeys(ks)
	require.NoError(t, err)
	require.Equal(t, uint32(3), g.keyStorage.Context().TokenID())
}
