package pubsub

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStateRankOrdering(t *testing.T) {
	require.Less(t, StateDisabled.rank(), StatePaused.rank())
	require.Less(t, StatePaused.rank(), StatePreOperational.rank())
	require.Less(t, StatePreOperational.rank(), StateOperational.rank())
}

func TestStateDominatedByRespectsLattice(t *testing.T) {
	require.True(t, StateDisabled.dominatedBy(StateOperational))
	require.True(t, StatePreOperational.dominatedBy(StatePreOperational))
	require.False(t, StateOperational.dominatedBy(StatePreOperational))
}

func TestStateDominatedByErrorIsOrthogonal(t *testing.T) {
	require.True(t, StateError.dominatedBy(StateDisabled))
	require.True(t, StateOperational.dominatedBy(StateError))
}

func TestStateString(t *testing.T) {
	require.Equal(t, "Operational", StateOperational.String())
	require.Equal(t, "Error", StateError.String())
}
