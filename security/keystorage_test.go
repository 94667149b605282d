package security

import (
	"testing"

	"github.com/gauravks/open62541/errors"
	"github.com/stretchr/testify/require"
)

func TestKeyStorageRefCounting(t *testing.T) {
	ks := NewKeyStorage("group-1")
	ks.Attach()
	ks.Attach()
	require.Equal(t, 2, ks.RefCount())

	require.False(t, ks.Detach())
	require.Equal(t, 1, ks.RefCount())
	require.True(t, ks.Detach())
	require.Equal(t, 0, ks.RefCount())
}

func TestKeyStorageInstallKeysRequiresPolicy(t *testing.T) {
	ks := NewKeyStorage("group-1")
	err := ks.InstallKeys(nil, KeySet{TokenID: 1})
	require.Error(t, err)

	kind, ok := errors.KindOf(err)
	require.True(t, ok)
	require.Equal(t, errors.KindInternalError, kind)
}
