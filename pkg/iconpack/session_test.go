package iconpack

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSession_Isolation(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	a, err := newSession(root)
	require.NoError(t, err)
	b, err := newSession(root)
	require.NoError(t, err)

	require.NotEqual(t, a.ID, b.ID)
	require.NotEqual(t, a.Dir(), b.Dir())
	require.DirExists(t, a.Dir())

	require.NoError(t, a.Cleanup())
	require.NoDirExists(t, a.Dir())
	require.DirExists(t, b.Dir())
	require.NoError(t, b.Cleanup())

	left, err := os.ReadDir(root)
	require.NoError(t, err)
	require.Empty(t, left)
}

func TestSession_NilMasks(t *testing.T) {
	t.Parallel()

	s, err := newSession(t.TempDir())
	require.NoError(t, err)
	defer s.Cleanup()

	s.SetMasks(nil)
	require.Nil(t, s.Masks())
	s.SetMasks(&CustomMaskAssets{})
	require.Nil(t, s.Masks())
}
