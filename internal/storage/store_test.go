package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestLoadMissingKey(t *testing.T) {
	s := newTestStore(t)
	blob, err := s.Load(SnapshotKey)
	require.NoError(t, err)
	assert.Nil(t, blob)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Save(SnapshotKey, []byte(`{"jobs":[]}`)))

	blob, err := s.Load(SnapshotKey)
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"jobs":[]}`), blob)
}

func TestSaveReplacesPreviousValue(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Save(SnapshotKey, []byte(`one`)))
	require.NoError(t, s.Save(SnapshotKey, []byte(`two`)))

	blob, err := s.Load(SnapshotKey)
	require.NoError(t, err)
	assert.Equal(t, []byte(`two`), blob)
}

func TestKeysAreIndependent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Save("a", []byte(`1`)))
	require.NoError(t, s.Save("b", []byte(`2`)))

	blob, err := s.Load("a")
	require.NoError(t, err)
	assert.Equal(t, []byte(`1`), blob)
}
