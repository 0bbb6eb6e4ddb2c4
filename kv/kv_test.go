package kv

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]Store {
	t.Helper()
	dir, err := OpenDir(t.TempDir())
	require.NoError(t, err)
	lite, err := OpenSQLite(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { lite.Close() })
	return map[string]Store{
		"memory": NewMemory(),
		"file":   dir,
		"sqlite": lite,
	}
}

func TestStoreGetSet(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, ok, err := s.Get("missing")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, s.Set("echomemo_data", []byte(`[1]`)))
			require.NoError(t, s.Set("echomemo_data", []byte(`[1,2]`)))

			got, ok, err := s.Get("echomemo_data")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, `[1,2]`, string(got))
		})
	}
}

func TestSQLitePersistsAcrossOpen(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenSQLite(dir)
	require.NoError(t, err)
	require.NoError(t, s.Set("k", []byte("v")))
	require.NoError(t, s.Close())

	s, err = OpenSQLite(dir)
	require.NoError(t, err)
	defer s.Close()
	got, ok, err := s.Get("k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", string(got))
}

func TestDirRejectsBadKeys(t *testing.T) {
	d, err := OpenDir(t.TempDir())
	require.NoError(t, err)
	for _, key := range []string{"", "..", "a/b", `a\b`} {
		assert.Error(t, d.Set(key, []byte("x")), "key %q", key)
	}
}

func TestDirLeavesNoTempFiles(t *testing.T) {
	root := t.TempDir()
	d, err := OpenDir(root)
	require.NoError(t, err)
	require.NoError(t, d.Set("echomemo_theme", []byte("{}")))

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "echomemo_theme.json", entries[0].Name())
	_, err = os.Stat(filepath.Join(root, "echomemo_theme.json"))
	assert.NoError(t, err)
}

func TestMemoryFailWrites(t *testing.T) {
	m := NewMemory()
	m.FailWrites = errors.New("disk full")
	err := m.Set("k", []byte("v"))
	assert.ErrorIs(t, err, ErrPersistenceUnavailable)
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := Open("redis", t.TempDir())
	assert.Error(t, err)
}
