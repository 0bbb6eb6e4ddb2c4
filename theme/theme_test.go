package theme

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"echomemo/kv"
)

func TestLoadDefaults(t *testing.T) {
	backend := kv.NewMemory()
	s := NewStore(backend)

	got, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, "brownWhite", got.ID)

	require.NoError(t, backend.Set(Key, []byte("{broken")))
	got, err = s.Load()
	assert.Error(t, err)
	assert.Equal(t, Default(), got)

	require.NoError(t, backend.Set(Key, []byte(`{"id":"x"}`)))
	got, err = s.Load()
	assert.Error(t, err)
	assert.Equal(t, Default(), got)
}

func TestSaveLoad(t *testing.T) {
	s := NewStore(kv.NewMemory())
	sky, ok := ByID("blueWhite")
	require.True(t, ok)
	require.NoError(t, s.Save(sky))

	got, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, sky, got)
}

func TestNextWraps(t *testing.T) {
	assert.Equal(t, Presets[0], Next(Default()))
	assert.Equal(t, Presets[1], Next(Presets[0]))
	assert.Equal(t, Presets[0], Next(Theme{ID: "unknown"}))
}
