package lodindex

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPackUnpackRoundTrip(t *testing.T) {
	d := Descriptor{Generated: true, HeightDiv16: 9, BiomeCategory: 5}
	require.Equal(t, d, Unpack(d.Pack()))
}

func TestSetGet(t *testing.T) {
	idx := New()
	idx.Set(3, -4, Descriptor{Generated: true, HeightDiv16: 2, BiomeCategory: 1})

	got, ok := idx.Get(3, -4)
	require.True(t, ok)
	require.Equal(t, Descriptor{Generated: true, HeightDiv16: 2, BiomeCategory: 1}, got)

	_, ok = idx.Get(0, 0)
	require.False(t, ok)
}

func TestLoadMissingFileIsEmpty(t *testing.T) {
	idx, err := Load(filepath.Join(t.TempDir(), "turbo_index.twi"))
	require.NoError(t, err)
	require.Equal(t, 0, idx.Len())
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "turbo_index.twi")

	idx := New()
	idx.Set(1, 1, Descriptor{Generated: true, HeightDiv16: 4, BiomeCategory: 2})
	idx.Set(-5, 10, Descriptor{Generated: false, HeightDiv16: 0, BiomeCategory: 7})
	require.NoError(t, idx.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 2, loaded.Len())

	got, ok := loaded.Get(1, 1)
	require.True(t, ok)
	require.Equal(t, Descriptor{Generated: true, HeightDiv16: 4, BiomeCategory: 2}, got)

	got, ok = loaded.Get(-5, 10)
	require.True(t, ok)
	require.Equal(t, Descriptor{Generated: false, HeightDiv16: 0, BiomeCategory: 7}, got)
}
