package mmapcache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/go-theft-craft/regionstore/internal/intent"
	"github.com/go-theft-craft/regionstore/pkg/codec"
	"github.com/go-theft-craft/regionstore/pkg/lrf"
	"github.com/go-theft-craft/regionstore/pkg/region"
)

func writeRegion(t *testing.T, entries []lrf.Entry) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "r.0.0.lrf")
	require.NoError(t, lrf.Flush(path, codec.Zstd, 0, entries))
	return path
}

func TestRegionGetDecodesAndCaches(t *testing.T) {
	path := writeRegion(t, []lrf.Entry{
		{Index: 10, Payload: []byte("a chunk"), TimestampMs: 1},
	})

	c, err := Open(path, region.Coord{X: 0, Z: 0}, DefaultConfig(), nil)
	require.NoError(t, err)
	defer c.Close()

	payload, ok, err := c.Get(10)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("a chunk"), payload)

	// Second call must hit the LRU, not decode again, but must return the
	// same bytes either way.
	payload2, ok, err := c.Get(10)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("a chunk"), payload2)
}

func TestRegionGetMissingSlot(t *testing.T) {
	path := writeRegion(t, []lrf.Entry{
		{Index: 10, Payload: []byte("a"), TimestampMs: 1},
	})

	c, err := Open(path, region.Coord{X: 0, Z: 0}, DefaultConfig(), nil)
	require.NoError(t, err)
	defer c.Close()

	_, ok, err := c.Get(11)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRegionEvictsOverMaxEntries(t *testing.T) {
	entries := make([]lrf.Entry, 8)
	for i := range entries {
		entries[i] = lrf.Entry{Index: i, Payload: []byte{byte(i)}, TimestampMs: 1}
	}
	path := writeRegion(t, entries)

	cfg := DefaultConfig()
	cfg.MaxEntries = 2
	c, err := Open(path, region.Coord{X: 0, Z: 0}, cfg, nil)
	require.NoError(t, err)
	defer c.Close()

	for i := 0; i < 8; i++ {
		_, ok, err := c.Get(i)
		require.NoError(t, err)
		require.True(t, ok)
	}

	c.mu.Lock()
	n := c.lru.Len()
	c.mu.Unlock()
	require.LessOrEqual(t, n, 2)
}

func TestRegionExpireTTLDropsStaleEntries(t *testing.T) {
	path := writeRegion(t, []lrf.Entry{
		{Index: 1, Payload: []byte("x"), TimestampMs: 1},
	})

	cfg := DefaultConfig()
	cfg.TTL = time.Millisecond
	c, err := Open(path, region.Coord{X: 0, Z: 0}, cfg, nil)
	require.NoError(t, err)
	defer c.Close()

	_, ok, err := c.Get(1)
	require.NoError(t, err)
	require.True(t, ok)

	c.ExpireTTL(time.Now().Add(time.Hour))

	c.mu.Lock()
	_, hit := c.index[1]
	c.mu.Unlock()
	require.False(t, hit)
}

func TestRegionInvalidateDropsFlushedIndices(t *testing.T) {
	path := writeRegion(t, []lrf.Entry{
		{Index: 3, Payload: []byte("x"), TimestampMs: 1},
	})

	c, err := Open(path, region.Coord{X: 0, Z: 0}, DefaultConfig(), nil)
	require.NoError(t, err)
	defer c.Close()

	_, ok, err := c.Get(3)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, c.Invalidate([]int{3}))

	c.mu.Lock()
	_, hit := c.index[3]
	c.mu.Unlock()
	require.False(t, hit)
}

func TestRegionPrefetchWithoutPredictorUsesRadius(t *testing.T) {
	entries := make([]lrf.Entry, 0, region.ChunksPerRegion)
	for lz := 0; lz < 32; lz++ {
		for lx := 0; lx < 32; lx++ {
			idx := lz*32 + lx
			entries = append(entries, lrf.Entry{Index: idx, Payload: []byte{byte(idx % 256)}, TimestampMs: 1})
		}
	}
	path := writeRegion(t, entries)

	cfg := DefaultConfig()
	cfg.PrefetchRadius = 1
	c, err := Open(path, region.Coord{X: 0, Z: 0}, cfg, nil)
	require.NoError(t, err)
	defer c.Close()

	c.Prefetch(context.Background(), region.Coord{X: 5, Z: 5}, nil)

	c.mu.Lock()
	n := c.lru.Len()
	c.mu.Unlock()
	require.Greater(t, n, 0)
}

func TestRegionPrefetchUsesPredictorTunnel(t *testing.T) {
	entries := make([]lrf.Entry, 0, region.ChunksPerRegion)
	for lz := 0; lz < 32; lz++ {
		for lx := 0; lx < 32; lx++ {
			idx := lz*32 + lx
			entries = append(entries, lrf.Entry{Index: idx, Payload: []byte{byte(idx % 256)}, TimestampMs: 1})
		}
	}
	path := writeRegion(t, entries)

	c, err := Open(path, region.Coord{X: 0, Z: 0}, DefaultConfig(), nil)
	require.NoError(t, err)
	defer c.Close()

	p := intent.New()
	for i := 0; i <= 6; i++ {
		p.Record(intent.ChunkPos{X: int32(i), Z: 0}, int64(i)*500)
	}

	c.Prefetch(context.Background(), region.Coord{X: 6, Z: 0}, p)

	c.mu.Lock()
	n := c.lru.Len()
	c.mu.Unlock()
	require.Greater(t, n, 0)
}
