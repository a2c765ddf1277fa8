package storagemgr

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Saver.FlushDelay = time.Hour
	return cfg
}

func TestSaveThenLoadReadYourWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "r.0.0.lrf")
	m := New(testConfig(), nil)
	defer m.Close()

	fut, err := m.SaveChunk(path, 1, 1, []byte("fresh write"))
	require.NoError(t, err)
	require.False(t, fut.Done())

	payload, found, err := m.LoadChunk(context.Background(), path, 1, 1)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("fresh write"), payload)
}

func TestLoadAfterFlushGoesThroughReadPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "r.0.0.lrf")
	cfg := testConfig()
	cfg.MmapEnabled = false
	m := New(cfg, nil)
	defer m.Close()

	_, err := m.SaveChunk(path, 2, 2, []byte("durable chunk"))
	require.NoError(t, err)
	require.NoError(t, m.Flush(context.Background(), path))

	payload, found, err := m.LoadChunk(context.Background(), path, 2, 2)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("durable chunk"), payload)

	stats := m.Stats()
	require.Greater(t, stats.Loads, int64(0))
}

func TestLoadMissingChunkNotFound(t *testing.T) {
	path := filepath.Join(t.TempDir(), "r.0.0.lrf")
	m := New(testConfig(), nil)
	defer m.Close()

	payload, found, err := m.LoadChunk(context.Background(), path, 3, 3)
	require.NoError(t, err)
	require.False(t, found)
	require.Nil(t, payload)
}

func TestCloseRegionFlushesPending(t *testing.T) {
	path := filepath.Join(t.TempDir(), "r.0.0.lrf")
	m := New(testConfig(), nil)
	defer m.Close()

	fut, err := m.SaveChunk(path, 5, 5, []byte("x"))
	require.NoError(t, err)
	require.NoError(t, m.CloseRegion(path))

	_, ok, err := fut.Wait(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
}

func TestValidateRegionReportsAfterFlush(t *testing.T) {
	path := filepath.Join(t.TempDir(), "r.0.0.lrf")
	cfg := testConfig()
	cfg.MmapEnabled = false
	m := New(cfg, nil)
	defer m.Close()

	_, err := m.SaveChunk(path, 0, 0, []byte("validated chunk"))
	require.NoError(t, err)
	require.NoError(t, m.Flush(context.Background(), path))

	reports, err := m.ValidateRegion(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, reports, 1)
}
