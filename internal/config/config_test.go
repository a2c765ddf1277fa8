package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileLeavesDefaultsUnchanged(t *testing.T) {
	cfg := DefaultConfig()
	err := Load(filepath.Join(t.TempDir(), "missing.yaml"), cfg)
	require.NoError(t, err)
	require.Equal(t, "auto", cfg.Format)
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storage.yaml")

	cfg := DefaultConfig()
	cfg.Format = "lrf"
	cfg.CompressionAlgorithm = "lz4"
	cfg.Batch.BatchSize = 128

	require.NoError(t, Save(path, cfg))

	loaded := DefaultConfig()
	require.NoError(t, Load(path, loaded))

	require.Equal(t, "lrf", loaded.Format)
	require.Equal(t, "lz4", loaded.CompressionAlgorithm)
	require.Equal(t, 128, loaded.Batch.BatchSize)
}

func TestDurationHelpers(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, int64(100), cfg.FlushDelay().Milliseconds())
	require.Equal(t, int64(30000), cfg.MinIdleTime().Milliseconds())
	require.Equal(t, float64(5), cfg.CheckInterval().Minutes())
}
