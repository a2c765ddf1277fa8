package scheduler

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/go-theft-craft/regionstore/internal/convert"
	"github.com/go-theft-craft/regionstore/pkg/codec"
	"github.com/go-theft-craft/regionstore/pkg/lrf"
	"github.com/go-theft-craft/regionstore/pkg/mca"
)

func TestSourceFormatFilesFindsOppositeExtension(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, lrf.Flush(filepath.Join(dir, "r.0.0.lrf"), codec.Zstd, 0, []lrf.Entry{
		{Index: 0, Payload: []byte("x"), TimestampMs: 1},
	}))

	files, err := sourceFormatFiles(dir, convert.FormatMCA)
	require.NoError(t, err)
	require.Len(t, files, 1)
}

func TestIdleGateBlocksWhenBusy(t *testing.T) {
	s := New(DefaultConfig(), func() float64 { return 0.9 }, func() time.Duration { return time.Minute }, nil)
	require.False(t, s.idleGate())
}

func TestIdleGateBlocksWhenNotIdleLongEnough(t *testing.T) {
	s := New(DefaultConfig(), func() float64 { return 0.0 }, func() time.Duration { return time.Second }, nil)
	require.False(t, s.idleGate())
}

func TestIdleGateAllowsWhenQuietAndIdle(t *testing.T) {
	s := New(DefaultConfig(), func() float64 { return 0.0 }, func() time.Duration { return time.Hour }, nil)
	require.True(t, s.idleGate())
}

func TestTickConvertsBatchWhenIdle(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, lrf.Flush(filepath.Join(dir, "r.0.0.lrf"), codec.Zstd, 0, []lrf.Entry{
		{Index: 0, Payload: []byte("a"), TimestampMs: 1},
	}))
	require.NoError(t, lrf.Flush(filepath.Join(dir, "r.1.1.lrf"), codec.Zstd, 0, []lrf.Entry{
		{Index: 0, Payload: []byte("b"), TimestampMs: 1},
	}))

	cfg := DefaultConfig()
	cfg.MaxConcurrent = 2
	s := New(cfg, func() float64 { return 0.0 }, func() time.Duration { return time.Hour }, nil)

	pending, err := sourceFormatFiles(dir, convert.FormatMCA)
	require.NoError(t, err)
	s.mu.Lock()
	s.dir = dir
	s.target = convert.FormatMCA
	s.pending = pending
	s.total = len(pending)
	s.mu.Unlock()

	s.tick()

	progress := s.Progress()
	require.Equal(t, 2, progress.Converted)
	require.Equal(t, 2, progress.Total)

	_, err = mca.ReadAll(filepath.Join(dir, "r.0.0.mca"), nil)
	require.NoError(t, err)
	_, err = mca.ReadAll(filepath.Join(dir, "r.1.1.mca"), nil)
	require.NoError(t, err)
}
