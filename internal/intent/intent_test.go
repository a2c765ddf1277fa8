package intent

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPredictEmptyWhenStationary(t *testing.T) {
	p := New()
	p.Record(ChunkPos{X: 0, Z: 0}, 0)
	p.Record(ChunkPos{X: 0, Z: 0}, 500)
	p.Record(ChunkPos{X: 0, Z: 0}, 1000)

	require.Nil(t, p.Predict())
}

func TestPredictProjectsInMovementDirection(t *testing.T) {
	p := New()
	// Move +1 chunk on X every 500ms -> 2 chunks/s.
	for i := 0; i <= 6; i++ {
		p.Record(ChunkPos{X: int32(i), Z: 0}, int64(i)*500)
	}

	tunnel := p.Predict()
	require.NotEmpty(t, tunnel)

	foundForward := false
	for _, c := range tunnel {
		if c.X > 6 && c.Z >= -1 && c.Z <= 1 {
			foundForward = true
		}
	}
	require.True(t, foundForward, "expected tunnel to extend forward along +X: %+v", tunnel)
}

func TestPredictCapsLookaheadAt64(t *testing.T) {
	p := New()
	for i := 0; i <= 10; i++ {
		p.Record(ChunkPos{X: int32(i) * 3, Z: 0}, int64(i)*100) // fast: ~30 chunks/s, boost regime
	}

	tunnel := p.Predict()
	require.NotEmpty(t, tunnel)
	for _, c := range tunnel {
		require.LessOrEqual(t, int(c.X), 3*10+maxLookahead+2)
	}
}

func TestRecordPrunesOldSamples(t *testing.T) {
	p := New()
	for i := 0; i < 10; i++ {
		p.Record(ChunkPos{X: int32(i), Z: 0}, int64(i)*1000)
	}
	p.mu.Lock()
	n := len(p.samples)
	p.mu.Unlock()
	require.LessOrEqual(t, n, 4) // window is 3000ms
}

func TestRecordCapsMaxSamples(t *testing.T) {
	p := New()
	for i := 0; i < 500; i++ {
		p.Record(ChunkPos{X: int32(i), Z: 0}, int64(i)) // all within window
	}
	p.mu.Lock()
	n := len(p.samples)
	p.mu.Unlock()
	require.LessOrEqual(t, n, MaxSamples)
}
