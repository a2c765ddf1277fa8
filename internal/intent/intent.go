// Package intent implements the IntentPredictor component from spec.md
// §4.8: a per-subscriber velocity-weighted movement history used to
// predict a probability tunnel of likely-future chunk coordinates for
// prefetch.
package intent

import (
	"math"
	"sync"
)

// ChunkPos is a chunk coordinate pair, independent of region framing.
type ChunkPos struct {
	X, Z int32
}

const (
	// WindowMs is how far back in wall-clock time samples are kept.
	WindowMs = 3000
	// MaxSamples bounds the sample deque regardless of time window.
	MaxSamples = 100

	minSpeed        = 0.1 // chunks/s below which no tunnel is projected
	boostSpeed      = 1.5 // chunks/s threshold for the elytra/boost regime
	boostFactor     = 2.0
	normalFactor    = 1.2
	defaultLookhd   = 8
	maxLookahead    = 64
	defaultBandHalf = 1 // w=1 -> band width 2w+1 = 3
)

type sample struct {
	pos     ChunkPos
	wallMs  int64
}

// Predictor tracks one subscriber's (e.g. one player's) recent movement and
// projects a prefetch tunnel from it.
type Predictor struct {
	mu      sync.Mutex
	samples []sample

	lookahead int
	bandHalf  int
}

// New creates a Predictor with spec.md §4.8 defaults.
func New() *Predictor {
	return &Predictor{lookahead: defaultLookhd, bandHalf: defaultBandHalf}
}

// Record appends a movement sample and prunes anything older than WindowMs
// or beyond MaxSamples.
func (p *Predictor) Record(pos ChunkPos, wallMs int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.samples = append(p.samples, sample{pos: pos, wallMs: wallMs})

	cutoff := wallMs - WindowMs
	start := 0
	for start < len(p.samples) && p.samples[start].wallMs < cutoff {
		start++
	}
	p.samples = p.samples[start:]

	if excess := len(p.samples) - MaxSamples; excess > 0 {
		p.samples = p.samples[excess:]
	}
}

// Predict returns the probability tunnel of likely next chunk coordinates,
// or nil if the subscriber's weighted speed is below minSpeed.
func (p *Predictor) Predict() []ChunkPos {
	p.mu.Lock()
	samples := make([]sample, len(p.samples))
	copy(samples, p.samples)
	p.mu.Unlock()

	if len(samples) < 2 {
		return nil
	}

	vx, vz, speed := weightedVelocity(samples)
	if speed < minSpeed {
		return nil
	}

	lookahead := p.lookahead
	if speed > boostSpeed {
		lookahead = int(float64(lookahead) * boostFactor)
	} else {
		lookahead = int(float64(lookahead) * normalFactor)
	}
	if lookahead > maxLookahead {
		lookahead = maxLookahead
	}
	if lookahead < 1 {
		lookahead = 1
	}

	// Normalize to unit step direction.
	norm := math.Hypot(vx, vz)
	ux, uz := vx/norm, vz/norm
	// Perpendicular unit vector for the prefetch band.
	px, pz := -uz, ux

	last := samples[len(samples)-1].pos
	seen := make(map[ChunkPos]bool)
	var tunnel []ChunkPos

	fx, fz := float64(last.X), float64(last.Z)
	for step := 1; step <= lookahead; step++ {
		fx += ux
		fz += uz
		cx := int32(math.Round(fx))
		cz := int32(math.Round(fz))

		for w := -p.bandHalf; w <= p.bandHalf; w++ {
			bx := cx + int32(math.Round(float64(w)*px))
			bz := cz + int32(math.Round(float64(w)*pz))
			pos := ChunkPos{X: bx, Z: bz}
			if !seen[pos] {
				seen[pos] = true
				tunnel = append(tunnel, pos)
			}
		}
	}

	return tunnel
}

// weightedVelocity computes a trend velocity in chunks/second as the
// weighted mean of each consecutive sample pair's velocity (displacement
// over that pair's own wall-time gap), weighting recent pairs more heavily
// (linear ramp). Pairs with a non-positive time gap are ignored.
func weightedVelocity(samples []sample) (vx, vz, speedPerSec float64) {
	n := len(samples)
	var sumW, sumVX, sumVZ float64

	for i := 1; i < n; i++ {
		dt := float64(samples[i].wallMs - samples[i-1].wallMs)
		if dt <= 0 {
			continue
		}
		dx := float64(samples[i].pos.X - samples[i-1].pos.X)
		dz := float64(samples[i].pos.Z - samples[i-1].pos.Z)

		weight := float64(i) // linearly increasing toward recent samples
		sumW += weight
		sumVX += weight * (dx / dt * 1000)
		sumVZ += weight * (dz / dt * 1000)
	}

	if sumW == 0 {
		return 0, 0, 0
	}

	vx = sumVX / sumW
	vz = sumVZ / sumW
	speedPerSec = math.Hypot(vx, vz)
	return vx, vz, speedPerSec
}
