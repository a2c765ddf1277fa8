// Package storagemgr implements StorageManager (spec.md §4.9): the
// process-wide façade that routes chunk reads and writes through the
// pending-write buffer, mmap cache or batch loader, and integrity
// validator for a registry of region files.
package storagemgr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/go-theft-craft/regionstore/internal/batch"
	"github.com/go-theft-craft/regionstore/internal/errs"
	"github.com/go-theft-craft/regionstore/internal/integrity"
	"github.com/go-theft-craft/regionstore/internal/mmapcache"
	"github.com/go-theft-craft/regionstore/pkg/region"
)

// Config tunes every per-region component a Manager lazily creates.
type Config struct {
	Loader           batch.LoaderConfig
	Saver            batch.SaverConfig
	Mmap             mmapcache.Config
	MmapEnabled      bool
	IntegrityEnabled bool
}

// DefaultConfig returns spec.md §6's defaults across all sub-components.
func DefaultConfig() Config {
	return Config{
		Loader:           batch.DefaultLoaderConfig(),
		Saver:            batch.DefaultSaverConfig(),
		Mmap:             mmapcache.DefaultConfig(),
		MmapEnabled:      true,
		IntegrityEnabled: true,
	}
}

// Stats mirrors spec.md §4.9's global counters.
type Stats struct {
	Loads          int64
	Decompressions int64
	CacheHits      int64
	CacheMisses    int64
	Corruptions    int64
	Repairs        int64
	IoTime         time.Duration
}

type regionEntry struct {
	mu        sync.Mutex
	path      string
	saver     *batch.Saver
	loader    *batch.Loader
	mmap      *mmapcache.Region
	validator *integrity.Validator
}

// Manager is the process-wide chunk storage façade.
type Manager struct {
	cfg Config
	log *slog.Logger

	mu      sync.RWMutex
	regions map[string]*regionEntry
	closed  bool

	loads, decompressions       int64
	cacheHits, cacheMisses      int64
	corruptions, repairs        int64
	ioTimeNs                    int64
	statsMu                     sync.Mutex
}

// New constructs a Manager. log may be nil.
func New(cfg Config, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		cfg:     cfg,
		log:     log,
		regions: make(map[string]*regionEntry),
	}
}

func (m *Manager) entry(path string) (*regionEntry, error) {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return nil, errs.ErrClosed
	}
	e, ok := m.regions[path]
	m.mu.RUnlock()
	if ok {
		return e, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, errs.ErrClosed
	}
	if e, ok := m.regions[path]; ok {
		return e, nil
	}

	e = &regionEntry{path: path}
	if m.cfg.IntegrityEnabled {
		e.validator = integrity.New()
	}
	e.saver = batch.NewSaver(path, m.cfg.Saver, m.log, func(indices []int, payloads map[int][]byte) {
		m.onFlushed(e, indices, payloads)
	})
	m.regions[path] = e
	return e, nil
}

// onFlushed updates the integrity validator and invalidates the mmap cache
// for indices just made durable by the paired BatchSaver (spec.md §4.6,
// §4.7).
func (m *Manager) onFlushed(e *regionEntry, indices []int, payloads map[int][]byte) {
	e.mu.Lock()
	validator := e.validator
	mm := e.mmap
	e.mu.Unlock()

	if validator != nil {
		for _, index := range indices {
			validator.UpdateChecksum(index, payloads[index])
		}
	}
	if mm != nil {
		if err := mm.Invalidate(indices); err != nil {
			m.log.Warn("invalidate mmap cache after flush", "path", e.path, "error", err)
		}
	}
}

// ensureReadPath lazily opens whichever read path (mmap or loader) is
// configured for e, if the backing file exists yet.
func (e *regionEntry) ensureReadPath(cfg Config, log *slog.Logger, coord region.Coord) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if cfg.MmapEnabled {
		if e.mmap != nil {
			return nil
		}
		mm, err := mmapcache.Open(e.path, coord, cfg.Mmap, log)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return errs.ErrChunkAbsent
			}
			return err
		}
		e.mmap = mm
		return nil
	}

	if e.loader != nil {
		return nil
	}
	l, err := batch.NewLoader(e.path, cfg.Loader, log)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return errs.ErrChunkAbsent
		}
		return err
	}
	e.loader = l
	return nil
}

// LoadChunk returns the chunk payload at (cx, cz) in the region file at
// path, or found=false if absent. Order of precedence: pending write
// buffer, then mmap cache or batch loader, then optional integrity
// validation (spec.md §4.9).
func (m *Manager) LoadChunk(ctx context.Context, path string, cx, cz int32) (payload []byte, found bool, err error) {
	start := time.Now()
	defer func() { m.addIoTime(time.Since(start)) }()

	e, err := m.entry(path)
	if err != nil {
		return nil, false, err
	}
	idx := region.Index(cx, cz)

	if pending, _, ok := e.saver.PeekPending(idx); ok {
		m.addLoads(1)
		return pending, true, nil
	}

	if err := e.ensureReadPath(m.cfg, m.log, region.Of(cx, cz)); err != nil {
		if err == errs.ErrChunkAbsent {
			return nil, false, nil
		}
		return nil, false, err
	}

	m.addLoads(1)

	e.mu.Lock()
	mm := e.mmap
	loader := e.loader
	validator := e.validator
	e.mu.Unlock()

	if mm != nil {
		payload, found, err = mm.Get(idx)
		if found {
			m.addCacheHits(1)
		} else if err == nil {
			m.addCacheMisses(1)
		}
	} else {
		fut := loader.Load(ctx, idx)
		payload, found, err = fut.Wait(ctx)
		m.addDecompressions(1)
	}
	if err != nil || !found {
		return nil, found, err
	}

	if validator != nil {
		report := validator.Validate(idx, payload, false)
		switch report.Verdict {
		case integrity.Corrupted:
			m.addCorruptions(1)
		case integrity.Repairable:
			m.addRepairs(1)
		}
	}
	return payload, true, nil
}

// SaveChunk enqueues payload for (cx, cz) in the region at path; the
// returned Future resolves once the batch containing it is durable.
func (m *Manager) SaveChunk(path string, cx, cz int32, payload []byte) (*batch.Future, error) {
	e, err := m.entry(path)
	if err != nil {
		return nil, err
	}
	idx := region.Index(cx, cz)
	return e.saver.Enqueue(idx, payload, uint64(time.Now().UnixMilli())), nil
}

// Flush forces an immediate flush of any pending batch for path.
func (m *Manager) Flush(ctx context.Context, path string) error {
	e, err := m.entry(path)
	if err != nil {
		return err
	}
	return e.saver.Flush(ctx)
}

// ValidateRegion re-validates every live chunk in path against the stored
// checksums, returning one report per present chunk.
func (m *Manager) ValidateRegion(ctx context.Context, path string) ([]integrity.Report, error) {
	e, err := m.entry(path)
	if err != nil {
		return nil, err
	}
	if err := e.ensureReadPath(m.cfg, m.log, region.Coord{}); err != nil && err != errs.ErrChunkAbsent {
		return nil, err
	}

	var reports []integrity.Report
	for idx := 0; idx < region.ChunksPerRegion; idx++ {
		payload, found, err := m.LoadChunk(ctx, path, int32(idx%region.GridSize), int32(idx/region.GridSize))
		if err != nil || !found {
			continue
		}
		e.mu.Lock()
		validator := e.validator
		e.mu.Unlock()
		if validator == nil {
			continue
		}
		reports = append(reports, validator.Validate(idx, payload, true))
	}
	return reports, nil
}

// CloseRegion flushes and releases the per-region components registered
// for path.
func (m *Manager) CloseRegion(path string) error {
	m.mu.Lock()
	e, ok := m.regions[path]
	if ok {
		delete(m.regions, path)
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return closeEntry(e)
}

func closeEntry(e *regionEntry) error {
	if err := e.saver.Flush(context.Background()); err != nil {
		return fmt.Errorf("flush %s on close: %w", e.path, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var firstErr error
	if e.loader != nil {
		if err := e.loader.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if e.mmap != nil {
		if err := e.mmap.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Close flushes and releases every registered region's components.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	regions := m.regions
	m.regions = nil
	m.mu.Unlock()

	var firstErr error
	for _, e := range regions {
		if err := closeEntry(e); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Stats returns a snapshot of the process-wide counters.
func (m *Manager) Stats() Stats {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	return Stats{
		Loads:          m.loads,
		Decompressions: m.decompressions,
		CacheHits:      m.cacheHits,
		CacheMisses:    m.cacheMisses,
		Corruptions:    m.corruptions,
		Repairs:        m.repairs,
		IoTime:         time.Duration(m.ioTimeNs),
	}
}

func (m *Manager) addLoads(n int64)          { m.statsMu.Lock(); m.loads += n; m.statsMu.Unlock() }
func (m *Manager) addDecompressions(n int64) { m.statsMu.Lock(); m.decompressions += n; m.statsMu.Unlock() }
func (m *Manager) addCacheHits(n int64)      { m.statsMu.Lock(); m.cacheHits += n; m.statsMu.Unlock() }
func (m *Manager) addCacheMisses(n int64)    { m.statsMu.Lock(); m.cacheMisses += n; m.statsMu.Unlock() }
func (m *Manager) addCorruptions(n int64)    { m.statsMu.Lock(); m.corruptions += n; m.statsMu.Unlock() }
func (m *Manager) addRepairs(n int64)        { m.statsMu.Lock(); m.repairs += n; m.statsMu.Unlock() }
func (m *Manager) addIoTime(d time.Duration) {
	m.statsMu.Lock()
	m.ioTimeNs += int64(d)
	m.statsMu.Unlock()
}
