// Package mmapcache implements MmapReadAhead (spec.md §4.6): a per-region
// mmap-backed read cache with LRU eviction, soft TTL, and predictive
// prefetch driven by an internal/intent.Predictor tunnel.
package mmapcache

import (
	"container/list"
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/edsrzf/mmap-go"
	"golang.org/x/sys/unix"

	"github.com/go-theft-craft/regionstore/internal/intent"
	"github.com/go-theft-craft/regionstore/pkg/codec"
	"github.com/go-theft-craft/regionstore/pkg/lrf"
	"github.com/go-theft-craft/regionstore/pkg/region"
)

// Config tunes a Region cache's size and freshness limits.
type Config struct {
	MaxEntries     int
	MaxBytes       int64
	TTL            time.Duration
	PrefetchRadius int
}

// DefaultConfig returns spec.md §4.6's defaults.
func DefaultConfig() Config {
	return Config{
		MaxEntries:     512,
		MaxBytes:       256 << 20,
		TTL:            5 * time.Minute,
		PrefetchRadius: 4,
	}
}

type lruEntry struct {
	index      int
	payload    []byte
	lastAccess time.Time
}

// Region is a read-only mmap cache over one LRF region file.
type Region struct {
	path       string
	regionCoord region.Coord
	cfg        Config
	log        *slog.Logger

	mu      sync.Mutex
	mm      mmap.MMap
	f       *os.File
	reader  *lrf.Reader
	lru     *list.List // of *lruEntry, front = most recently used
	index   map[int]*list.Element
	bytes   int64
	closed  bool
}

// Open memory-maps path read-only and prepares an empty cache over it.
func Open(path string, coord region.Coord, cfg Config, log *slog.Logger) (*Region, error) {
	if cfg.MaxEntries <= 0 {
		cfg = DefaultConfig()
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	reader, err := lrf.Open(path)
	if err != nil {
		f.Close()
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		reader.Close()
		f.Close()
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	mm, err := mmap.MapRegion(f, int(info.Size()), unix.PROT_READ, 0, 0)
	if err != nil {
		reader.Close()
		f.Close()
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}
	_ = unix.Madvise(mm, unix.MADV_WILLNEED) // best-effort preload; ignore failure

	return &Region{
		path:        path,
		regionCoord: coord,
		cfg:         cfg,
		log:         log,
		mm:          mm,
		f:           f,
		reader:      reader,
		lru:         list.New(),
		index:       make(map[int]*list.Element),
	}, nil
}

// Get returns the cached or freshly-decoded payload for chunk index, or
// ok=false if the slot is absent in the mapped file.
func (c *Region) Get(index int) (payload []byte, ok bool, err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, false, fmt.Errorf("mmap cache for %s is closed", c.path)
	}
	if el, hit := c.index[index]; hit {
		e := el.Value.(*lruEntry)
		e.lastAccess = time.Now()
		c.lru.MoveToFront(el)
		payload = e.payload
		c.mu.Unlock()
		return payload, true, nil
	}
	c.mu.Unlock()

	payload, ok, err = c.decode(index)
	if err != nil || !ok {
		return nil, ok, err
	}

	c.insert(index, payload)
	return payload, true, nil
}

// warm loads index into the cache if not already present, discarding the
// result; used for predictive prefetch (Prefetch).
func (c *Region) warm(index int) {
	c.mu.Lock()
	_, hit := c.index[index]
	c.mu.Unlock()
	if hit {
		return
	}
	if _, _, err := c.Get(index); err != nil && c.log != nil {
		c.log.Debug("prefetch miss", "path", c.path, "index", index, "error", err)
	}
}

func (c *Region) decode(index int) (payload []byte, ok bool, err error) {
	c.mu.Lock()
	offset, size, ok, err := c.reader.EntryBounds(index)
	if err != nil || !ok {
		c.mu.Unlock()
		return nil, ok, err
	}
	compressed := make([]byte, size)
	copy(compressed, c.mm[offset:offset+size])
	algo := c.reader.Header().Compression
	c.mu.Unlock()

	raw, err := codec.Decompress(compressed, algo)
	if err != nil {
		return nil, false, fmt.Errorf("decompress chunk %d from %s: %w", index, c.path, err)
	}
	if len(raw) < lrf.TimestampSize {
		return nil, false, fmt.Errorf("chunk %d in %s: payload shorter than timestamp", index, c.path)
	}
	return raw[:len(raw)-lrf.TimestampSize], true, nil
}

func (c *Region) insert(index int, payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, hit := c.index[index]; hit {
		e := el.Value.(*lruEntry)
		c.bytes -= int64(len(e.payload))
		e.payload = payload
		e.lastAccess = time.Now()
		c.bytes += int64(len(payload))
		c.lru.MoveToFront(el)
		return
	}

	e := &lruEntry{index: index, payload: payload, lastAccess: time.Now()}
	el := c.lru.PushFront(e)
	c.index[index] = el
	c.bytes += int64(len(payload))

	c.evictLocked()
}

func (c *Region) evictLocked() {
	for (c.lru.Len() > c.cfg.MaxEntries || c.bytes > c.cfg.MaxBytes) && c.lru.Len() > 0 {
		back := c.lru.Back()
		e := back.Value.(*lruEntry)
		c.lru.Remove(back)
		delete(c.index, e.index)
		c.bytes -= int64(len(e.payload))
	}
}

// ExpireTTL drops cache entries whose last access is older than the
// configured TTL, then evicts down to 90% of the byte budget. Meant to be
// called periodically by a background maintenance loop (spec.md §4.6).
func (c *Region) ExpireTTL(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var next *list.Element
	for el := c.lru.Back(); el != nil; el = next {
		next = el.Prev()
		e := el.Value.(*lruEntry)
		if now.Sub(e.lastAccess) <= c.cfg.TTL {
			break // list is MRU-ordered at front; once one entry is fresh, newer ones toward front are too
		}
		c.lru.Remove(el)
		delete(c.index, e.index)
		c.bytes -= int64(len(e.payload))
	}

	softLimit := c.cfg.MaxBytes * 9 / 10
	for c.bytes > softLimit && c.lru.Len() > 0 {
		back := c.lru.Back()
		e := back.Value.(*lruEntry)
		c.lru.Remove(back)
		delete(c.index, e.index)
		c.bytes -= int64(len(e.payload))
	}
}

// Invalidate drops cache entries for indices, then remaps the file if it
// has grown. Called by the paired batch.Saver after a successful flush
// (spec.md §4.6).
func (c *Region) Invalidate(indices []int) error {
	c.mu.Lock()
	for _, index := range indices {
		if el, hit := c.index[index]; hit {
			e := el.Value.(*lruEntry)
			c.lru.Remove(el)
			delete(c.index, index)
			c.bytes -= int64(len(e.payload))
		}
	}
	c.mu.Unlock()

	return c.remapIfGrown()
}

func (c *Region) remapIfGrown() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	info, err := c.f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", c.path, err)
	}
	if int64(len(c.mm)) >= info.Size() {
		if err := c.reader.Refresh(); err != nil {
			return err
		}
		return nil
	}

	if err := c.mm.Unmap(); err != nil {
		return fmt.Errorf("unmap %s: %w", c.path, err)
	}
	mm, err := mmap.MapRegion(c.f, int(info.Size()), unix.PROT_READ, 0, 0)
	if err != nil {
		return fmt.Errorf("remap %s: %w", c.path, err)
	}
	c.mm = mm
	return c.reader.Refresh()
}

// Prefetch schedules a predictive load of nearby chunks: the predictor's
// tunnel if non-empty, else a square of the configured radius around
// center, per spec.md §4.6. Prefetch work runs on the calling goroutine's
// context and returns once all candidates have been attempted.
func (c *Region) Prefetch(ctx context.Context, center region.Coord, predictor *intent.Predictor) {
	var targets []region.Coord

	if predictor != nil {
		if tunnel := predictor.Predict(); len(tunnel) > 0 {
			for _, p := range tunnel {
				targets = append(targets, region.Coord{X: p.X, Z: p.Z})
			}
		}
	}

	if len(targets) == 0 {
		r := c.cfg.PrefetchRadius
		for dx := -r; dx <= r; dx++ {
			for dz := -r; dz <= r; dz++ {
				if dx == 0 && dz == 0 {
					continue
				}
				targets = append(targets, region.Coord{X: center.X + int32(dx), Z: center.Z + int32(dz)})
			}
		}
	}

	for _, t := range targets {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if t.X>>5 != c.regionCoord.X || t.Z>>5 != c.regionCoord.Z {
			continue // prefetch only within this Region's own 32x32 span
		}
		c.warm(region.Index(t.X, t.Z))
	}
}

// Close unmaps the file and releases all handles.
func (c *Region) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	var firstErr error
	if err := c.mm.Unmap(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := c.reader.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := c.f.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
