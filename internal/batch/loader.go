// Package batch implements the BatchLoader and BatchSaver components from
// spec.md §4.4–§4.5: per-region async read and write pipelines with
// dedup, backpressure, and batched single-writer flush.
package batch

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/go-theft-craft/regionstore/pkg/codec"
	"github.com/go-theft-craft/regionstore/pkg/lrf"
)

// LoaderConfig tunes a Loader's worker pools and backpressure limit.
type LoaderConfig struct {
	IOThreads         int
	DecompressThreads int
	MaxConcurrent     int
	RefreshInterval   time.Duration
}

// DefaultLoaderConfig returns spec.md §4.4's defaults, sizing the thread
// pools from the host's CPU count.
func DefaultLoaderConfig() LoaderConfig {
	n := max(1, runtime.NumCPU()/4)
	return LoaderConfig{
		IOThreads:         n,
		DecompressThreads: n,
		MaxConcurrent:     64,
		RefreshInterval:   60 * time.Second,
	}
}

// Loader is a per-region async read pipeline over an lrf.Reader.
type Loader struct {
	path string
	cfg  LoaderConfig
	log  *slog.Logger

	mu          sync.Mutex
	reader      *lrf.Reader
	lastRefresh time.Time

	group    singleflight.Group
	inFlight int64

	ioSem  chan struct{}
	decSem chan struct{}
}

// NewLoader opens path for reading and constructs a Loader over it.
func NewLoader(path string, cfg LoaderConfig, log *slog.Logger) (*Loader, error) {
	r, err := lrf.Open(path)
	if err != nil {
		return nil, err
	}
	if cfg.IOThreads <= 0 || cfg.DecompressThreads <= 0 {
		cfg = DefaultLoaderConfig()
	}
	return &Loader{
		path:        path,
		cfg:         cfg,
		log:         log,
		reader:      r,
		lastRefresh: time.Now(),
		ioSem:       make(chan struct{}, cfg.IOThreads),
		decSem:      make(chan struct{}, cfg.DecompressThreads),
	}, nil
}

type loadResult struct {
	payload []byte
	ok      bool
}

// Load returns a Future resolving to the chunk's payload at index. Requests
// for the same index already in flight share a single disk read and
// decompression (singleflight); each call still gets its own Future. If the
// in-flight budget is exhausted, Load
// immediately returns a Future resolved to (nil, false): the caller is
// expected to re-query later (spec.md §4.4 backpressure).
func (l *Loader) Load(ctx context.Context, index int) *Future {
	if atomic.LoadInt64(&l.inFlight) >= int64(l.cfg.MaxConcurrent) {
		return completedFuture(nil, false, nil)
	}

	atomic.AddInt64(&l.inFlight, 1)
	fut := newFuture()

	go func() {
		defer atomic.AddInt64(&l.inFlight, -1)

		key := strconv.Itoa(index)
		v, err, _ := l.group.Do(key, func() (any, error) {
			return l.loadOnce(ctx, index)
		})
		if err != nil {
			fut.complete(nil, false, err)
			return
		}
		res := v.(loadResult)
		fut.complete(res.payload, res.ok, nil)
	}()

	return fut
}

func (l *Loader) loadOnce(ctx context.Context, index int) (loadResult, error) {
	l.maybeRefresh()

	if err := acquire(ctx, l.ioSem); err != nil {
		return loadResult{}, err
	}
	l.mu.Lock()
	reader := l.reader
	l.mu.Unlock()
	compressed, algo, ok, err := reader.ReadCompressed(index)
	<-l.ioSem

	if err != nil {
		return loadResult{}, fmt.Errorf("read chunk %d from %s: %w", index, l.path, err)
	}
	if !ok {
		return loadResult{ok: false}, nil
	}

	if err := acquire(ctx, l.decSem); err != nil {
		return loadResult{}, err
	}
	raw, err := codec.Decompress(compressed, algo)
	<-l.decSem
	if err != nil {
		return loadResult{}, fmt.Errorf("decompress chunk %d from %s: %w", index, l.path, err)
	}
	if len(raw) < lrf.TimestampSize {
		return loadResult{}, fmt.Errorf("chunk %d in %s: payload shorter than timestamp", index, l.path)
	}

	payload := raw[:len(raw)-lrf.TimestampSize]
	return loadResult{payload: payload, ok: true}, nil
}

func acquire(ctx context.Context, sem chan struct{}) error {
	select {
	case sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Loader) maybeRefresh() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if time.Since(l.lastRefresh) < l.cfg.RefreshInterval {
		return
	}
	if err := l.reader.Refresh(); err != nil {
		if l.log != nil {
			l.log.Warn("refresh region reader failed", "path", l.path, "error", err)
		}
		return
	}
	l.lastRefresh = time.Now()
}

// Close releases the underlying reader's file handle.
func (l *Loader) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reader.Close()
}
