package batch

import (
	"context"
	"encoding/binary"
	"errors"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/go-theft-craft/regionstore/pkg/codec"
	"github.com/go-theft-craft/regionstore/pkg/lrf"
)

// SaverConfig tunes a Saver's batching thresholds and compression pool.
type SaverConfig struct {
	BatchSize       int
	FlushDelay      time.Duration
	CompressThreads int
	Algo            codec.Algo
	Level           int
}

// DefaultSaverConfig returns spec.md §4.5's defaults.
func DefaultSaverConfig() SaverConfig {
	return SaverConfig{
		BatchSize:       64,
		FlushDelay:      100 * time.Millisecond,
		CompressThreads: max(1, runtime.NumCPU()/4),
		Algo:            codec.Zstd,
	}
}

type pendingItem struct {
	payload     []byte
	timestampMs uint64
	futures     []*Future
}

// Saver is a per-region async write pipeline: pending accumulator ->
// parallel compression -> single-writer flush (spec.md §4.5).
type Saver struct {
	path string
	cfg  SaverConfig
	log  *slog.Logger

	// onFlushed is invoked with the set of indices just made durable, so a
	// caller (StorageManager) can update an IntegrityValidator and
	// invalidate an MmapReadAhead cache.
	onFlushed func(indices []int, payloads map[int][]byte)

	mu      sync.Mutex
	pending map[int]*pendingItem
	timer   *time.Timer

	flushMu sync.Mutex // serializes flushes: at most one in progress per region
}

// NewSaver constructs a Saver for path. onFlushed may be nil.
func NewSaver(path string, cfg SaverConfig, log *slog.Logger, onFlushed func([]int, map[int][]byte)) *Saver {
	if cfg.BatchSize <= 0 {
		cfg = DefaultSaverConfig()
	}
	return &Saver{
		path:      path,
		cfg:       cfg,
		log:       log,
		onFlushed: onFlushed,
		pending:   make(map[int]*pendingItem),
	}
}

// Enqueue stores payload for index, superseding any not-yet-flushed write
// for the same index. The superseded future (if any) resolves with the new
// write's outcome once it is durable, per spec.md §4.5. The returned Future
// resolves when the batch containing this entry is durable.
func (s *Saver) Enqueue(index int, payload []byte, timestampMs uint64) *Future {
	fut := newFuture()

	s.mu.Lock()
	futures := []*Future{fut}
	if prior, ok := s.pending[index]; ok {
		futures = append(prior.futures, fut)
	}
	s.pending[index] = &pendingItem{payload: payload, timestampMs: timestampMs, futures: futures}

	shouldFlushNow := len(s.pending) >= s.cfg.BatchSize
	if s.timer == nil && !shouldFlushNow {
		s.timer = time.AfterFunc(s.cfg.FlushDelay, s.flushAsync)
	}
	s.mu.Unlock()

	if shouldFlushNow {
		go s.flushAsync()
	}
	return fut
}

// PeekPending returns the not-yet-durable payload for index, if any. Used
// by StorageManager to implement read-your-writes (spec.md §4.5, §4.9).
func (s *Saver) PeekPending(index int) (payload []byte, timestampMs uint64, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.pending[index]
	if !ok {
		return nil, 0, false
	}
	return item.payload, item.timestampMs, true
}

func (s *Saver) flushAsync() {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if len(s.pending) == 0 {
		s.mu.Unlock()
		return
	}
	batch := s.pending
	s.pending = make(map[int]*pendingItem)
	s.mu.Unlock()

	s.runFlush(batch)
}

// Flush forces an immediate flush of any pending batch and blocks until it
// completes.
func (s *Saver) Flush(ctx context.Context) error {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if len(s.pending) == 0 {
		s.mu.Unlock()
		return nil
	}
	batch := s.pending
	s.pending = make(map[int]*pendingItem)
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.runFlush(batch)
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Saver) runFlush(batch map[int]*pendingItem) {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	// A region commits to a single compression algorithm for its whole
	// lifetime (spec.md §3); once a file exists, new writes must reuse its
	// declared algorithm rather than the Saver's configured default, or the
	// merged entries compressed under two different algorithms would
	// corrupt the single-algorithm header's guarantee.
	algo := s.cfg.Algo
	existing, existingAlgo, found, err := s.readExistingExcept(batch)
	if err != nil {
		s.completeBatch(batch, err)
		return
	}
	if found {
		algo = existingAlgo
	}

	var eg errgroup.Group
	eg.SetLimit(max(1, s.cfg.CompressThreads))

	var mu sync.Mutex
	compressedEntries := make([]lrf.CompressedEntry, 0, len(batch))
	succeeded := make(map[int]*pendingItem, len(batch))

	for index, item := range batch {
		index, item := index, item
		eg.Go(func() error {
			raw := make([]byte, len(item.payload)+lrf.TimestampSize)
			copy(raw, item.payload)
			binary.BigEndian.PutUint64(raw[len(item.payload):], item.timestampMs)

			res, err := codec.Compress(raw, algo, s.cfg.Level)
			if err != nil {
				completeAll(item.futures, nil, false, err)
				return nil // per-chunk failures are local; don't abort the rest of the batch
			}

			mu.Lock()
			compressedEntries = append(compressedEntries, lrf.CompressedEntry{Index: index, Data: res.Data})
			succeeded[index] = item
			mu.Unlock()
			return nil
		})
	}
	_ = eg.Wait() // worker funcs never return non-nil; errors are routed to futures

	all := append(compressedEntries, existing...)
	if err := lrf.FlushCompressed(s.path, algo, all); err != nil {
		s.completeBatch(succeeded, err)
		return
	}

	payloads := make(map[int][]byte, len(succeeded))
	indices := make([]int, 0, len(succeeded))
	for index, item := range succeeded {
		completeAll(item.futures, item.payload, true, nil)
		payloads[index] = item.payload
		indices = append(indices, index)
	}

	if s.onFlushed != nil {
		s.onFlushed(indices, payloads)
	}
}

func (s *Saver) completeBatch(items map[int]*pendingItem, err error) {
	for _, item := range items {
		completeAll(item.futures, nil, false, err)
	}
}

// readExistingExcept reads every currently-persisted live chunk not present
// in batch, still compressed, so the flush writes the union of old and new
// data rather than the new batch in isolation (spec.md §4.5). found reports
// whether a region file already existed, in which case algo is the
// compression algorithm declared in its header and must be reused for the
// whole merged flush.
func (s *Saver) readExistingExcept(batch map[int]*pendingItem) (out []lrf.CompressedEntry, algo codec.Algo, found bool, err error) {
	if _, statErr := os.Stat(s.path); statErr != nil {
		if errors.Is(statErr, os.ErrNotExist) {
			return nil, 0, false, nil
		}
		return nil, 0, false, statErr
	}

	r, err := lrf.Open(s.path)
	if err != nil {
		return nil, 0, false, err
	}
	defer r.Close()

	algo = r.Header().Compression
	for index := 0; index < 1024; index++ {
		if _, touched := batch[index]; touched {
			continue
		}
		data, _, ok, readErr := r.ReadCompressed(index)
		if readErr != nil {
			if s.log != nil {
				s.log.Warn("skip unreadable chunk during merge flush", "path", s.path, "index", index, "error", readErr)
			}
			continue
		}
		if !ok {
			continue
		}
		out = append(out, lrf.CompressedEntry{Index: index, Data: data})
	}
	return out, algo, true, nil
}

func completeAll(futures []*Future, payload []byte, ok bool, err error) {
	for _, f := range futures {
		f.complete(payload, ok, err)
	}
}
