package lrf

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/go-theft-craft/regionstore/internal/errs"
	"github.com/go-theft-craft/regionstore/pkg/codec"
)

// Reader provides concurrent read access to an LRF file. Refresh serializes
// against concurrent ReadChunk calls via mu, matching spec.md §4.4's
// "refresh is serialized on a mutex" contract.
type Reader struct {
	path string

	mu     sync.RWMutex
	f      *os.File
	header Header
	table  [1024]entry
	size   int64
}

// Open opens path for reading and validates its header.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	r := &Reader{path: path, f: f}
	if err := r.reload(); err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

func (r *Reader) reload() error {
	info, err := r.f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", r.path, err)
	}

	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(io.NewSectionReader(r.f, 0, HeaderSize), buf); err != nil {
		return fmt.Errorf("%w: read header of %s: %v", errs.ErrInvalidFormat, r.path, err)
	}
	header, table, err := decodeHeader(buf)
	if err != nil {
		return fmt.Errorf("%s: %w", r.path, err)
	}

	r.header = header
	r.table = table
	r.size = info.Size()
	return nil
}

// Refresh re-reads the header and offsets table, picking up out-of-band
// writes (spec.md §4.4: "refreshed at intervals or on detected file-length
// change").
func (r *Reader) Refresh() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reload()
}

// Header returns the currently loaded header.
func (r *Reader) Header() Header {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.header
}

// FileSize returns the file length observed at the last load/refresh.
func (r *Reader) FileSize() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}

// ReadCompressed performs just the I/O stage: it returns the still-compressed
// bytes stored at slot index and the algorithm to decompress them with, or
// ok=false if the slot is absent. Splitting I/O from decompression lets
// callers (batch.Loader) run each stage on its own worker pool per
// spec.md §4.4.
func (r *Reader) ReadCompressed(index int) (compressed []byte, algo codec.Algo, ok bool, err error) {
	if index < 0 || index >= 1024 {
		return nil, 0, false, fmt.Errorf("%w: index %d out of range", errs.ErrInvalidFormat, index)
	}

	r.mu.RLock()
	e := r.table[index]
	algo = r.header.Compression
	size := r.size
	r.mu.RUnlock()

	if e.Size == 0 {
		return nil, algo, false, nil
	}
	if e.Size > MaxChunkBytes {
		return nil, algo, false, fmt.Errorf("%w: chunk %d size %d exceeds max", errs.ErrInvalidFormat, index, e.Size)
	}
	if int64(e.Offset) < HeaderSize || int64(e.Offset)+int64(e.Size) > size {
		return nil, algo, false, fmt.Errorf("%w: chunk %d range [%d,%d) outside file (len %d)",
			errs.ErrInvalidFormat, index, e.Offset, uint64(e.Offset)+uint64(e.Size), size)
	}

	compressed = make([]byte, e.Size)
	if _, err := io.ReadFull(io.NewSectionReader(r.f, int64(e.Offset), int64(e.Size)), compressed); err != nil {
		return nil, algo, false, fmt.Errorf("read chunk %d from %s: %w", index, r.path, err)
	}
	return compressed, algo, true, nil
}

// EntryBounds returns the payload-area byte range for slot index without
// performing any I/O, so a caller holding its own view of the file's bytes
// (e.g. internal/mmapcache's memory map) can slice directly instead of
// going through ReadCompressed. ok is false if the slot is absent.
func (r *Reader) EntryBounds(index int) (offset, size uint32, ok bool, err error) {
	if index < 0 || index >= 1024 {
		return 0, 0, false, fmt.Errorf("%w: index %d out of range", errs.ErrInvalidFormat, index)
	}

	r.mu.RLock()
	e := r.table[index]
	size2 := r.size
	r.mu.RUnlock()

	if e.Size == 0 {
		return 0, 0, false, nil
	}
	if e.Size > MaxChunkBytes {
		return 0, 0, false, fmt.Errorf("%w: chunk %d size %d exceeds max", errs.ErrInvalidFormat, index, e.Size)
	}
	if int64(e.Offset) < HeaderSize || int64(e.Offset)+int64(e.Size) > size2 {
		return 0, 0, false, fmt.Errorf("%w: chunk %d range [%d,%d) outside file (len %d)",
			errs.ErrInvalidFormat, index, e.Offset, uint64(e.Offset)+uint64(e.Size), size2)
	}
	return e.Offset, e.Size, true, nil
}

// ReadRaw performs the full I/O + decompression path, returning the
// decompressed bytes (payload + trailing 8-byte timestamp) stored at slot
// index, or nil with ok=false if the slot is absent.
func (r *Reader) ReadRaw(index int) (data []byte, ok bool, err error) {
	compressed, algo, ok, err := r.ReadCompressed(index)
	if err != nil || !ok {
		return nil, ok, err
	}

	raw, err := codec.Decompress(compressed, algo)
	if err != nil {
		return nil, false, fmt.Errorf("decompress chunk %d: %w", index, err)
	}
	if len(raw) < TimestampSize {
		return nil, false, fmt.Errorf("%w: chunk %d decompressed payload too small", errs.ErrInvalidFormat, index)
	}
	return raw, true, nil
}

// ReadChunk returns the chunk's payload (timestamp stripped) and its
// millisecond timestamp, or ok=false if absent.
func (r *Reader) ReadChunk(index int) (payload []byte, timestampMs uint64, ok bool, err error) {
	raw, ok, err := r.ReadRaw(index)
	if err != nil || !ok {
		return nil, 0, ok, err
	}
	split := len(raw) - TimestampSize
	ts := binary.BigEndian.Uint64(raw[split:])
	return raw[:split], ts, true, nil
}

// Close releases the underlying file handle.
func (r *Reader) Close() error {
	return r.f.Close()
}
