package lrf

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/google/renameio"

	"github.com/go-theft-craft/regionstore/internal/errs"
	"github.com/go-theft-craft/regionstore/pkg/codec"
)

// Entry is one chunk's input to Flush: its slot index (0..1023, see
// pkg/region.Index), raw uncompressed payload, and millisecond timestamp.
type Entry struct {
	Index       int
	Payload     []byte
	TimestampMs uint64
}

// CompressedEntry is one chunk whose payload has already been compressed
// (and had its timestamp appended) by the caller, for use with
// FlushCompressed. batch.Saver produces these on its own compression pool
// so the single-writer stage only assembles and writes bytes.
type CompressedEntry struct {
	Index int
	Data  []byte // already-compressed timestamp-suffixed payload
}

// Flush writes the full set of chunks to path in one pass: reserve the
// header region, append each entry's timestamp-suffixed payload compressed
// with algo, then backfill the header+offsets table and atomically replace
// the file (spec.md §4.2). Flush is idempotent: the same (path, algo,
// chunks) input (modulo timestamps) produces the same bytes, because
// entries are packed in ascending index order regardless of input order.
func Flush(path string, algo codec.Algo, level int, chunks []Entry) error {
	compressed := make([]CompressedEntry, len(chunks))
	for i, c := range chunks {
		if len(c.Payload) >= MaxChunkBytes {
			return fmt.Errorf("%w: payload %d bytes", errs.ErrPayloadTooLarge, len(c.Payload))
		}

		raw := make([]byte, len(c.Payload)+TimestampSize)
		copy(raw, c.Payload)
		binary.BigEndian.PutUint64(raw[len(c.Payload):], c.TimestampMs)

		res, err := codec.Compress(raw, algo, level)
		if err != nil {
			return fmt.Errorf("compress chunk %d: %w", c.Index, err)
		}
		compressed[i] = CompressedEntry{Index: c.Index, Data: res.Data}
	}
	return FlushCompressed(path, algo, compressed)
}

// FlushCompressed is the single-writer stage: it assembles the header,
// offsets table, and payload area from already-compressed entries (see
// CompressedEntry) and atomically replaces path. It performs no
// compression of its own.
func FlushCompressed(path string, algo codec.Algo, chunks []CompressedEntry) error {
	sorted := make([]CompressedEntry, len(chunks))
	copy(sorted, chunks)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })

	var table [1024]entry
	var payload bytes.Buffer
	offset := uint32(HeaderSize)

	for _, c := range sorted {
		if c.Index < 0 || c.Index >= 1024 {
			return fmt.Errorf("%w: chunk index %d out of range", errs.ErrInvalidFormat, c.Index)
		}

		n, _ := payload.Write(c.Data)
		table[c.Index] = entry{Offset: offset, Size: uint32(n)}
		offset += uint32(n)
	}

	header := Header{
		Version:     FormatVersion,
		ChunkCount:  uint32(len(sorted)),
		Compression: algo,
	}

	var out bytes.Buffer
	out.Grow(HeaderSize + payload.Len())
	out.Write(encodeHeader(header, table))
	out.Write(payload.Bytes())

	if err := renameio.WriteFile(path, out.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write region file %s: %w", path, err)
	}
	return nil
}
