// Package mca implements the legacy Anvil (MCA) region file format:
// sector-aligned chunk storage, supported for interoperability and
// migration into LRF (spec.md §3, §4.3).
package mca

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/google/renameio"

	"github.com/go-theft-craft/regionstore/internal/errs"
	"github.com/go-theft-craft/regionstore/pkg/codec"
)

const (
	// SectorSize is the allocation granularity of the chunk data area.
	SectorSize = 4096

	// HeaderSectors is the number of sectors occupied by the location and
	// timestamp tables (2 sectors = 8 KiB).
	HeaderSectors = 2

	// HeaderSize is the total byte size of the location+timestamp tables.
	HeaderSize = HeaderSectors * SectorSize
)

// Entry is one chunk's input to Write.
type Entry struct {
	Index       int
	Payload     []byte
	TimestampMs uint64
}

// defaultAlgo is the compression the writer chooses (spec.md §4.3: "Writer
// chooses Zlib (level default) as the compression").
const defaultAlgo = codec.Zlib

// Write serializes chunks to an MCA file at path, choosing Zlib compression
// per chunk. Timestamps are truncated to whole Unix seconds (MCA's native
// granularity); the engine-level millisecond timestamp is recovered on read
// only to second precision, which is why LRF is preferred for new writes.
func Write(path string, chunks []Entry) error {
	sorted := make([]Entry, len(chunks))
	copy(sorted, chunks)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })

	locations := make([]byte, SectorSize)
	timestamps := make([]byte, SectorSize)

	var data []byte
	currentSector := uint32(HeaderSectors)

	for _, c := range sorted {
		if c.Index < 0 || c.Index >= 1024 {
			return fmt.Errorf("%w: chunk index %d out of range", errs.ErrInvalidFormat, c.Index)
		}

		res, err := codec.Compress(c.Payload, defaultAlgo, 0)
		if err != nil {
			return fmt.Errorf("compress chunk %d: %w", c.Index, err)
		}

		payloadLen := uint32(len(res.Data)) + 1 // +1 for compression type byte
		totalLen := 4 + payloadLen
		sectorCount := (totalLen + SectorSize - 1) / SectorSize

		off := c.Index * 4
		binary.BigEndian.PutUint32(locations[off:off+4], (currentSector<<8)|(sectorCount&0xFF))
		binary.BigEndian.PutUint32(timestamps[off:off+4], uint32(c.TimestampMs/1000))

		chunkHeader := make([]byte, 5)
		binary.BigEndian.PutUint32(chunkHeader[0:4], payloadLen)
		chunkHeader[4] = byte(codec.McaZlib)

		data = append(data, chunkHeader...)
		data = append(data, res.Data...)

		padded := int(sectorCount) * SectorSize
		if pad := padded - int(totalLen); pad > 0 {
			data = append(data, make([]byte, pad)...)
		}

		currentSector += sectorCount
	}

	out := make([]byte, 0, HeaderSize+len(data))
	out = append(out, locations...)
	out = append(out, timestamps...)
	out = append(out, data...)

	if err := renameio.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("write mca file %s: %w", path, err)
	}
	return nil
}

// Chunk is one live chunk returned by ReadAll.
type Chunk struct {
	Index       int
	Payload     []byte
	TimestampMs uint64
}

// ReadAll scans every live chunk slot in an MCA file. Corrupt or
// unsupported-compression chunks are skipped (not fatal): they are
// reported via the unreadable callback, which may be nil. Header
// corruption (short file) is the only condition that aborts with an
// error (spec.md §4.3).
func ReadAll(path string, unreadable func(index int, err error)) ([]Chunk, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	header := make([]byte, HeaderSize)
	if _, err := io.ReadFull(f, header); err != nil {
		return nil, fmt.Errorf("%w: read mca header of %s: %v", errs.ErrInvalidFormat, path, err)
	}

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	size := info.Size()

	locations := header[:SectorSize]
	timestamps := header[SectorSize:]

	var out []Chunk
	for index := 0; index < 1024; index++ {
		off := index * 4
		loc := binary.BigEndian.Uint32(locations[off : off+4])
		sectorOffset := loc >> 8
		sectorCount := loc & 0xFF

		if loc == 0 || sectorCount == 0 {
			continue // absent, per spec.md §4.3 edge cases
		}

		ts := uint64(binary.BigEndian.Uint32(timestamps[off:off+4])) * 1000

		start := int64(sectorOffset) * SectorSize
		maxLen := int64(sectorCount) * SectorSize
		if start+maxLen > size || start < HeaderSize {
			reportUnreadable(unreadable, index, fmt.Errorf("%w: chunk %d sectors outside file", errs.ErrInvalidFormat, index))
			continue
		}

		chunkHeader := make([]byte, 5)
		if _, err := io.ReadFull(io.NewSectionReader(f, start, 5), chunkHeader); err != nil {
			reportUnreadable(unreadable, index, err)
			continue
		}
		payloadLen := binary.BigEndian.Uint32(chunkHeader[0:4])
		compression := codec.McaCompression(chunkHeader[4])

		if int64(payloadLen) > maxLen {
			reportUnreadable(unreadable, index, fmt.Errorf("%w: chunk %d length %d exceeds %d allocated sectors",
				errs.ErrInvalidFormat, index, payloadLen, sectorCount))
			continue
		}
		if payloadLen < 1 {
			reportUnreadable(unreadable, index, fmt.Errorf("%w: chunk %d empty payload", errs.ErrInvalidFormat, index))
			continue
		}

		compressed := make([]byte, payloadLen-1)
		if _, err := io.ReadFull(io.NewSectionReader(f, start+5, int64(payloadLen-1)), compressed); err != nil {
			reportUnreadable(unreadable, index, err)
			continue
		}

		payload, err := codec.DecompressMca(compressed, compression)
		if err != nil {
			// LZ4 MAY be unsupported on read: non-fatal, counted and skipped.
			reportUnreadable(unreadable, index, err)
			continue
		}

		out = append(out, Chunk{Index: index, Payload: payload, TimestampMs: ts})
	}

	return out, nil
}

func reportUnreadable(fn func(int, error), index int, err error) {
	if fn != nil {
		fn(index, err)
	}
}
