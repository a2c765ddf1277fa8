// Package lrf implements the Linear Region Format (LRF): the engine's
// sequentially packed, header-indexed, singly-compressed region file
// (spec.md §3, §4.2).
//
// Canonical layout (this implementation's locked v1, resolving the open
// question in spec.md §9): a fixed 256-byte prelude, followed immediately
// by an 8 KiB offsets/sizes table of 1024 (offset u32 LE, size u32 LE)
// pairs, followed by the chunk payload area. The prelude's own
// offsets/sizes bytes (§3's "remaining 235 bytes") are left zeroed; the
// full table always lives at the well-known aligned offset
// HeaderSize (256).
package lrf

import (
	"encoding/binary"
	"fmt"

	"github.com/go-theft-craft/regionstore/internal/errs"
	"github.com/go-theft-craft/regionstore/pkg/codec"
)

const (
	// Magic is the fixed 9-byte file signature.
	Magic = "TURBO_LRF"

	// FormatVersion is the version this package reads and writes.
	FormatVersion uint32 = 1

	// PreludeSize is the fixed header size before the offsets table.
	PreludeSize = 256

	// TableEntrySize is the byte size of one (offset, size) pair.
	TableEntrySize = 8

	// TableSize is the byte size of the full 1024-entry offsets/sizes table.
	TableSize = 1024 * TableEntrySize

	// HeaderSize is the total size of prelude+table preceding the payload area.
	HeaderSize = PreludeSize + TableSize

	// MaxChunkBytes is the largest compressed payload a single chunk slot may hold.
	MaxChunkBytes = 1 << 20 // 1 MiB

	// TimestampSize is the byte size of the trailing big-endian millisecond timestamp.
	TimestampSize = 8
)

// Header is the parsed fixed-size prelude of an LRF file.
type Header struct {
	Version     uint32
	ChunkCount  uint32
	Compression codec.Algo
}

// entry describes one chunk slot's location in the payload area.
// size == 0 means the slot is absent (spec.md §3 invariant).
type entry struct {
	Offset uint32
	Size   uint32
}

func encodeHeader(h Header, table [1024]entry) []byte {
	buf := make([]byte, HeaderSize)
	copy(buf[0:9], Magic)
	binary.LittleEndian.PutUint32(buf[9:13], h.Version)
	binary.LittleEndian.PutUint32(buf[13:17], h.ChunkCount)
	binary.LittleEndian.PutUint32(buf[17:21], uint32(h.Compression))
	// buf[21:256] stays zeroed padding.

	for i, e := range table {
		off := PreludeSize + i*TableEntrySize
		binary.LittleEndian.PutUint32(buf[off:off+4], e.Offset)
		binary.LittleEndian.PutUint32(buf[off+4:off+8], e.Size)
	}
	return buf
}

func decodeHeader(buf []byte) (Header, [1024]entry, error) {
	var h Header
	var table [1024]entry

	if len(buf) < HeaderSize {
		return h, table, fmt.Errorf("%w: short header (%d bytes)", errs.ErrInvalidFormat, len(buf))
	}
	if string(buf[0:9]) != Magic {
		return h, table, fmt.Errorf("%w: bad magic %q", errs.ErrInvalidFormat, buf[0:9])
	}

	h.Version = binary.LittleEndian.Uint32(buf[9:13])
	if h.Version != FormatVersion {
		return h, table, fmt.Errorf("%w: unsupported version %d", errs.ErrInvalidFormat, h.Version)
	}
	h.ChunkCount = binary.LittleEndian.Uint32(buf[13:17])
	h.Compression = codec.Algo(binary.LittleEndian.Uint32(buf[17:21]))

	for i := range table {
		off := PreludeSize + i*TableEntrySize
		table[i] = entry{
			Offset: binary.LittleEndian.Uint32(buf[off : off+4]),
			Size:   binary.LittleEndian.Uint32(buf[off+4 : off+8]),
		}
	}
	return h, table, nil
}
