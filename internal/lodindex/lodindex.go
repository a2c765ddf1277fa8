// Package lodindex implements the optional world-level turbo_index.twi LOD
// descriptor (spec.md §6, glossary "LOD descriptor"): a 1-byte-per-chunk
// packed [generated:1][height/16:4][biome_cat:3] record the storage engine
// exposes a path for but neither produces nor consumes beyond that.
package lodindex

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/google/renameio"

	"github.com/go-theft-craft/regionstore/internal/errs"
)

const magic = "TWI1"

// Descriptor is one chunk's level-of-detail summary.
type Descriptor struct {
	Generated     bool
	HeightDiv16   uint8 // 0..15, chunk's representative height divided by 16
	BiomeCategory uint8 // 0..7
}

// Pack encodes d into its 1-byte wire form.
func (d Descriptor) Pack() byte {
	var b byte
	if d.Generated {
		b |= 1 << 7
	}
	b |= (d.HeightDiv16 & 0x0F) << 3
	b |= d.BiomeCategory & 0x07
	return b
}

// Unpack decodes a 1-byte wire form into a Descriptor.
func Unpack(b byte) Descriptor {
	return Descriptor{
		Generated:     b&(1<<7) != 0,
		HeightDiv16:   (b >> 3) & 0x0F,
		BiomeCategory: b & 0x07,
	}
}

type chunkKey struct{ cx, cz int32 }

// Index is an in-memory, disk-backed map of chunk coordinate to LOD
// descriptor, for the whole world (unlike region files, it is not bounded
// to a 32x32 grid).
type Index struct {
	mu      sync.RWMutex
	entries map[chunkKey]byte
}

// New returns an empty Index.
func New() *Index {
	return &Index{entries: make(map[chunkKey]byte)}
}

// Get returns the descriptor stored for (cx, cz), if any.
func (idx *Index) Get(cx, cz int32) (Descriptor, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	b, ok := idx.entries[chunkKey{cx, cz}]
	if !ok {
		return Descriptor{}, false
	}
	return Unpack(b), true
}

// Set stores d for (cx, cz), overwriting any prior entry.
func (idx *Index) Set(cx, cz int32, d Descriptor) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.entries[chunkKey{cx, cz}] = d.Pack()
}

// Len reports how many chunks have a recorded descriptor.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries)
}

// Load reads a turbo_index.twi file from path into a new Index. A missing
// file yields an empty Index, not an error.
func Load(path string) (*Index, error) {
	idx := New()

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return idx, nil
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	header := make([]byte, len(magic)+4)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("%w: read %s header: %v", errs.ErrInvalidFormat, path, err)
	}
	if string(header[:len(magic)]) != magic {
		return nil, fmt.Errorf("%w: bad magic in %s", errs.ErrInvalidFormat, path)
	}
	count := binary.LittleEndian.Uint32(header[len(magic):])

	entry := make([]byte, 9)
	for i := uint32(0); i < count; i++ {
		if _, err := io.ReadFull(r, entry); err != nil {
			return nil, fmt.Errorf("%w: read entry %d of %s: %v", errs.ErrInvalidFormat, i, path, err)
		}
		cx := int32(binary.LittleEndian.Uint32(entry[0:4]))
		cz := int32(binary.LittleEndian.Uint32(entry[4:8]))
		idx.entries[chunkKey{cx, cz}] = entry[8]
	}
	return idx, nil
}

// Save atomically writes idx to path as a turbo_index.twi file.
func (idx *Index) Save(path string) error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	buf := make([]byte, 0, len(magic)+4+len(idx.entries)*9)
	buf = append(buf, magic...)
	countBytes := make([]byte, 4)
	binary.LittleEndian.PutUint32(countBytes, uint32(len(idx.entries)))
	buf = append(buf, countBytes...)

	entry := make([]byte, 9)
	for k, v := range idx.entries {
		binary.LittleEndian.PutUint32(entry[0:4], uint32(k.cx))
		binary.LittleEndian.PutUint32(entry[4:8], uint32(k.cz))
		entry[8] = v
		buf = append(buf, entry...)
	}

	if err := renameio.WriteFile(path, buf, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
