// Package region defines the chunk/region coordinate math shared by every
// storage backend: region file naming, local chunk index, and the fixed
// 32x32 grid layout.
package region

import "fmt"

// GridSize is the number of chunks along one edge of a region.
const GridSize = 32

// ChunksPerRegion is the number of chunk slots in one region file.
const ChunksPerRegion = GridSize * GridSize

// Coord identifies a region by its (rx, rz) grid position.
type Coord struct {
	X, Z int32
}

// Of returns the region coordinate containing chunk (cx, cz).
func Of(cx, cz int32) Coord {
	return Coord{X: cx >> 5, Z: cz >> 5}
}

// Index returns the local slot index (0..1023) of chunk (cx, cz) within
// its region, per spec: index = (cz & 31) * 32 + (cx & 31).
func Index(cx, cz int32) int {
	return int(cz&31)*GridSize + int(cx&31)
}

// LocalXZ returns the local (x, z) within-region coordinates for an index
// produced by Index.
func LocalXZ(index int) (lx, lz int) {
	return index % GridSize, index / GridSize
}

// FileName returns the canonical region file name for the given extension
// ("lrf" or "mca"), e.g. "r.0.-1.lrf".
func (c Coord) FileName(ext string) string {
	return fmt.Sprintf("r.%d.%d.%s", c.X, c.Z, ext)
}

func (c Coord) String() string {
	return fmt.Sprintf("(%d,%d)", c.X, c.Z)
}
