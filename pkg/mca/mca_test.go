package mca

import (
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "r.0.0.mca")

	payload := []byte("hello region world, this is chunk payload data")
	err := Write(path, []Entry{{Index: 5, Payload: payload, TimestampMs: 1_700_000_000_000}})
	require.NoError(t, err)

	chunks, err := ReadAll(path, nil)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	require.Equal(t, 5, chunks[0].Index)
	require.Equal(t, payload, chunks[0].Payload)
	require.EqualValues(t, 1_700_000_000_000, chunks[0].TimestampMs)
}

func TestWriteLocationTableLayout(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "r.0.0.mca")

	require.NoError(t, Write(path, []Entry{{Index: 0, Payload: []byte("x")}}))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var locations [SectorSize]byte
	_, err = io.ReadFull(f, locations[:])
	require.NoError(t, err)

	entry := binary.BigEndian.Uint32(locations[0:4])
	offset := entry >> 8
	sectorCount := entry & 0xFF

	require.EqualValues(t, HeaderSectors, offset)
	require.NotZero(t, sectorCount)
}

func TestReadAllSkipsAbsentSlots(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "r.0.0.mca")
	require.NoError(t, Write(path, []Entry{{Index: 10, Payload: []byte("data")}}))

	chunks, err := ReadAll(path, nil)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	require.Equal(t, 10, chunks[0].Index)
}

func TestReadAllReportsUnsupportedCompression(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "r.0.0.mca")
	require.NoError(t, Write(path, []Entry{{Index: 0, Payload: []byte("data")}}))

	// Corrupt the compression byte of chunk 0 to an LZ4 marker over data
	// that isn't valid LZ4, to exercise the non-fatal skip path.
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte{4}, HeaderSize+4)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	var skipped []int
	chunks, err := ReadAll(path, func(index int, err error) { skipped = append(skipped, index) })
	require.NoError(t, err)
	require.Empty(t, chunks)
	require.Equal(t, []int{0}, skipped)
}

func TestReadAllMultipleChunks(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "r.0.0.mca")

	entries := make([]Entry, 0, 5)
	for i := 0; i < 5; i++ {
		entries = append(entries, Entry{Index: i, Payload: []byte{byte(i), byte(i), byte(i)}, TimestampMs: uint64(i) * 1000})
	}
	require.NoError(t, Write(path, entries))

	chunks, err := ReadAll(path, nil)
	require.NoError(t, err)
	require.Len(t, chunks, 5)
}
