package lrf

import (
	"bytes"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-theft-craft/regionstore/pkg/codec"
)

func TestFlushAndReadOneChunk(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "r.0.0.lrf")

	payload := bytes.Repeat([]byte{0xAB}, 4096)
	err := Flush(path, codec.Zlib, 0, []Entry{
		{Index: 3*32 + 5, Payload: payload, TimestampMs: 1234},
	})
	require.NoError(t, err)

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	got, ts, ok, err := r.ReadChunk(3*32 + 5)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, payload, got)
	require.EqualValues(t, 1234, ts)

	_, _, ok, err = r.ReadChunk(0)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRoundTripFullRegion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "r.0.0.lrf")

	rng := rand.New(rand.NewSource(42))
	entries := make([]Entry, 1024)
	want := make([][]byte, 1024)
	for i := 0; i < 1024; i++ {
		p := make([]byte, 1024)
		rng.Read(p)
		want[i] = p
		entries[i] = Entry{Index: i, Payload: p, TimestampMs: uint64(1000 + i)}
	}

	require.NoError(t, Flush(path, codec.Zstd, 0, entries))

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	for i := 0; i < 1024; i++ {
		got, ts, ok, err := r.ReadChunk(i)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, want[i], got)
		require.EqualValues(t, 1000+i, ts)
	}
}

func TestFlushIdempotentModuloTimestamp(t *testing.T) {
	dir := t.TempDir()
	p1 := filepath.Join(dir, "a.lrf")
	p2 := filepath.Join(dir, "b.lrf")

	entries := []Entry{
		{Index: 0, Payload: []byte("hello"), TimestampMs: 1},
		{Index: 1, Payload: []byte("world"), TimestampMs: 1},
	}

	require.NoError(t, Flush(p1, codec.None, 0, entries))
	require.NoError(t, Flush(p2, codec.None, 0, entries))

	b1, err := readFileBytes(p1)
	require.NoError(t, err)
	b2, err := readFileBytes(p2)
	require.NoError(t, err)
	require.Equal(t, b1, b2)
}

func TestReadChunkRejectsOversizedOffset(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "r.0.0.lrf")
	require.NoError(t, Flush(path, codec.None, 0, []Entry{{Index: 0, Payload: []byte("x")}}))

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	r.table[0].Offset = uint32(r.size + 1000)
	_, _, err = r.ReadRaw(0)
	require.Error(t, err)
}

func TestPayloadTooLargeRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "r.0.0.lrf")
	big := make([]byte, MaxChunkBytes+1)
	err := Flush(path, codec.None, 0, []Entry{{Index: 0, Payload: big}})
	require.Error(t, err)
}

func TestPayloadAtExactMaxRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "r.0.0.lrf")
	exact := make([]byte, MaxChunkBytes)
	err := Flush(path, codec.None, 0, []Entry{{Index: 0, Payload: exact}})
	require.Error(t, err)
}

func TestBadMagicRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.lrf")
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte{0}, HeaderSize), 0o644))

	_, err := Open(path)
	require.Error(t, err)
}

func readFileBytes(path string) ([]byte, error) {
	r, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	buf := make([]byte, r.size)
	_, err = r.f.ReadAt(buf, 0)
	return buf, err
}
