package codec

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompressDecompressRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte{0xAB}, 4096)

	for _, algo := range []Algo{None, Zlib, LZ4, Zstd} {
		t.Run(algo.String(), func(t *testing.T) {
			res, err := Compress(payload, algo, 0)
			require.NoError(t, err)
			require.False(t, res.Fallback)

			out, err := Decompress(res.Data, res.Algo)
			require.NoError(t, err)
			require.Equal(t, payload, out)
		})
	}
}

func TestCompressUnsupportedAlgo(t *testing.T) {
	_, err := Compress([]byte("x"), Algo(99), 0)
	require.Error(t, err)
}

func TestDecompressMalformed(t *testing.T) {
	_, err := Decompress([]byte{0x00, 0x01, 0x02}, Zlib)
	require.Error(t, err)
}

func TestDetectMcaCompression(t *testing.T) {
	cases := []struct {
		b    byte
		algo Algo
		ok   bool
	}{
		{1, Zlib, true},
		{2, Zlib, true},
		{3, None, true},
		{4, LZ4, true},
		{99, None, false},
	}
	for _, c := range cases {
		algo, ok := DetectMcaCompression(c.b)
		require.Equal(t, c.ok, ok)
		if ok {
			require.Equal(t, c.algo, algo)
		}
	}
}
