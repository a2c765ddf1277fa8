// Package codec implements the Codec component from spec.md §4.1:
// compress/decompress for the four supported algorithms, plus the MCA
// per-chunk compression byte mapping.
package codec

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/go-theft-craft/regionstore/internal/errs"
)

// Algo identifies a compression algorithm. The numeric values match the
// LRF header's compression-type field (spec.md §3).
type Algo uint32

const (
	None Algo = 0
	Zlib Algo = 1
	LZ4  Algo = 2
	Zstd Algo = 3
)

func (a Algo) String() string {
	switch a {
	case None:
		return "none"
	case Zlib:
		return "zlib"
	case LZ4:
		return "lz4"
	case Zstd:
		return "zstd"
	default:
		return fmt.Sprintf("algo(%d)", uint32(a))
	}
}

// McaCompression identifies the legacy MCA per-chunk compression byte
// (spec.md §3): 1=gzip, 2=zlib, 3=none, 4=LZ4.
type McaCompression byte

const (
	McaGzip McaCompression = 1
	McaZlib McaCompression = 2
	McaNone McaCompression = 3
	McaLZ4  McaCompression = 4
)

// DetectMcaCompression maps an MCA compression byte to the corresponding
// Algo, or reports ok=false for an unrecognized byte.
func DetectMcaCompression(b byte) (Algo, bool) {
	switch McaCompression(b) {
	case McaGzip:
		return Zlib, true // gzip is decoded via the gzip reader, re-encoded as zlib on write
	case McaZlib:
		return Zlib, true
	case McaNone:
		return None, true
	case McaLZ4:
		return LZ4, true
	default:
		return None, false
	}
}

// Result carries the outcome of a Compress call, including whether the
// engine silently fell back to None after a non-Unsupported failure.
type Result struct {
	Data     []byte
	Algo     Algo
	Fallback bool
}

var zstdEncoder *zstd.Encoder
var zstdDecoder *zstd.Decoder

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic(fmt.Sprintf("codec: init zstd encoder: %v", err))
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic(fmt.Sprintf("codec: init zstd decoder: %v", err))
	}
}

// Compress compresses data with algo at the given level (level is only
// consulted for Zlib; klauspost/zstd and pierrec/lz4 pick their own
// defaults). On any compression failure other than an unsupported
// algorithm, it falls back to None and reports Fallback=true.
func Compress(data []byte, algo Algo, level int) (Result, error) {
	switch algo {
	case None:
		return Result{Data: data, Algo: None}, nil

	case Zlib:
		out, err := compressZlib(data, level)
		if err != nil {
			return Result{Data: data, Algo: None, Fallback: true}, nil
		}
		return Result{Data: out, Algo: Zlib}, nil

	case LZ4:
		out, err := compressLZ4(data)
		if err != nil {
			return Result{Data: data, Algo: None, Fallback: true}, nil
		}
		return Result{Data: out, Algo: LZ4}, nil

	case Zstd:
		out := zstdEncoder.EncodeAll(data, make([]byte, 0, len(data)))
		return Result{Data: out, Algo: Zstd}, nil

	default:
		return Result{}, fmt.Errorf("%w: algo %s", errs.ErrUnsupportedCodec, algo)
	}
}

// Decompress decompresses data previously produced by Compress for algo.
func Decompress(data []byte, algo Algo) ([]byte, error) {
	switch algo {
	case None:
		return data, nil
	case Zlib:
		return decompressZlib(data)
	case LZ4:
		return decompressLZ4(data)
	case Zstd:
		out, err := zstdDecoder.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: zstd: %v", errs.ErrMalformedPayload, err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: algo %s", errs.ErrUnsupportedCodec, algo)
	}
}

// DecompressMca decompresses an MCA chunk payload using the legacy
// per-chunk compression byte. LZ4 on read may be unsupported; callers
// should treat a returned error as "chunk unreadable, count and skip"
// rather than fatal (spec.md §4.3).
func DecompressMca(data []byte, mc McaCompression) ([]byte, error) {
	switch mc {
	case McaGzip:
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("%w: gzip: %v", errs.ErrMalformedPayload, err)
		}
		defer zr.Close()
		out, err := io.ReadAll(zr)
		if err != nil {
			return nil, fmt.Errorf("%w: gzip: %v", errs.ErrMalformedPayload, err)
		}
		return out, nil
	case McaZlib:
		return decompressZlib(data)
	case McaNone:
		return data, nil
	case McaLZ4:
		return decompressLZ4(data)
	default:
		return nil, fmt.Errorf("%w: mca compression byte %d", errs.ErrUnsupportedCodec, mc)
	}
}

func compressZlib(data []byte, level int) ([]byte, error) {
	if level < zlib.HuffmanOnly || level > zlib.BestCompression {
		level = zlib.DefaultCompression
	}
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompressZlib(data []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: zlib: %v", errs.ErrMalformedPayload, err)
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("%w: zlib: %v", errs.ErrMalformedPayload, err)
	}
	return out, nil
}

func compressLZ4(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompressLZ4(data []byte) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(data))
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: lz4: %v", errs.ErrMalformedPayload, err)
	}
	return out, nil
}
