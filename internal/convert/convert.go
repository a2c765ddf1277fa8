// Package convert implements RegionConverter (spec.md §4.10): directory-wide
// format conversion between LRF and MCA, corruption detection, and a
// small ordered set of repair strategies.
package convert

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-theft-craft/regionstore/internal/errs"
	"github.com/go-theft-craft/regionstore/pkg/codec"
	"github.com/go-theft-craft/regionstore/pkg/lrf"
	"github.com/go-theft-craft/regionstore/pkg/mca"
)

// Format is a target region file format.
type Format string

const (
	FormatLRF Format = "lrf"
	FormatMCA Format = "mca"
)

// Summary is the result of ConvertDirectory.
type Summary struct {
	Valid     int // already in the target format, left untouched
	Converted int
	Failed    int
	Errors    []string
}

// chunk is format-agnostic: Index, Payload, TimestampMs.
type chunk struct {
	Index       int
	Payload     []byte
	TimestampMs uint64
}

// ConvertDirectory enumerates region files under src by extension and
// converts each to target, writing to dst (dst == src converts in place).
// Per-chunk read errors are skipped and counted; a file aborts only on
// header corruption (spec.md §4.10).
func ConvertDirectory(src, dst string, target Format, log *slog.Logger) (Summary, error) {
	var summary Summary

	entries, err := os.ReadDir(src)
	if err != nil {
		return summary, fmt.Errorf("read dir %s: %w", src, err)
	}

	for _, de := range entries {
		if de.IsDir() {
			continue
		}
		ext := strings.TrimPrefix(filepath.Ext(de.Name()), ".")
		srcFormat := Format(ext)
		if srcFormat != FormatLRF && srcFormat != FormatMCA {
			continue
		}

		base := strings.TrimSuffix(de.Name(), filepath.Ext(de.Name()))
		srcPath := filepath.Join(src, de.Name())
		dstPath := filepath.Join(dst, base+"."+string(target))

		if srcFormat == target && srcPath == dstPath {
			summary.Valid++
			continue
		}

		if err := convertFile(srcPath, dstPath, srcFormat, target); err != nil {
			summary.Failed++
			summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %v", de.Name(), err))
			if log != nil {
				log.Warn("convert region file failed", "file", de.Name(), "error", err)
			}
			continue
		}
		summary.Converted++
	}

	sort.Strings(summary.Errors)
	return summary, nil
}

// ConvertFile converts a single region file, used by BackgroundScheduler to
// process one source-format file at a time across ticks (spec.md §4.11).
func ConvertFile(srcPath, dstPath string, srcFormat, target Format) error {
	return convertFile(srcPath, dstPath, srcFormat, target)
}

func convertFile(srcPath, dstPath string, srcFormat, target Format) error {
	chunks, err := readChunks(srcPath, srcFormat)
	if err != nil {
		return err // header corruption: abort this file only
	}

	return writeChunks(dstPath, target, chunks)
}

func readChunks(path string, format Format) ([]chunk, error) {
	switch format {
	case FormatLRF:
		r, err := lrf.Open(path)
		if err != nil {
			return nil, err
		}
		defer r.Close()

		var out []chunk
		for index := 0; index < 1024; index++ {
			payload, ts, ok, err := r.ReadChunk(index)
			if err != nil {
				continue // per-chunk error: skip, not fatal
			}
			if !ok {
				continue
			}
			out = append(out, chunk{Index: index, Payload: payload, TimestampMs: ts})
		}
		return out, nil

	case FormatMCA:
		raw, err := mca.ReadAll(path, nil)
		if err != nil {
			return nil, err
		}
		out := make([]chunk, len(raw))
		for i, c := range raw {
			out[i] = chunk{Index: c.Index, Payload: c.Payload, TimestampMs: c.TimestampMs}
		}
		return out, nil

	default:
		return nil, fmt.Errorf("%w: unknown source format %q", errs.ErrInvalidFormat, format)
	}
}

func writeChunks(path string, format Format, chunks []chunk) error {
	switch format {
	case FormatLRF:
		entries := make([]lrf.Entry, len(chunks))
		for i, c := range chunks {
			entries[i] = lrf.Entry{Index: c.Index, Payload: c.Payload, TimestampMs: c.TimestampMs}
		}
		return lrf.Flush(path, codec.Zstd, 0, entries)

	case FormatMCA:
		entries := make([]mca.Entry, len(chunks))
		for i, c := range chunks {
			entries[i] = mca.Entry{Index: c.Index, Payload: c.Payload, TimestampMs: c.TimestampMs}
		}
		return mca.Write(path, entries)

	default:
		return fmt.Errorf("%w: unknown target format %q", errs.ErrInvalidFormat, format)
	}
}

// CorruptionReport describes anomalies detected in a region file, enough
// to drive the repair strategies below (spec.md §4.10).
type CorruptionReport struct {
	Path            string
	BadMagic        bool
	BadVersion      bool
	ShortHeader     bool
	UnreadableCount int
	Anomalies       []string
}

// Corrupted reports whether any anomaly was found.
func (r CorruptionReport) Corrupted() bool {
	return r.BadMagic || r.BadVersion || r.ShortHeader || r.UnreadableCount > 0
}

// DetectCorruption inspects an LRF file's header and chunk bodies for
// anomalies.
func DetectCorruption(path string) (CorruptionReport, error) {
	report := CorruptionReport{Path: path}

	r, err := lrf.Open(path)
	if err != nil {
		if errors.Is(err, errs.ErrInvalidFormat) {
			msg := err.Error()
			report.ShortHeader = strings.Contains(msg, "short header")
			report.BadMagic = strings.Contains(msg, "bad magic")
			report.BadVersion = strings.Contains(msg, "unsupported version")
			report.Anomalies = append(report.Anomalies, msg)
			return report, nil
		}
		return report, err
	}
	defer r.Close()

	for index := 0; index < 1024; index++ {
		if _, _, ok, err := r.ReadCompressed(index); err != nil {
			report.UnreadableCount++
			report.Anomalies = append(report.Anomalies, fmt.Sprintf("chunk %d: %v", index, err))
		} else if ok {
			continue
		}
	}
	return report, nil
}

// backupDirName is the subdirectory repair strategies stash pre-repair
// copies under, relative to the region file's own directory.
const backupDirName = ".corruption_backup"

func backupFile(path string) (string, error) {
	dir := filepath.Join(filepath.Dir(path), backupDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}
	backupPath := filepath.Join(dir, filepath.Base(path)+".backup."+strconv.FormatInt(time.Now().UnixMilli(), 10))

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s for backup: %w", path, err)
	}
	if err := os.WriteFile(backupPath, data, 0o644); err != nil {
		return "", fmt.Errorf("write backup %s: %w", backupPath, err)
	}
	return backupPath, nil
}

// Repair attempts, in order, header reconstruction, compression
// correction, conversion to MCA, and data recovery, returning the name of
// the strategy that succeeded or an error if all failed. Every attempt is
// gated by a pre-repair backup under .corruption_backup/ (spec.md §4.10).
func Repair(path string) (strategy string, err error) {
	if _, err := backupFile(path); err != nil {
		return "", err
	}

	if s, err := repairHeaderReconstruction(path); err == nil {
		return s, nil
	}
	if s, err := repairCompressionCorrection(path); err == nil {
		return s, nil
	}
	if s, err := repairConvertToMCA(path); err == nil {
		return s, nil
	}
	return repairDataRecovery(path)
}

// repairHeaderReconstruction reads every chunk that decodes through the
// file's existing header and table, then rewrites the file with a fresh
// header and table (chunk count from the readable chunks, compression
// Zstd). It does not scan chunk bodies without a table: a file whose header
// fails to parse is not repaired by this strategy.
func repairHeaderReconstruction(path string) (string, error) {
	chunks, err := readChunks(path, FormatLRF)
	if err != nil || len(chunks) == 0 {
		return "", fmt.Errorf("header reconstruction: no readable chunks: %w", err)
	}
	if err := writeChunks(path, FormatLRF, chunks); err != nil {
		return "", fmt.Errorf("header reconstruction: %w", err)
	}
	return "header-reconstruction", nil
}

// repairCompressionCorrection tries decoding the chunk bodies with each
// supported compression algorithm in turn, on the theory that only the
// declared compression byte (not the chunk bodies themselves) was
// corrupted, and rewrites the file from the first algorithm that decodes at
// least one chunk. None is tried last because it accepts any bytes.
func repairCompressionCorrection(path string) (string, error) {
	for _, algo := range []codec.Algo{codec.Zlib, codec.LZ4, codec.Zstd, codec.None} {
		chunks, err := tryReadWithAlgo(path, algo)
		if err != nil || len(chunks) == 0 {
			continue
		}
		if err := writeChunks(path, FormatLRF, chunks); err != nil {
			continue
		}
		return "compression-correction", nil
	}
	return "", errors.New("compression correction: no algorithm produced readable chunks")
}

func tryReadWithAlgo(path string, algo codec.Algo) ([]chunk, error) {
	r, err := lrf.Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var out []chunk
	for index := 0; index < 1024; index++ {
		compressed, _, ok, err := r.ReadCompressed(index)
		if err != nil || !ok {
			continue
		}
		raw, err := codec.Decompress(compressed, algo)
		if err != nil || len(raw) < lrf.TimestampSize {
			continue
		}
		out = append(out, chunk{Index: index, Payload: raw[:len(raw)-lrf.TimestampSize]})
	}
	return out, nil
}

// repairConvertToMCA salvages readable chunks into a sibling MCA file as
// a last-resort recovery format.
func repairConvertToMCA(path string) (string, error) {
	chunks, err := readChunks(path, FormatLRF)
	if err != nil || len(chunks) == 0 {
		return "", fmt.Errorf("convert to mca: no readable chunks: %w", err)
	}
	dst := strings.TrimSuffix(path, filepath.Ext(path)) + ".mca"
	if err := writeChunks(dst, FormatMCA, chunks); err != nil {
		return "", fmt.Errorf("convert to mca: %w", err)
	}
	return "convert-to-mca", nil
}

// repairDataRecovery salvages whatever chunk payloads are readable by any
// means into a standalone .recovery file; it never fails short of an I/O
// error, since an empty recovery is still a recovery.
func repairDataRecovery(path string) (string, error) {
	var chunks []chunk
	for _, algo := range []codec.Algo{codec.None, codec.Zlib, codec.LZ4, codec.Zstd} {
		found, err := tryReadWithAlgo(path, algo)
		if err != nil {
			continue
		}
		chunks = append(chunks, found...)
	}

	dir := filepath.Join(filepath.Dir(path), "recovery")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("data recovery: %w", err)
	}
	dst := filepath.Join(dir, filepath.Base(path)+".recovery")

	entries := make([]lrf.Entry, len(chunks))
	for i, c := range chunks {
		entries[i] = lrf.Entry{Index: c.Index, Payload: c.Payload}
	}
	if err := lrf.Flush(dst, codec.None, 0, entries); err != nil {
		return "", fmt.Errorf("data recovery: write %s: %w", dst, err)
	}
	return "data-recovery", nil
}
