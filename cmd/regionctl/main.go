// Command regionctl is the operator CLI for the region storage engine: it
// exposes RegionConverter's directory conversion and corruption detection,
// and StorageManager's region validation and stats, the way the teacher's
// cmd/server wraps its own Storage façade.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/go-theft-craft/regionstore/internal/convert"
	"github.com/go-theft-craft/regionstore/internal/storagemgr"
	"github.com/go-theft-craft/regionstore/pkg/region"
)

func main() {
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "convert":
		err = runConvert(os.Args[2:], log)
	case "validate":
		err = runValidate(ctx, os.Args[2:], log)
	case "stats":
		err = runStats(ctx, os.Args[2:], log)
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		log.Error("regionctl failed", "command", os.Args[1], "error", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: regionctl <convert|validate|stats> [flags]")
}

func runConvert(args []string, log *slog.Logger) error {
	fs := pflag.NewFlagSet("convert", pflag.ExitOnError)
	src := fs.String("src", "", "source region directory")
	dst := fs.String("dst", "", "destination region directory (defaults to src for in-place conversion)")
	target := fs.String("target", "lrf", "target format: lrf or mca")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *src == "" {
		return fmt.Errorf("convert: --src is required")
	}
	if *dst == "" {
		*dst = *src
	}

	summary, err := convert.ConvertDirectory(*src, *dst, convert.Format(*target), log)
	if err != nil {
		return err
	}
	log.Info("conversion complete",
		"valid", summary.Valid, "converted", summary.Converted, "failed", summary.Failed)
	for _, e := range summary.Errors {
		log.Warn("conversion error", "detail", e)
	}
	return nil
}

func runValidate(ctx context.Context, args []string, log *slog.Logger) error {
	fs := pflag.NewFlagSet("validate", pflag.ExitOnError)
	path := fs.String("region", "", "path to a single region file (.lrf)")
	dir := fs.String("region-dir", "", "directory of region files to scan for corruption")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *path != "" {
		mgr := storagemgr.New(storagemgr.DefaultConfig(), log)
		defer mgr.Close()

		reports, err := mgr.ValidateRegion(ctx, *path)
		if err != nil {
			return err
		}
		for _, r := range reports {
			log.Info("chunk validated", "index", r.Index, "verdict", r.Verdict.String(), "attempt", r.Attempt)
		}
		return nil
	}

	if *dir == "" {
		return fmt.Errorf("validate: one of --region or --region-dir is required")
	}
	entries, err := os.ReadDir(*dir)
	if err != nil {
		return err
	}
	for _, de := range entries {
		if de.IsDir() {
			continue
		}
		report, err := convert.DetectCorruption(filepath.Join(*dir, de.Name()))
		if err != nil {
			log.Warn("detect corruption", "file", de.Name(), "error", err)
			continue
		}
		if report.Corrupted() {
			log.Warn("corruption detected", "file", de.Name(), "anomalies", report.Anomalies)
		}
	}
	return nil
}

func runStats(ctx context.Context, args []string, log *slog.Logger) error {
	fs := pflag.NewFlagSet("stats", pflag.ExitOnError)
	dir := fs.String("region-dir", "", "region directory to warm and report stats for")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *dir == "" {
		return fmt.Errorf("stats: --region-dir is required")
	}

	entries, err := os.ReadDir(*dir)
	if err != nil {
		return err
	}

	mgr := storagemgr.New(storagemgr.DefaultConfig(), log)
	defer mgr.Close()

	for _, de := range entries {
		if de.IsDir() {
			continue
		}
		path := filepath.Join(*dir, de.Name())
		for lz := 0; lz < region.GridSize; lz++ {
			for lx := 0; lx < region.GridSize; lx++ {
				select {
				case <-ctx.Done():
					return ctx.Err()
				default:
				}
				if _, _, err := mgr.LoadChunk(ctx, path, int32(lx), int32(lz)); err != nil {
					log.Warn("load chunk", "path", path, "error", err)
				}
			}
		}
	}

	stats := mgr.Stats()
	log.Info("storage stats",
		"loads", stats.Loads,
		"decompressions", stats.Decompressions,
		"cache_hits", stats.CacheHits,
		"cache_misses", stats.CacheMisses,
		"corruptions", stats.Corruptions,
		"repairs", stats.Repairs,
		"io_time", stats.IoTime)
	return nil
}
