// Package scheduler implements BackgroundScheduler (spec.md §4.11): an
// idle-gated periodic tick that drives RegionConverter over the next
// batch of source-format files.
package scheduler

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/go-theft-craft/regionstore/internal/convert"
)

// Config tunes the scheduler's tick cadence, idle gate, and batch size.
type Config struct {
	CheckInterval  time.Duration
	CPUThreshold   float64
	MinIdleTime    time.Duration
	MaxConcurrent  int
}

// DefaultConfig returns spec.md §4.11's defaults.
func DefaultConfig() Config {
	return Config{
		CheckInterval: 5 * time.Minute,
		CPUThreshold:  0.3,
		MinIdleTime:   30 * time.Second,
		MaxConcurrent: 2,
	}
}

// Progress reports conversion progress across ticks.
type Progress struct {
	Converted int
	Total     int
}

// Scheduler periodically converts source-format region files to a target
// format while the host is idle.
type Scheduler struct {
	cfg    Config
	log    *slog.Logger
	cpu    func() float64
	idle   func() time.Duration

	cron *cron.Cron

	mu      sync.Mutex
	dir     string
	target  convert.Format
	pending []string // paths still awaiting conversion
	total   int
}

// New constructs a Scheduler. cpuFn reports current process CPU usage as a
// 0..1 fraction; idleFn reports how long the host has been idle. Both are
// externally injected since they depend on the surrounding process, not
// this package.
func New(cfg Config, cpuFn func() float64, idleFn func() time.Duration, log *slog.Logger) *Scheduler {
	if cfg.CheckInterval <= 0 {
		cfg = DefaultConfig()
	}
	return &Scheduler{
		cfg:  cfg,
		log:  log,
		cpu:  cpuFn,
		idle: idleFn,
	}
}

// Start scans dir for region files not already in target format, then
// begins the periodic tick that converts them in small idle-gated
// batches.
func (s *Scheduler) Start(dir string, target convert.Format) error {
	pending, err := sourceFormatFiles(dir, target)
	if err != nil {
		return fmt.Errorf("scan %s: %w", dir, err)
	}

	s.mu.Lock()
	s.dir = dir
	s.target = target
	s.pending = pending
	s.total = len(pending)
	s.mu.Unlock()

	s.cron = cron.New()
	spec := fmt.Sprintf("@every %s", s.cfg.CheckInterval)
	if _, err := s.cron.AddFunc(spec, s.tick); err != nil {
		return fmt.Errorf("schedule tick: %w", err)
	}
	s.cron.Start()
	return nil
}

func sourceFormatFiles(dir string, target convert.Format) ([]string, error) {
	source := convert.FormatMCA
	if target == convert.FormatMCA {
		source = convert.FormatLRF
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var out []string
	for _, de := range entries {
		if de.IsDir() {
			continue
		}
		if strings.TrimPrefix(filepath.Ext(de.Name()), ".") == string(source) {
			out = append(out, filepath.Join(dir, de.Name()))
		}
	}
	return out, nil
}

// idleGate reports whether conversion work may proceed: CPU usage below
// threshold AND idle time at least MinIdleTime (spec.md §4.11).
func (s *Scheduler) idleGate() bool {
	if s.cpu == nil || s.idle == nil {
		return true
	}
	return s.cpu() < s.cfg.CPUThreshold && s.idle() >= s.cfg.MinIdleTime
}

func (s *Scheduler) tick() {
	if !s.idleGate() {
		return
	}

	s.mu.Lock()
	n := s.cfg.MaxConcurrent
	if n > len(s.pending) {
		n = len(s.pending)
	}
	batch := s.pending[:n]
	s.pending = s.pending[n:]
	target := s.target
	s.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	var eg errgroup.Group
	eg.SetLimit(s.cfg.MaxConcurrent)
	for _, srcPath := range batch {
		srcPath := srcPath
		eg.Go(func() error {
			source := convert.FormatMCA
			if target == convert.FormatMCA {
				source = convert.FormatLRF
			}
			base := strings.TrimSuffix(srcPath, filepath.Ext(srcPath))
			dstPath := base + "." + string(target)
			if err := convert.ConvertFile(srcPath, dstPath, source, target); err != nil {
				if s.log != nil {
					s.log.Warn("background conversion failed", "path", srcPath, "error", err)
				}
			}
			return nil
		})
	}
	_ = eg.Wait() // per-file errors are logged, not propagated; they don't abort the batch
}

// Progress reports how many of the originally-discovered files have been
// processed so far.
func (s *Scheduler) Progress() Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Progress{Converted: s.total - len(s.pending), Total: s.total}
}

// Stop finishes in-flight tasks, then releases the scheduler thread.
func (s *Scheduler) Stop() {
	if s.cron == nil {
		return
	}
	ctx := s.cron.Stop()
	<-ctx.Done()
}
