// Package config holds the storage engine's configuration surface
// (spec.md §6's enumerated storage.* options), loaded from and saved to
// YAML the way the teacher's flat config struct loads and saves JSON.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/google/renameio"
	"gopkg.in/yaml.v3"
)

// Config holds every storage.* option spec.md §6 enumerates.
type Config struct {
	Format         string `yaml:"format"`          // auto | lrf | mca
	ConversionMode string `yaml:"conversion-mode"` // manual | on-demand | background | full-lrf
	AutoConvert    bool   `yaml:"auto-convert"`

	CompressionAlgorithm string `yaml:"compression-algorithm"` // none | lz4 | zstd | zlib
	CompressionLevel     int    `yaml:"compression-level"`

	Batch struct {
		Enabled      bool `yaml:"enabled"`
		LoadThreads  int  `yaml:"load-threads"`
		SaveThreads  int  `yaml:"save-threads"`
		BatchSize    int  `yaml:"batch-size"`
		FlushDelayMs int  `yaml:"flush-delay-ms"`
	} `yaml:"batch"`

	Mmap struct {
		Enabled        bool `yaml:"enabled"`
		CacheEntries   int  `yaml:"cache-entries"`
		CacheBytes     int64 `yaml:"cache-bytes"`
		PrefetchRadius int  `yaml:"prefetch-radius"`
	} `yaml:"mmap"`

	Integrity struct {
		Enabled         bool   `yaml:"enabled"`
		Algorithm       string `yaml:"algorithm"`
		BackupAlgorithm string `yaml:"backup-algorithm"`
	} `yaml:"integrity"`

	LrfTimeoutSeconds int  `yaml:"lrf.timeout-seconds"`
	Verbose           bool `yaml:"verbose"`

	Background struct {
		CheckIntervalMinutes int     `yaml:"check-interval-minutes"`
		MaxConcurrent        int     `yaml:"max-concurrent"`
		CPUThreshold         float64 `yaml:"cpu-threshold"`
		MinIdleTimeMs        int     `yaml:"min-idle-time-ms"`
	} `yaml:"background"`
}

// DefaultConfig returns a Config populated with spec.md §6's defaults.
func DefaultConfig() *Config {
	cfg := &Config{
		Format:                "auto",
		ConversionMode:        "manual",
		AutoConvert:           false,
		CompressionAlgorithm:  "zstd",
		CompressionLevel:      0,
		LrfTimeoutSeconds:     10,
		Verbose:               false,
	}
	cfg.Batch.Enabled = true
	cfg.Batch.LoadThreads = 4
	cfg.Batch.SaveThreads = 4
	cfg.Batch.BatchSize = 64
	cfg.Batch.FlushDelayMs = 100

	cfg.Mmap.Enabled = true
	cfg.Mmap.CacheEntries = 512
	cfg.Mmap.CacheBytes = 256 << 20
	cfg.Mmap.PrefetchRadius = 4

	cfg.Integrity.Enabled = true
	cfg.Integrity.Algorithm = "crc32c"
	cfg.Integrity.BackupAlgorithm = "sha256"

	cfg.Background.CheckIntervalMinutes = 5
	cfg.Background.MaxConcurrent = 2
	cfg.Background.CPUThreshold = 0.3
	cfg.Background.MinIdleTimeMs = 30000

	return cfg
}

// FlushDelay returns Batch.FlushDelayMs as a time.Duration.
func (c *Config) FlushDelay() time.Duration {
	return time.Duration(c.Batch.FlushDelayMs) * time.Millisecond
}

// MinIdleTime returns Background.MinIdleTimeMs as a time.Duration.
func (c *Config) MinIdleTime() time.Duration {
	return time.Duration(c.Background.MinIdleTimeMs) * time.Millisecond
}

// CheckInterval returns Background.CheckIntervalMinutes as a time.Duration.
func (c *Config) CheckInterval() time.Duration {
	return time.Duration(c.Background.CheckIntervalMinutes) * time.Minute
}

// Load reads path into cfg. If the file does not exist, cfg is left
// unchanged (the caller is expected to start from DefaultConfig).
func Load(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// Save writes cfg to path atomically via a temp file and rename.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}
