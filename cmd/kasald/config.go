// ABOUTME: Daemon configuration loaded from an optional YAML file with KASAL_* environment overrides.
// ABOUTME: Defaults keep the daemon bound to loopback with a data directory under the user home.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds the daemon configuration.
type Config struct {
	Bind             string `yaml:"bind"`               // listen address (default: 127.0.0.1:8750)
	DataDir          string `yaml:"data_dir"`           // root for the database and output directory
	QueueCapacity    int    `yaml:"queue_capacity"`     // trace queue bound (default: 1000)
	CleanupBatchSize int    `yaml:"cleanup_batch_size"` // stale-job scan page size (default: 100)
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "/tmp"
	}
	return Config{
		Bind:             "127.0.0.1:8750",
		DataDir:          filepath.Join(home, ".kasald"),
		QueueCapacity:    1000,
		CleanupBatchSize: 100,
	}
}

// LoadConfig builds the effective configuration: defaults, then the YAML file
// if a path is given, then KASAL_* environment variables on top.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file: %w", err)
		}
	}

	if v := os.Getenv("KASAL_BIND"); v != "" {
		cfg.Bind = v
	}
	if v := os.Getenv("KASAL_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("KASAL_QUEUE_CAPACITY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return cfg, fmt.Errorf("invalid KASAL_QUEUE_CAPACITY %q", v)
		}
		cfg.QueueCapacity = n
	}
	if v := os.Getenv("KASAL_CLEANUP_BATCH"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return cfg, fmt.Errorf("invalid KASAL_CLEANUP_BATCH %q", v)
		}
		cfg.CleanupBatchSize = n
	}

	return cfg, nil
}

// DatabasePath is the SQLite file inside the data directory.
func (c Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "tracking.db")
}

// OutputDir is the shared directory for per-task and combined outputs.
func (c Config) OutputDir() string {
	return filepath.Join(c.DataDir, "output")
}
