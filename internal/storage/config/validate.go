package config

import (
	"fmt"
	"os"
	"path/filepath"

	defaults "github.com/xtxerr/faultlogger/config"
	"github.com/xtxerr/faultlogger/internal/errors"
)

// Validate checks the configuration and reports every problem at once.
// The returned error matches errors.ErrInvalidConfig.
func (c *Config) Validate() error {
	v := errors.NewValidationErrors()

	if c.DataDir == "" {
		v.AddField("data_dir", "required")
	}

	c.WAL.validate(v)
	c.Query.validate(v)
	c.Retention.validate(v)

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		v.AddField("logging.level", fmt.Sprintf("unknown level %q", c.Logging.Level))
	}

	return v.Err()
}

func (c *WALConfig) validate(v *errors.ValidationErrors) {
	switch c.SyncMode {
	case "sync", "fsync":
	default:
		v.AddField("wal.sync_mode", fmt.Sprintf("%q must be sync or fsync", c.SyncMode))
	}

	if c.MaxSegmentSize < defaults.MinSegmentSize {
		v.AddField("wal.max_segment_size", fmt.Sprintf("must be at least %d bytes", defaults.MinSegmentSize))
	}

	if c.BufferSize < 0 {
		v.AddField("wal.buffer_size", "must not be negative")
	}
}

func (c *QueryConfig) validate(v *errors.ValidationErrors) {
	if c.MaxResults <= 0 {
		v.AddField("query.max_results", "must be positive")
	}

	if c.Workers <= 0 {
		v.AddField("query.workers", "must be positive")
	}

	if c.ReadParallelism <= 0 {
		v.AddField("query.read_parallelism", "must be positive")
	}

	if c.MemoryLimit != "" {
		if _, err := ParseSize(c.MemoryLimit); err != nil {
			v.AddField("query.memory_limit", err.Error())
		}
	}
}

func (c *RetentionConfig) validate(v *errors.ValidationErrors) {
	if c.Enabled && c.Interval <= 0 {
		v.AddField("retention.interval", "must be positive when enabled")
	}

	if c.MaxAge < 0 {
		v.AddField("retention.max_age", "must not be negative")
	}

	if c.MaxPerCategory < 0 {
		v.AddField("retention.max_per_category", "must not be negative")
	}

	switch c.Archive.Compression {
	case "", "snappy", "zstd", "lz4", "gzip", "none":
	default:
		v.AddField("retention.archive.compression", fmt.Sprintf("unknown codec %q", c.Archive.Compression))
	}
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.DataDir,
		c.WALDir(),
	}
	if c.Retention.Archive.Enabled {
		dirs = append(dirs, c.ArchiveDir())
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return nil
}

// WALDir returns the WAL directory path.
func (c *Config) WALDir() string {
	if c.WAL.Dir != "" {
		return c.WAL.Dir
	}
	return filepath.Join(c.DataDir, "wal")
}

// ArchiveDir returns the Parquet archive directory path.
func (c *Config) ArchiveDir() string {
	if c.Retention.Archive.Dir != "" {
		return c.Retention.Archive.Dir
	}
	return filepath.Join(c.DataDir, "archive")
}
