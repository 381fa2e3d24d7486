package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	defaults "github.com/xtxerr/faultlogger/config"
)

// Config represents the complete fault log store configuration.
type Config struct {
	// DataDir is the root directory for all store files.
	DataDir string `yaml:"data_dir"`

	// WAL configures the append-only record log.
	WAL WALConfig `yaml:"wal"`

	// Query configures the query engine and async façade.
	Query QueryConfig `yaml:"query"`

	// Retention configures eviction of old records.
	Retention RetentionConfig `yaml:"retention"`

	// Logging configures the process logger.
	Logging LoggingConfig `yaml:"logging"`
}

// WALConfig configures the append-only record log.
type WALConfig struct {
	// Dir is the WAL directory. Defaults to {DataDir}/wal.
	Dir string `yaml:"dir"`

	// SyncMode controls durability of each append: sync, fsync.
	// "sync" flushes to the OS; "fsync" also forces the file to stable storage.
	SyncMode string `yaml:"sync_mode"`

	// MaxSegmentSize is the maximum segment size before rotation.
	MaxSegmentSize int64 `yaml:"max_segment_size"`

	// BufferSize is the write buffer size.
	BufferSize int `yaml:"buffer_size"`
}

// QueryConfig configures the query engine.
type QueryConfig struct {
	// MaxResults caps the number of records a single query returns.
	MaxResults int `yaml:"max_results"`

	// Workers is the size of the async query worker pool.
	Workers int `yaml:"workers"`

	// ReadParallelism bounds concurrent log body reads within one query.
	ReadParallelism int `yaml:"read_parallelism"`

	// MemoryLimit is the DuckDB memory limit for archive queries.
	MemoryLimit string `yaml:"memory_limit"`
}

// RetentionConfig configures eviction of old records.
type RetentionConfig struct {
	// Enabled turns on the periodic retention worker.
	Enabled bool `yaml:"enabled"`

	// Interval is the time between retention runs.
	Interval time.Duration `yaml:"interval"`

	// MaxAge evicts records older than this. Zero disables age eviction.
	MaxAge time.Duration `yaml:"max_age"`

	// MaxPerCategory keeps at most this many records per category.
	// Zero disables count eviction.
	MaxPerCategory int `yaml:"max_per_category"`

	// Archive configures Parquet archiving of evicted records.
	Archive ArchiveConfig `yaml:"archive"`
}

// ArchiveConfig configures Parquet archiving of evicted records.
type ArchiveConfig struct {
	// Enabled writes evicted records to Parquet before purging them.
	Enabled bool `yaml:"enabled"`

	// Dir is the archive directory. Defaults to {DataDir}/archive.
	Dir string `yaml:"dir"`

	// Compression is the Parquet codec: snappy, zstd, lz4, gzip, none.
	Compression string `yaml:"compression"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`

	// JSON switches to JSON output.
	JSON bool `yaml:"json"`
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return config, nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DataDir: defaults.DefaultDataDir,
		WAL: WALConfig{
			SyncMode:       defaults.DefaultSyncMode,
			MaxSegmentSize: defaults.DefaultMaxSegmentSize,
			BufferSize:     defaults.DefaultWALBufferSize,
		},
		Query: QueryConfig{
			MaxResults:      defaults.MaxQueryResults,
			Workers:         defaults.DefaultQueryWorkers,
			ReadParallelism: defaults.DefaultReadParallelism,
			MemoryLimit:     defaults.DefaultDuckDBMemoryLimit,
		},
		Retention: RetentionConfig{
			Enabled:        true,
			Interval:       defaults.DefaultRetentionInterval,
			MaxAge:         defaults.DefaultMaxAge,
			MaxPerCategory: defaults.DefaultMaxPerCategory,
			Archive: ArchiveConfig{
				Enabled:     true,
				Compression: defaults.DefaultArchiveCompression,
			},
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}
