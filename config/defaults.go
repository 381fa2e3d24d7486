// Package config provides configuration defaults for the fault logger.
//
// This package defines all configurable constants with documented defaults.
// Users can override most of these values via the YAML config file.
package config

import "time"

// =============================================================================
// Storage Defaults
// =============================================================================

const (
	// DefaultDataDir is the root directory of the store.
	// Override via config: data_dir
	DefaultDataDir = "/var/lib/faultlogger"

	// DefaultSyncMode makes every append durable before it is acknowledged.
	// Override via config: wal.sync_mode
	DefaultSyncMode = "fsync"

	// DefaultMaxSegmentSize is the WAL segment size before rotation.
	// Override via config: wal.max_segment_size
	DefaultMaxSegmentSize = 64 * 1024 * 1024

	// MinSegmentSize is the smallest accepted segment size.
	MinSegmentSize = 4096

	// DefaultWALBufferSize is the WAL write buffer size.
	// Override via config: wal.buffer_size
	DefaultWALBufferSize = 64 * 1024
)

// =============================================================================
// Query Defaults
// =============================================================================

const (
	// MaxQueryResults is the largest number of records one query returns.
	// Requests for more, or for a non-positive limit, are clamped to it.
	// Override via config: query.max_results
	MaxQueryResults = 100

	// DefaultQueryWorkers is the size of the async query worker pool.
	// Override via config: query.workers
	DefaultQueryWorkers = 8

	// DefaultReadParallelism bounds concurrent body reads within one query.
	// Override via config: query.read_parallelism
	DefaultReadParallelism = 4

	// DefaultDuckDBMemoryLimit bounds archive analysis memory.
	// Override via config: query.memory_limit
	DefaultDuckDBMemoryLimit = "256MB"
)

// =============================================================================
// Retention Defaults
// =============================================================================

const (
	// DefaultRetentionInterval is the time between retention passes.
	// Override via config: retention.interval
	DefaultRetentionInterval = time.Hour

	// DefaultMaxAge evicts records older than this.
	// Override via config: retention.max_age
	DefaultMaxAge = 30 * 24 * time.Hour

	// DefaultMaxPerCategory keeps at most this many records per category.
	// Override via config: retention.max_per_category
	DefaultMaxPerCategory = 1000

	// DefaultArchiveCompression is the Parquet codec of archive files.
	// Override via config: retention.archive.compression
	DefaultArchiveCompression = "zstd"
)

// =============================================================================
// Shutdown Defaults
// =============================================================================

const (
	// DefaultDrainTimeout is how long Close waits for in-flight async queries.
	DefaultDrainTimeout = 30 * time.Second
)

// =============================================================================
// Producer Defaults
// =============================================================================

const (
	// ScriptCrashInterval is the minimum time between two script crash
	// records of one process.
	ScriptCrashInterval = 60 * time.Second
)
