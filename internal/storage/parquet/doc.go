// Package parquet implements the Parquet archive of evicted fault records.
//
// The package provides:
//   - RecordWriter/RecordReader for archived records
//   - Support for multiple compression algorithms (snappy, zstd, lz4, gzip)
//   - Type conversion between storage records and Parquet rows
//   - Archive file naming and listing
package parquet
