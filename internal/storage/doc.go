// Package storage implements the fault log store: a durable, ordered
// repository of crash and freeze records with filtered recency queries.
//
// Architecture:
//
//	┌─────────────┐     ┌─────────────┐     ┌─────────────┐
//	│  Ingestion  │────▶│     WAL     │────▶│    Index    │
//	│   Service   │     │ (segments)  │     │ (snapshots) │
//	└─────────────┘     └─────────────┘     └─────────────┘
//	                           ▲                   │
//	                           │ ReadAt            ▼
//	                    ┌─────────────┐     ┌─────────────┐
//	                    │   Segment   │◀────│    Query    │
//	                    │   Reader    │     │   Service   │
//	                    └─────────────┘     └─────────────┘
//	                           ▲
//	                           │ Drop
//	                    ┌─────────────┐     ┌─────────────┐
//	                    │  Retention  │────▶│   Parquet   │
//	                    │   Manager   │     │   Archive   │
//	                    └─────────────┘     └─────────────┘
//
// The store provides:
//   - One serialization point for writes: sequence assignment, WAL append
//     and index append happen under a single lock
//   - Lock-free reads over immutable index snapshots
//   - Full log bodies kept inline in the WAL and read on demand
//   - Index rebuild by WAL replay on open
//   - Count and age retention with Parquet archiving of evicted records
//   - DuckDB queries over the archive
//
// On disk:
//
//	<data_dir>/wal/%016d.wal           record, purge and checkpoint entries
//	<data_dir>/archive/faults-*.parquet evicted records
package storage
