// Package query answers fault record queries.
//
// Live queries read the index snapshot for ordering and filtering and then
// fetch full log bodies from the WAL. Evicted records are served from the
// Parquet archive through DuckDB.
package query

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"time"

	_ "github.com/marcboeker/go-duckdb"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	defaults "github.com/xtxerr/faultlogger/config"
	"github.com/xtxerr/faultlogger/internal/errors"
	"github.com/xtxerr/faultlogger/internal/logging"
	"github.com/xtxerr/faultlogger/internal/metrics"
	"github.com/xtxerr/faultlogger/internal/storage/aggregate"
	"github.com/xtxerr/faultlogger/internal/storage/config"
	"github.com/xtxerr/faultlogger/internal/storage/index"
	"github.com/xtxerr/faultlogger/internal/storage/parquet"
	"github.com/xtxerr/faultlogger/internal/storage/types"
	"github.com/xtxerr/faultlogger/internal/storage/wal"
)

// DistQueryLatencyMs is the distribution of live query latency.
const DistQueryLatencyMs = "query_latency_ms"

// Filter selects records. The zero value selects the most recent records
// of every category.
type Filter struct {
	// Category restricts the result to one fault kind;
	// CategoryUnspecified selects all of them.
	Category types.Category

	// UserID and Module restrict the result to one owner when set.
	UserID *int32
	Module string

	// ProcessID restricts the result to one process when set.
	ProcessID *int32

	// Since drops records with a timestamp before it (seconds since
	// epoch). Zero disables the bound.
	Since int64

	// Limit caps the result size. Values outside 1..MaxResults are
	// clamped to MaxResults.
	Limit int
}

// Mode names the kind of query for metrics.
func (f Filter) Mode() string {
	switch {
	case f.UserID != nil:
		return "self"
	case f.Category == types.CategoryUnspecified:
		return "all"
	default:
		return "category"
	}
}

func (f Filter) key(version uint64, limit int) string {
	uid, pid := "-", "-"
	if f.UserID != nil {
		uid = strconv.FormatInt(int64(*f.UserID), 10)
	}
	if f.ProcessID != nil {
		pid = strconv.FormatInt(int64(*f.ProcessID), 10)
	}
	return fmt.Sprintf("%d|%d|%s|%s|%s|%d|%d", version, f.Category, uid, pid, f.Module, f.Since, limit)
}

func (f Filter) match(h types.Handle) bool {
	if f.UserID != nil && h.UserID != *f.UserID {
		return false
	}
	if f.Module != "" && h.Module != f.Module {
		return false
	}
	if f.ProcessID != nil && h.ProcessID != *f.ProcessID {
		return false
	}
	if f.Since > 0 && h.Timestamp < f.Since {
		return false
	}
	return true
}

// Options configures the service.
type Options struct {
	// Metrics receives query counters. Optional.
	Metrics *metrics.Metrics

	// Distributions receives latency observations. Optional.
	Distributions *aggregate.Set
}

// Service provides query capabilities over stored records.
type Service struct {
	config *config.Config
	index  *index.Index
	reader *wal.SegmentReader
	db     *sql.DB

	maxResults  int
	parallelism int

	group   singleflight.Group
	metrics *metrics.Metrics
	dists   *aggregate.Set
	logger  *slog.Logger

	// Statistics
	stats Stats
}

// Stats holds query statistics.
type Stats struct {
	QueriesExecuted  atomic.Int64
	QueriesCoalesced atomic.Int64
	RecordsReturned  atomic.Int64
	RecordsVanished  atomic.Int64
	ArchiveQueries   atomic.Int64
	Errors           atomic.Int64
}

// ServiceStats holds a snapshot of query statistics.
type ServiceStats struct {
	QueriesExecuted  int64
	QueriesCoalesced int64
	RecordsReturned  int64
	RecordsVanished  int64
	ArchiveQueries   int64
	Errors           int64
}

// New creates a new query service.
func New(cfg *config.Config, ix *index.Index, reader *wal.SegmentReader, opts Options) (*Service, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	// Open in-memory DuckDB database
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}

	// Configure DuckDB
	if cfg.Query.MemoryLimit != "" {
		_, err = db.Exec(fmt.Sprintf("SET memory_limit='%s'", cfg.Query.MemoryLimit))
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("set memory limit: %w", err)
		}
	}

	maxResults := cfg.Query.MaxResults
	if maxResults <= 0 {
		maxResults = defaults.MaxQueryResults
	}
	parallelism := cfg.Query.ReadParallelism
	if parallelism <= 0 {
		parallelism = defaults.DefaultReadParallelism
	}
	if opts.Distributions == nil {
		opts.Distributions = aggregate.NewSet()
	}

	return &Service{
		config:      cfg,
		index:       ix,
		reader:      reader,
		db:          db,
		maxResults:  maxResults,
		parallelism: parallelism,
		metrics:     opts.Metrics,
		dists:       opts.Distributions,
		logger:      logging.Component("query"),
	}, nil
}

// Close closes the query service.
func (s *Service) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// MaxResults returns the largest result size of one query.
func (s *Service) MaxResults() int {
	return s.maxResults
}

// ClampLimit maps a requested limit onto 1..MaxResults.
func (s *Service) ClampLimit(limit int) int {
	if limit <= 0 || limit > s.maxResults {
		return s.maxResults
	}
	return limit
}

// Query returns the records matching f, most recent first. An empty result
// is not an error.
//
// The index is read once; everything ingested before the call is visible.
// Identical queries running against the same index version share one
// execution.
func (s *Service) Query(ctx context.Context, f Filter) ([]types.Record, error) {
	if !f.Category.Valid() {
		s.stats.Errors.Add(1)
		return nil, errors.NewInvalidParameter("category", fmt.Sprintf("unknown fault type %d", int32(f.Category)))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	limit := s.ClampLimit(f.Limit)
	snap := s.index.Snapshot()

	ch := s.group.DoChan(f.key(snap.Version(), limit), func() (interface{}, error) {
		return s.execute(context.WithoutCancel(ctx), snap, f, limit)
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-ch:
	}

	mode := f.Mode()
	if s.metrics != nil {
		s.metrics.QueriesTotal.WithLabelValues(mode, metrics.Status(res.Err)).Inc()
		s.metrics.QueryDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
	}

	if res.Err != nil {
		s.stats.Errors.Add(1)
		return nil, res.Err
	}

	if res.Shared {
		s.stats.QueriesCoalesced.Add(1)
		if s.metrics != nil {
			s.metrics.QueriesCoalesced.Inc()
		}
	}

	shared := res.Val.([]types.Record)
	if len(shared) == 0 {
		return nil, nil
	}

	// Callers own their slice.
	out := make([]types.Record, len(shared))
	copy(out, shared)

	s.stats.RecordsReturned.Add(int64(len(out)))
	s.dists.Observe(DistQueryLatencyMs, float64(time.Since(start).Microseconds())/1000)

	return out, nil
}

// execute selects handles from snap and reads their bodies.
func (s *Service) execute(ctx context.Context, snap *index.Snapshot, f Filter, limit int) ([]types.Record, error) {
	s.stats.QueriesExecuted.Add(1)

	handles := make([]types.Handle, 0, min(limit, snap.Count(f.Category)))
	snap.Each(f.Category, func(h types.Handle) bool {
		if f.match(h) {
			handles = append(handles, h)
		}
		return len(handles) < limit
	})

	if len(handles) == 0 {
		return nil, nil
	}

	records := make([]types.Record, len(handles))
	present := make([]bool, len(handles))

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)

	for i, h := range handles {
		g.Go(func() error {
			rec, err := s.reader.ReadRecord(h.Location)
			if errors.Is(err, errors.ErrSegmentGone) {
				// Evicted after the snapshot was taken.
				s.stats.RecordsVanished.Add(1)
				return nil
			}
			if err != nil {
				return errors.NewStorage(fmt.Sprintf("read record %d", h.Seq), err)
			}
			if rec.Seq != h.Seq {
				return errors.NewStorage("read record",
					fmt.Errorf("%w: location %s holds seq %d, want %d", errors.ErrCorruptRecord, h.Location, rec.Seq, h.Seq))
			}
			records[i] = rec
			present[i] = true
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		s.logger.Error("query failed", "category", f.Category, "error", err)
		return nil, err
	}

	out := records[:0]
	for i := range records {
		if present[i] {
			out = append(out, records[i])
		}
	}
	return out, nil
}

// Exists reports whether a live record of the given process, user and
// category exists. CategoryUnspecified matches any category.
func (s *Service) Exists(pid, uid int32, cat types.Category) bool {
	found := false
	s.index.Snapshot().Each(cat, func(h types.Handle) bool {
		if h.ProcessID == pid && h.UserID == uid {
			found = true
			return false
		}
		return true
	})
	return found
}

// FindByLogName returns the record whose report file name is name. Live
// records are searched first, most recent first; then the archive. When
// several records share a name the most recent one is returned.
func (s *Service) FindByLogName(ctx context.Context, name string) (types.Record, bool, error) {
	if name == "" {
		return types.Record{}, false, errors.NewInvalidParameter("name", "required")
	}

	var candidates []types.Handle
	s.index.Snapshot().Each(types.CategoryUnspecified, func(h types.Handle) bool {
		if h.LogName() == name {
			candidates = append(candidates, h)
		}
		return true
	})

	for _, h := range candidates {
		if err := ctx.Err(); err != nil {
			return types.Record{}, false, err
		}
		rec, err := s.reader.ReadRecord(h.Location)
		if errors.Is(err, errors.ErrSegmentGone) {
			s.stats.RecordsVanished.Add(1)
			continue
		}
		if err != nil {
			return types.Record{}, false, errors.NewStorage(fmt.Sprintf("read record %d", h.Seq), err)
		}
		return rec, true, nil
	}

	if !s.config.Retention.Archive.Enabled {
		return types.Record{}, false, nil
	}
	s.stats.ArchiveQueries.Add(1)
	rec, ok, err := parquet.FindRecord(s.config.ArchiveDir(), func(r *types.Record) bool {
		return r.LogName() == name
	})
	if err != nil {
		s.stats.Errors.Add(1)
		return types.Record{}, false, errors.NewStorage("search archive", err)
	}
	return rec, ok, nil
}

// QueryArchive returns archived records matching f, most recent first.
func (s *Service) QueryArchive(ctx context.Context, f Filter) ([]types.Record, error) {
	if !f.Category.Valid() {
		return nil, errors.NewInvalidParameter("category", fmt.Sprintf("unknown fault type %d", int32(f.Category)))
	}

	archives, err := parquet.ListArchives(s.config.ArchiveDir())
	if err != nil {
		return nil, errors.NewStorage("list archives", err)
	}
	if len(archives) == 0 {
		return nil, nil
	}

	start := time.Now()
	s.stats.ArchiveQueries.Add(1)

	query := `
		SELECT
			seq, id, pid, uid, module, category,
			timestamp, reason, summary, full_log
		FROM read_parquet($1)
		WHERE true`
	args := []any{filepath.Join(s.config.ArchiveDir(), "faults-*.parquet")}

	if f.Category != types.CategoryUnspecified {
		args = append(args, int32(f.Category))
		query += fmt.Sprintf(" AND category = $%d", len(args))
	}
	if f.UserID != nil {
		args = append(args, *f.UserID)
		query += fmt.Sprintf(" AND uid = $%d", len(args))
	}
	if f.Module != "" {
		args = append(args, f.Module)
		query += fmt.Sprintf(" AND module = $%d", len(args))
	}
	if f.ProcessID != nil {
		args = append(args, *f.ProcessID)
		query += fmt.Sprintf(" AND pid = $%d", len(args))
	}
	if f.Since > 0 {
		args = append(args, f.Since)
		query += fmt.Sprintf(" AND timestamp >= $%d", len(args))
	}
	query += fmt.Sprintf(" ORDER BY seq DESC LIMIT %d", s.ClampLimit(f.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		s.stats.Errors.Add(1)
		return nil, errors.NewStorage("query archive", err)
	}
	defer rows.Close()

	records, err := scanRecords(rows)
	if s.metrics != nil {
		s.metrics.QueriesTotal.WithLabelValues("archive", metrics.Status(err)).Inc()
		s.metrics.QueryDuration.WithLabelValues("archive").Observe(time.Since(start).Seconds())
	}
	if err != nil {
		s.stats.Errors.Add(1)
		return nil, errors.NewStorage("scan archive", err)
	}

	s.stats.RecordsReturned.Add(int64(len(records)))
	return records, nil
}

// scanRecords scans archive rows into records.
func scanRecords(rows *sql.Rows) ([]types.Record, error) {
	var records []types.Record

	for rows.Next() {
		var row parquet.RecordRow
		err := rows.Scan(
			&row.Seq, &row.ID, &row.ProcessID, &row.UserID, &row.Module, &row.Category,
			&row.Timestamp, &row.Reason, &row.Summary, &row.FullLog,
		)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		records = append(records, parquet.RowToRecord(&row))
	}

	return records, rows.Err()
}

// ExecuteSQL executes a raw SQL query using DuckDB.
// When archive files exist they are exposed as the view "archive".
// This is useful for ad-hoc analysis of evicted records.
func (s *Service) ExecuteSQL(ctx context.Context, query string) ([]map[string]interface{}, error) {
	if err := s.refreshArchiveView(ctx); err != nil {
		s.stats.Errors.Add(1)
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		s.stats.Errors.Add(1)
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var results []map[string]interface{}

	for rows.Next() {
		values := make([]interface{}, len(columns))
		valuePtrs := make([]interface{}, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, err
		}

		row := make(map[string]interface{})
		for i, col := range columns {
			row[col] = values[i]
		}
		results = append(results, row)
	}

	s.stats.ArchiveQueries.Add(1)

	return results, rows.Err()
}

func (s *Service) refreshArchiveView(ctx context.Context) error {
	archives, err := parquet.ListArchives(s.config.ArchiveDir())
	if err != nil {
		return errors.NewStorage("list archives", err)
	}
	if len(archives) == 0 {
		return nil
	}

	pattern := filepath.Join(s.config.ArchiveDir(), "faults-*.parquet")
	_, err = s.db.ExecContext(ctx,
		fmt.Sprintf("CREATE OR REPLACE VIEW archive AS SELECT * FROM read_parquet('%s')", pattern))
	if err != nil {
		return errors.NewStorage("create archive view", err)
	}
	return nil
}

// Stats returns query statistics.
func (s *Service) Stats() ServiceStats {
	return ServiceStats{
		QueriesExecuted:  s.stats.QueriesExecuted.Load(),
		QueriesCoalesced: s.stats.QueriesCoalesced.Load(),
		RecordsReturned:  s.stats.RecordsReturned.Load(),
		RecordsVanished:  s.stats.RecordsVanished.Load(),
		ArchiveQueries:   s.stats.ArchiveQueries.Load(),
		Errors:           s.stats.Errors.Load(),
	}
}
