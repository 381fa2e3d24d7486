package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xtxerr/faultlogger/internal/errors"
	"github.com/xtxerr/faultlogger/internal/logging"
	"github.com/xtxerr/faultlogger/internal/metrics"
	"github.com/xtxerr/faultlogger/internal/storage/aggregate"
	"github.com/xtxerr/faultlogger/internal/storage/config"
	"github.com/xtxerr/faultlogger/internal/storage/index"
	"github.com/xtxerr/faultlogger/internal/storage/ingestion"
	"github.com/xtxerr/faultlogger/internal/storage/query"
	"github.com/xtxerr/faultlogger/internal/storage/retention"
	"github.com/xtxerr/faultlogger/internal/storage/types"
	"github.com/xtxerr/faultlogger/internal/storage/wal"
)

// Options configures a store beyond its file configuration.
type Options struct {
	// Clock supplies ingestion and retention time. Defaults to time.Now.
	Clock func() time.Time

	// Metrics receives the store's collectors. A fresh registry is used
	// when nil.
	Metrics *metrics.Metrics
}

// Service is the fault log store: it owns the WAL, the index and every
// component reading or writing them.
type Service struct {
	config *config.Config

	// Components
	index     *index.Index
	reader    *wal.SegmentReader
	ingestion *ingestion.Service
	query     *query.Service
	retention *retention.Manager
	metrics   *metrics.Metrics
	dists     *aggregate.Set

	// State
	running atomic.Bool
	stopped atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	logger  *slog.Logger

	// Statistics
	startTime time.Time
	replay    wal.ReplayStats
}

// Open creates a store from cfg, rebuilds the index from the WAL and starts
// accepting writes.
func Open(cfg *config.Config) (*Service, error) {
	return OpenWithOptions(cfg, Options{})
}

// OpenWithOptions is Open with explicit options.
func OpenWithOptions(cfg *config.Config, opts Options) (*Service, error) {
	s, err := New(cfg, opts)
	if err != nil {
		return nil, err
	}
	if err := s.Start(); err != nil {
		s.Stop()
		return nil, err
	}
	return s, nil
}

// New creates a store and replays its WAL without starting it.
func New(cfg *config.Config, opts Options) (*Service, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	// Ensure directories exist
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}

	logger := logging.Component("storage")

	ix := index.New()
	replay, lastTimestamp, err := rebuild(cfg.WALDir(), ix, logger)
	if err != nil {
		return nil, err
	}
	opts.Metrics.LiveRecords.Set(float64(ix.Snapshot().Len()))

	dists := aggregate.NewSet()

	// Create ingestion service; it starts a fresh segment after the replayed ones
	ing, err := ingestion.New(cfg, ix, ingestion.Options{
		NextSeq:       replay.MaxSeq + 1,
		LastTimestamp: lastTimestamp,
		Clock:         opts.Clock,
		Metrics:       opts.Metrics,
		Distributions: dists,
	})
	if err != nil {
		return nil, fmt.Errorf("create ingestion: %w", err)
	}

	reader := wal.NewSegmentReader(cfg.WALDir())

	// Create query service
	qry, err := query.New(cfg, ix, reader, query.Options{
		Metrics:       opts.Metrics,
		Distributions: dists,
	})
	if err != nil {
		ing.Stop()
		reader.Close()
		return nil, fmt.Errorf("create query: %w", err)
	}

	// Create retention manager
	ret := retention.New(cfg, ix, ing, reader, retention.Options{
		Clock:   opts.Clock,
		Metrics: opts.Metrics,
	})

	ctx, cancel := context.WithCancel(context.Background())

	logger.Info("store opened",
		"data_dir", cfg.DataDir,
		"segments", replay.Segments,
		"records", ix.Snapshot().Len(),
		"next_seq", replay.MaxSeq+1)

	return &Service{
		config:    cfg,
		index:     ix,
		reader:    reader,
		ingestion: ing,
		query:     qry,
		retention: ret,
		metrics:   opts.Metrics,
		dists:     dists,
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger,
		replay:    replay,
	}, nil
}

// rebuild replays the WAL into ix and returns the replay statistics and
// the newest stored timestamp.
func rebuild(dir string, ix *index.Index, logger *slog.Logger) (wal.ReplayStats, int64, error) {
	var lastTimestamp int64

	stats, err := wal.Replay(dir, func(e wal.Entry, loc types.Location) error {
		switch e.Kind {
		case wal.KindRecord:
			if err := ix.Append(e.Record.Handle(loc)); err != nil {
				logger.Warn("skipping replayed record", "seq", e.Record.Seq, "location", loc, "error", err)
				return nil
			}
			lastTimestamp = max(lastTimestamp, e.Record.Timestamp)
		case wal.KindPurge:
			ix.Remove(e.Purged)
		}
		return nil
	})
	if err != nil {
		return stats, 0, errors.NewStorage("replay wal", err)
	}

	if stats.CorruptRecords > 0 || stats.BadSegments > 0 {
		logger.Warn("wal replay found damaged data",
			"corrupt_records", stats.CorruptRecords,
			"bad_segments", stats.BadSegments)
	}

	return stats, lastTimestamp, nil
}

// Start starts all components.
func (s *Service) Start() error {
	if s.running.Load() {
		return errors.ErrAlreadyRunning
	}
	if s.stopped.Load() {
		return errors.ErrClosed
	}

	if err := s.ingestion.Start(); err != nil {
		return fmt.Errorf("start ingestion: %w", err)
	}

	s.running.Store(true)
	s.startTime = time.Now()

	if s.config.Retention.Enabled && s.config.Retention.Interval > 0 {
		s.wg.Add(1)
		go s.retentionWorker()
	}

	return nil
}

// Stop stops all components gracefully. A stopped store cannot be
// restarted; open a new one on the same directory instead.
func (s *Service) Stop() error {
	if s.stopped.Swap(true) {
		return nil
	}
	s.running.Store(false)
	s.cancel()

	// Wait for background workers
	s.wg.Wait()

	// Stop components in reverse order
	var errs []error

	if err := s.query.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close query: %w", err))
	}

	if err := s.ingestion.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop ingestion: %w", err))
	}

	if err := s.reader.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close reader: %w", err))
	}

	return errors.Join(errs...)
}

// Close is Stop.
func (s *Service) Close() error {
	return s.Stop()
}

// Ingest stores one fault record.
func (s *Service) Ingest(ctx context.Context, req ingestion.Request) (types.Handle, error) {
	if !s.running.Load() {
		return types.Handle{}, errors.ErrNotRunning
	}
	return s.ingestion.Ingest(ctx, req)
}

// Query returns live records matching f, most recent first.
func (s *Service) Query(ctx context.Context, f query.Filter) ([]types.Record, error) {
	if !s.running.Load() {
		return nil, errors.ErrNotRunning
	}
	return s.query.Query(ctx, f)
}

// QueryArchive returns evicted records matching f, most recent first.
func (s *Service) QueryArchive(ctx context.Context, f query.Filter) ([]types.Record, error) {
	if !s.running.Load() {
		return nil, errors.ErrNotRunning
	}
	return s.query.QueryArchive(ctx, f)
}

// FindByLogName returns the live or archived record with the given report
// file name. The second result is false when no record has that name.
func (s *Service) FindByLogName(ctx context.Context, name string) (types.Record, bool, error) {
	if !s.running.Load() {
		return types.Record{}, false, errors.ErrNotRunning
	}
	return s.query.FindByLogName(ctx, name)
}

// QuerySQL executes a raw SQL query against the archive.
func (s *Service) QuerySQL(ctx context.Context, sql string) ([]map[string]interface{}, error) {
	if !s.running.Load() {
		return nil, errors.ErrNotRunning
	}
	return s.query.ExecuteSQL(ctx, sql)
}

// Exists reports whether a live record matches the process, user and
// category.
func (s *Service) Exists(pid, uid int32, cat types.Category) bool {
	return s.query.Exists(pid, uid, cat)
}

// MaxResults is the largest number of records one query returns.
func (s *Service) MaxResults() int {
	return s.query.MaxResults()
}

// retentionWorker periodically runs retention cleanup.
func (s *Service) retentionWorker() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Retention.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.retention.RunCleanup(s.ctx); err != nil {
				s.logger.Error("retention run failed", "error", err)
			}
		}
	}
}

// RunRetention manually triggers retention cleanup.
func (s *Service) RunRetention(ctx context.Context) (retention.CleanupResult, error) {
	if !s.running.Load() {
		return retention.CleanupResult{}, errors.ErrNotRunning
	}
	return s.retention.RunCleanup(ctx)
}

// DryRunRetention simulates retention cleanup.
func (s *Service) DryRunRetention() retention.CleanupResult {
	return s.retention.DryRun()
}

// GetDiskUsage returns WAL and archive disk usage.
func (s *Service) GetDiskUsage() retention.DiskUsage {
	return s.retention.GetDiskUsage()
}

// FormatDiskUsage returns a printable disk usage report.
func (s *Service) FormatDiskUsage() string {
	return s.retention.FormatDiskUsage()
}

// Stats returns combined statistics.
func (s *Service) Stats() ServiceStats {
	var uptime time.Duration
	if !s.startTime.IsZero() && s.running.Load() {
		uptime = time.Since(s.startTime)
	}

	return ServiceStats{
		Running:       s.running.Load(),
		Uptime:        uptime,
		Replay:        s.replay,
		Index:         s.index.Stats(),
		Ingestion:     s.ingestion.Stats(),
		Query:         s.query.Stats(),
		Retention:     s.retention.Stats(),
		Distributions: s.dists.Summaries(),
	}
}

// ServiceStats holds combined statistics.
type ServiceStats struct {
	Running       bool
	Uptime        time.Duration
	Replay        wal.ReplayStats
	Index         index.Stats
	Ingestion     ingestion.ServiceStats
	Query         query.ServiceStats
	Retention     retention.Stats
	Distributions []aggregate.Summary
}

// Config returns the current configuration.
func (s *Service) Config() *config.Config {
	return s.config
}

// Metrics returns the store's collectors.
func (s *Service) Metrics() *metrics.Metrics {
	return s.metrics
}

// IsRunning returns whether the service is running.
func (s *Service) IsRunning() bool {
	return s.running.Load()
}
