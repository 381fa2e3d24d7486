// Package ingestion is the single write path of the fault log store.
//
// Every write (new records, retention purges and sequence checkpoints)
// goes through one mutex. Inside it the sequence number is assigned, the
// entry is appended to the WAL and the index is updated, so sequence order
// and visibility order are the same.
package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/xtxerr/faultlogger/internal/errors"
	"github.com/xtxerr/faultlogger/internal/logging"
	"github.com/xtxerr/faultlogger/internal/metrics"
	"github.com/xtxerr/faultlogger/internal/storage/aggregate"
	"github.com/xtxerr/faultlogger/internal/storage/config"
	"github.com/xtxerr/faultlogger/internal/storage/formatter"
	"github.com/xtxerr/faultlogger/internal/storage/index"
	"github.com/xtxerr/faultlogger/internal/storage/types"
	"github.com/xtxerr/faultlogger/internal/storage/wal"
)

// Distribution names recorded by the service.
const (
	DistIngestLatencyMs = "ingest_latency_ms"
	DistLogBytes        = "log_bytes"
)

// Request is one fault reported by a producer.
type Request struct {
	ProcessID int32
	UserID    int32
	Category  types.Category
	Module    string
	Reason    string

	// Summary is embedded verbatim in the full log. If empty it is derived
	// from Sections or Reason.
	Summary string

	// Sections carries producer-supplied log sections keyed by the
	// formatter.Key* constants.
	Sections map[string]string
}

// Validate checks the request before it touches the log.
func (r *Request) Validate() error {
	if !r.Category.Concrete() {
		return errors.NewInvalidParameter("category", fmt.Sprintf("%s is not a fault kind", r.Category))
	}
	return nil
}

// Options configures the service.
type Options struct {
	// NextSeq is the first sequence number to assign. Defaults to 1.
	NextSeq int64

	// LastTimestamp is the newest stored timestamp; new timestamps never
	// go below it.
	LastTimestamp int64

	// Clock supplies the ingestion time. Defaults to time.Now.
	Clock func() time.Time

	// Metrics receives ingestion counters. Optional.
	Metrics *metrics.Metrics

	// Distributions receives latency and size observations. Optional.
	Distributions *aggregate.Set
}

// Service orchestrates the record write path: Request → WAL → Index.
type Service struct {
	mu sync.Mutex

	wal   *wal.Writer
	index *index.Index

	now           func() time.Time
	nextSeq       int64
	lastTimestamp int64

	metrics *metrics.Metrics
	dists   *aggregate.Set
	logger  *slog.Logger

	running atomic.Bool

	// Statistics
	stats Stats
}

// Stats holds ingestion statistics.
type Stats struct {
	RecordsIngested atomic.Int64
	RecordsRejected atomic.Int64
	RecordsFailed   atomic.Int64
	PurgesWritten   atomic.Int64
	RecordsPurged   atomic.Int64
	ClockClamps     atomic.Int64
}

// ServiceStats holds a snapshot of service statistics.
type ServiceStats struct {
	Running         bool
	NextSeq         int64
	LastTimestamp   int64
	RecordsIngested int64
	RecordsRejected int64
	RecordsFailed   int64
	PurgesWritten   int64
	RecordsPurged   int64
	ClockClamps     int64
	WAL             wal.WriterStats
}

// New creates the ingestion service and opens a WAL writer in the
// configured directory. The index must already hold the replayed records.
func New(cfg *config.Config, ix *index.Index, opts Options) (*Service, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	walOpts := wal.Options{
		MaxSegmentSize: cfg.WAL.MaxSegmentSize,
		SyncMode:       cfg.WAL.SyncMode,
		BufferSize:     cfg.WAL.BufferSize,
	}

	w, err := wal.NewWriter(cfg.WALDir(), walOpts)
	if err != nil {
		return nil, errors.NewStorage("open wal", err)
	}

	return NewWithWriter(w, ix, opts), nil
}

// NewWithWriter creates the ingestion service on an existing writer.
func NewWithWriter(w *wal.Writer, ix *index.Index, opts Options) *Service {
	if opts.NextSeq <= 0 {
		opts.NextSeq = 1
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Distributions == nil {
		opts.Distributions = aggregate.NewSet()
	}

	return &Service{
		wal:           w,
		index:         ix,
		now:           opts.Clock,
		nextSeq:       opts.NextSeq,
		lastTimestamp: opts.LastTimestamp,
		metrics:       opts.Metrics,
		dists:         opts.Distributions,
		logger:        logging.Component("ingestion"),
	}
}

// Start marks the service as accepting writes.
func (s *Service) Start() error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.ErrAlreadyRunning
	}
	s.logger.Debug("ingestion started", "next_seq", s.nextSeq)
	return nil
}

// Stop stops accepting writes and closes the WAL.
func (s *Service) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	// Wait for an in-flight write.
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.wal.Close(); err != nil {
		return fmt.Errorf("close WAL: %w", err)
	}
	return nil
}

// IsRunning reports whether the service accepts writes.
func (s *Service) IsRunning() bool {
	return s.running.Load()
}

// Ingest stores one record and returns its index handle. When it returns
// without error the record is durable and visible to every later query.
func (s *Service) Ingest(ctx context.Context, req Request) (types.Handle, error) {
	if err := req.Validate(); err != nil {
		s.stats.RecordsRejected.Add(1)
		s.countFailure("invalid")
		return types.Handle{}, err
	}
	if err := ctx.Err(); err != nil {
		s.stats.RecordsRejected.Add(1)
		s.countFailure("canceled")
		return types.Handle{}, err
	}

	id := uuid.New()
	summary := req.Summary
	if summary == "" {
		summary = formatter.DeriveSummary(req.Category, req.Sections, req.Reason)
	}

	start := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.Load() {
		s.stats.RecordsRejected.Add(1)
		s.countFailure("not_running")
		return types.Handle{}, errors.ErrNotRunning
	}

	at := s.now()
	if at.Unix() < s.lastTimestamp {
		at = time.Unix(s.lastTimestamp, 0)
		s.stats.ClockClamps.Add(1)
	}

	rec := types.Record{
		Seq:       s.nextSeq,
		ID:        id,
		ProcessID: req.ProcessID,
		UserID:    req.UserID,
		Module:    req.Module,
		Category:  req.Category,
		Timestamp: at.Unix(),
		Reason:    req.Reason,
		Summary:   summary,
	}
	rec.FullLog = formatter.Build(formatter.Input{
		Category:  rec.Category,
		ProcessID: rec.ProcessID,
		UserID:    rec.UserID,
		Module:    rec.Module,
		Reason:    rec.Reason,
		Summary:   rec.Summary,
		Time:      at,
		Sections:  req.Sections,
	})

	loc, err := s.wal.Append(wal.RecordEntry(rec))
	if err != nil {
		s.stats.RecordsFailed.Add(1)
		s.countFailure("wal")
		s.logger.Error("wal append failed", "seq", rec.Seq, "category", rec.Category, "error", err)
		return types.Handle{}, errors.NewIngestion(err)
	}

	// The WAL now owns this sequence number whatever happens next.
	s.nextSeq++
	s.lastTimestamp = rec.Timestamp

	h := rec.Handle(loc)
	if err := s.index.Append(h); err != nil {
		s.stats.RecordsFailed.Add(1)
		s.countFailure("index")
		s.logger.Error("index append failed", "seq", rec.Seq, "error", err)
		return types.Handle{}, errors.NewIngestion(err)
	}

	s.stats.RecordsIngested.Add(1)
	elapsed := time.Since(start)
	s.dists.Observe(DistIngestLatencyMs, float64(elapsed.Microseconds())/1000)
	s.dists.Observe(DistLogBytes, float64(len(rec.FullLog)))
	if s.metrics != nil {
		s.metrics.IngestedTotal.WithLabelValues(rec.Category.Name()).Inc()
		s.metrics.IngestDuration.Observe(elapsed.Seconds())
		s.metrics.LiveRecords.Set(float64(s.index.Snapshot().Len()))
	}

	s.logger.Debug("record ingested",
		"seq", rec.Seq,
		"category", rec.Category,
		"module", rec.Module,
		"location", loc.String())

	return h, nil
}

// Purge writes a purge marker for seqs and removes them from the index.
// It returns the handles actually removed.
func (s *Service) Purge(seqs []int64) ([]types.Handle, error) {
	if len(seqs) == 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.Load() {
		return nil, errors.ErrNotRunning
	}

	if _, err := s.wal.Append(wal.PurgeEntry(seqs)); err != nil {
		return nil, errors.NewStorage("write purge marker", err)
	}

	removed := s.index.Remove(seqs)
	s.stats.PurgesWritten.Add(1)
	s.stats.RecordsPurged.Add(int64(len(removed)))
	if s.metrics != nil {
		s.metrics.LiveRecords.Set(float64(s.index.Snapshot().Len()))
	}

	return removed, nil
}

// Checkpoint records the next sequence number in the current segment, so
// that sequence numbers stay unique once older segments are deleted.
func (s *Service) Checkpoint() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.Load() {
		return errors.ErrNotRunning
	}

	if _, err := s.wal.Append(wal.CheckpointEntry(s.nextSeq)); err != nil {
		return errors.NewStorage("write checkpoint", err)
	}
	return nil
}

// WAL returns the underlying writer.
func (s *Service) WAL() *wal.Writer {
	return s.wal
}

// Distributions returns the latency and size distributions.
func (s *Service) Distributions() *aggregate.Set {
	return s.dists
}

func (s *Service) countFailure(reason string) {
	if s.metrics != nil {
		s.metrics.IngestFailures.WithLabelValues(reason).Inc()
	}
}

// Stats returns current statistics.
func (s *Service) Stats() ServiceStats {
	s.mu.Lock()
	next, last := s.nextSeq, s.lastTimestamp
	s.mu.Unlock()

	return ServiceStats{
		Running:         s.running.Load(),
		NextSeq:         next,
		LastTimestamp:   last,
		RecordsIngested: s.stats.RecordsIngested.Load(),
		RecordsRejected: s.stats.RecordsRejected.Load(),
		RecordsFailed:   s.stats.RecordsFailed.Load(),
		PurgesWritten:   s.stats.PurgesWritten.Load(),
		RecordsPurged:   s.stats.RecordsPurged.Load(),
		ClockClamps:     s.stats.ClockClamps.Load(),
		WAL:             s.wal.Stats(),
	}
}
