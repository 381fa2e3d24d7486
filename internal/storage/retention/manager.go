// Package retention evicts old fault records.
//
// A pass picks victims from the index (oldest first beyond the per-category
// cap, then anything older than the maximum age), archives them to Parquet,
// writes a purge marker to the WAL, removes them from the index and finally
// deletes WAL segments that no longer hold live records.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/xtxerr/faultlogger/internal/errors"
	"github.com/xtxerr/faultlogger/internal/logging"
	"github.com/xtxerr/faultlogger/internal/metrics"
	"github.com/xtxerr/faultlogger/internal/storage/config"
	"github.com/xtxerr/faultlogger/internal/storage/index"
	"github.com/xtxerr/faultlogger/internal/storage/ingestion"
	"github.com/xtxerr/faultlogger/internal/storage/parquet"
	"github.com/xtxerr/faultlogger/internal/storage/types"
	"github.com/xtxerr/faultlogger/internal/storage/wal"
)

// Eviction reasons.
const (
	ReasonCount = "count"
	ReasonAge   = "age"
)

// Victim is a record chosen for eviction.
type Victim struct {
	Handle types.Handle
	Reason string
}

// Manager runs retention passes over one store.
type Manager struct {
	mu     sync.Mutex
	config *config.Config

	index  *index.Index
	ingest *ingestion.Service
	reader *wal.SegmentReader

	now     func() time.Time
	metrics *metrics.Metrics
	logger  *slog.Logger

	stats Stats
}

// Options configures the manager.
type Options struct {
	// Clock supplies the current time for age eviction. Defaults to time.Now.
	Clock func() time.Time

	// Metrics receives eviction counters. Optional.
	Metrics *metrics.Metrics
}

// Stats holds retention statistics.
type Stats struct {
	LastRunTime     time.Time
	Runs            int64
	RecordsEvicted  int64
	RecordsArchived int64
	SegmentsDeleted int64
	BytesFreed      int64
	Errors          int64
}

// CleanupResult holds the result of one retention pass.
type CleanupResult struct {
	DryRun          bool
	Evicted         int
	ByCategory      map[types.Category]int
	ByReason        map[string]int
	Archived        int
	ArchivePath     string
	SegmentsDeleted int
	BytesFreed      int64
	Errors          []error
}

// New creates a new retention manager.
func New(cfg *config.Config, ix *index.Index, ing *ingestion.Service, reader *wal.SegmentReader, opts Options) *Manager {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	return &Manager{
		config:  cfg,
		index:   ix,
		ingest:  ing,
		reader:  reader,
		now:     opts.Clock,
		metrics: opts.Metrics,
		logger:  logging.Component("retention"),
	}
}

// Plan returns the records the current policy would evict, in Seq order.
func (m *Manager) Plan() []Victim {
	return plan(m.index.Snapshot(), m.config.Retention, m.now())
}

func plan(snap *index.Snapshot, policy config.RetentionConfig, now time.Time) []Victim {
	var victims []Victim
	chosen := make(map[int64]bool)

	if policy.MaxPerCategory > 0 {
		for _, cat := range types.AllCategories() {
			excess := snap.Count(cat) - policy.MaxPerCategory
			if excess <= 0 {
				continue
			}
			snap.Oldest(cat, func(h types.Handle) bool {
				victims = append(victims, Victim{Handle: h, Reason: ReasonCount})
				chosen[h.Seq] = true
				excess--
				return excess > 0
			})
		}
	}

	if policy.MaxAge > 0 {
		cutoff := now.Add(-policy.MaxAge).Unix()
		// Timestamps are non-decreasing in Seq order.
		snap.Oldest(types.CategoryUnspecified, func(h types.Handle) bool {
			if h.Timestamp >= cutoff {
				return false
			}
			if !chosen[h.Seq] {
				victims = append(victims, Victim{Handle: h, Reason: ReasonAge})
			}
			return true
		})
	}

	sort.Slice(victims, func(i, j int) bool {
		return victims[i].Handle.Seq < victims[j].Handle.Seq
	})
	return victims
}

// DryRun reports what a pass would evict without changing anything.
func (m *Manager) DryRun() CleanupResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := newResult(true)
	for _, v := range m.Plan() {
		result.add(v)
	}
	return result
}

// RunCleanup performs one retention pass.
func (m *Manager) RunCleanup(ctx context.Context) (CleanupResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.stats.LastRunTime = now
	m.stats.Runs++

	result := newResult(false)
	victims := plan(m.index.Snapshot(), m.config.Retention, now)

	if len(victims) > 0 {
		if err := m.evict(ctx, now, victims, &result); err != nil {
			m.stats.Errors++
			m.logger.Error("retention pass failed", "error", err)
			return result, err
		}
	}

	deleted, freed, errs := m.deleteSegments()
	result.SegmentsDeleted = deleted
	result.BytesFreed = freed
	result.Errors = append(result.Errors, errs...)

	m.stats.SegmentsDeleted += int64(deleted)
	m.stats.BytesFreed += freed
	m.stats.Errors += int64(len(errs))

	if result.Evicted > 0 || deleted > 0 {
		m.logger.Info("retention pass complete",
			"evicted", result.Evicted,
			"archived", result.Archived,
			"segments_deleted", deleted,
			"bytes_freed", config.FormatBytes(freed))
	}

	return result, nil
}

// evict archives and purges victims. Nothing is purged unless archiving
// succeeded, so a failed pass loses no records.
func (m *Manager) evict(ctx context.Context, now time.Time, victims []Victim, result *CleanupResult) error {
	if m.config.Retention.Archive.Enabled {
		path, n, err := m.archive(ctx, now, victims)
		if err != nil {
			return err
		}
		result.ArchivePath = path
		result.Archived = n
		m.stats.RecordsArchived += int64(n)
		if m.metrics != nil {
			m.metrics.ArchivedTotal.Add(float64(n))
		}
	}

	seqs := make([]int64, len(victims))
	for i, v := range victims {
		seqs[i] = v.Handle.Seq
	}

	removed, err := m.ingest.Purge(seqs)
	if err != nil {
		return fmt.Errorf("purge: %w", err)
	}

	reasons := make(map[int64]string, len(victims))
	for _, v := range victims {
		reasons[v.Handle.Seq] = v.Reason
	}
	for _, h := range removed {
		result.add(Victim{Handle: h, Reason: reasons[h.Seq]})
		if m.metrics != nil {
			m.metrics.EvictedTotal.WithLabelValues(h.Category.Name()).Inc()
		}
	}
	m.stats.RecordsEvicted += int64(len(removed))

	return nil
}

// archive writes the victims' full records to one Parquet file.
func (m *Manager) archive(ctx context.Context, now time.Time, victims []Victim) (string, int, error) {
	byReason := make(map[string][]types.Record)
	var first, last int64

	for _, v := range victims {
		if err := ctx.Err(); err != nil {
			return "", 0, err
		}

		rec, err := m.reader.ReadRecord(v.Handle.Location)
		if errors.Is(err, errors.ErrSegmentGone) {
			continue
		}
		if err != nil {
			return "", 0, errors.NewStorage(fmt.Sprintf("read record %d", v.Handle.Seq), err)
		}

		if first == 0 {
			first = rec.Seq
		}
		last = rec.Seq
		byReason[v.Reason] = append(byReason[v.Reason], rec)
	}

	if first == 0 {
		return "", 0, nil
	}

	path := filepath.Join(m.config.ArchiveDir(), parquet.ArchiveFileName(now, first, last))
	opts := parquet.Options{Compression: parquet.ParseCompressionType(m.config.Retention.Archive.Compression)}

	w, err := parquet.NewRecordWriter(path, opts)
	if err != nil {
		return "", 0, errors.NewStorage("create archive", err)
	}

	n := 0
	for _, reason := range []string{ReasonCount, ReasonAge} {
		records := byReason[reason]
		if err := w.Write(records, parquet.Eviction{At: now, Reason: reason}); err != nil {
			w.Abort()
			return "", 0, errors.NewStorage("write archive", err)
		}
		n += len(records)
	}

	if err := w.Close(); err != nil {
		os.Remove(path)
		return "", 0, errors.NewStorage("close archive", err)
	}

	return path, n, nil
}

// deleteSegments removes closed WAL segments older than every live record.
// Purge markers are always written after the records they name, so such a
// segment can hold no marker that a remaining record depends on.
func (m *Manager) deleteSegments() (int, int64, []error) {
	w := m.ingest.WAL()
	current := w.CurrentSegment()

	oldestLive := current
	for seg := range m.index.Snapshot().Segments() {
		oldestLive = min(oldestLive, seg)
	}

	segments, err := w.ListSegments()
	if err != nil {
		return 0, 0, []error{fmt.Errorf("list segments: %w", err)}
	}

	var doomed []int64
	for _, seg := range segments {
		if seg < oldestLive && seg != current {
			doomed = append(doomed, seg)
		}
	}
	if len(doomed) == 0 {
		return 0, 0, nil
	}

	// Keep sequence numbers unique once the doomed segments are gone.
	if err := m.ingest.Checkpoint(); err != nil {
		return 0, 0, []error{fmt.Errorf("checkpoint: %w", err)}
	}

	var (
		deleted int
		freed   int64
		errs    []error
	)
	for _, seg := range doomed {
		var size int64
		err := m.reader.Drop(seg, func() error {
			if info, err := os.Stat(wal.SegmentPath(w.Dir(), seg)); err == nil {
				size = info.Size()
			}
			return w.DeleteSegment(seg)
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("delete segment %016d: %w", seg, err))
			continue
		}
		deleted++
		freed += size
	}

	return deleted, freed, errs
}

func newResult(dryRun bool) CleanupResult {
	return CleanupResult{
		DryRun:     dryRun,
		ByCategory: make(map[types.Category]int),
		ByReason:   make(map[string]int),
	}
}

func (r *CleanupResult) add(v Victim) {
	r.Evicted++
	r.ByCategory[v.Handle.Category]++
	r.ByReason[v.Reason]++
}

// Stats returns current statistics.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// DiskUsage holds disk usage information.
type DiskUsage struct {
	Segments        int
	SegmentBytes    int64
	Archives        int
	ArchiveBytes    int64
	ArchivedRecords int64
}

// GetDiskUsage returns the disk usage of the WAL and the archive.
func (m *Manager) GetDiskUsage() DiskUsage {
	var usage DiskUsage

	w := m.ingest.WAL()
	if segs, err := w.ListSegments(); err == nil {
		for _, seg := range segs {
			if info, err := os.Stat(wal.SegmentPath(w.Dir(), seg)); err == nil {
				usage.Segments++
				usage.SegmentBytes += info.Size()
			}
		}
	}

	if archives, err := parquet.ListArchives(m.config.ArchiveDir()); err == nil {
		for _, path := range archives {
			info, err := parquet.GetFileInfo(path)
			if err != nil {
				m.logger.Warn("unreadable archive", "path", path, "error", err)
				continue
			}
			usage.Archives++
			usage.ArchiveBytes += info.Size
			usage.ArchivedRecords += info.NumRows
		}
	}

	return usage
}

// FormatDiskUsage returns a formatted string of disk usage.
func (m *Manager) FormatDiskUsage() string {
	u := m.GetDiskUsage()

	return fmt.Sprintf("Disk Usage:\n  wal: %d segments, %s\n  archive: %d files, %d records, %s\n  Total: %s\n",
		u.Segments, config.FormatBytes(u.SegmentBytes),
		u.Archives, u.ArchivedRecords, config.FormatBytes(u.ArchiveBytes),
		config.FormatBytes(u.SegmentBytes+u.ArchiveBytes))
}
