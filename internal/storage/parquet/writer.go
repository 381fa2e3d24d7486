package parquet

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"

	"github.com/xtxerr/faultlogger/internal/storage/types"
)

// Options configures the Parquet writer.
type Options struct {
	// Compression algorithm
	Compression CompressionType
}

// CompressionType represents a Parquet compression algorithm.
type CompressionType int

const (
	CompressionNone CompressionType = iota
	CompressionSnappy
	CompressionZstd
	CompressionLZ4
	CompressionGzip
)

// DefaultOptions returns default Parquet options.
func DefaultOptions() Options {
	return Options{
		Compression: CompressionZstd,
	}
}

// ParseCompressionType parses a compression type string.
func ParseCompressionType(s string) CompressionType {
	switch s {
	case "snappy":
		return CompressionSnappy
	case "zstd":
		return CompressionZstd
	case "lz4":
		return CompressionLZ4
	case "gzip":
		return CompressionGzip
	case "none", "":
		return CompressionNone
	default:
		return CompressionZstd
	}
}

// getCompression returns the parquet-go compression codec.
func getCompression(ct CompressionType) compress.Codec {
	switch ct {
	case CompressionSnappy:
		return &parquet.Snappy
	case CompressionZstd:
		return &parquet.Zstd
	case CompressionLZ4:
		return &parquet.Lz4Raw
	case CompressionGzip:
		return &parquet.Gzip
	default:
		return &parquet.Uncompressed
	}
}

// RecordRow represents an archived record in Parquet format.
type RecordRow struct {
	Seq          int64  `parquet:"seq"`
	ID           string `parquet:"id"`
	ProcessID    int32  `parquet:"pid"`
	UserID       int32  `parquet:"uid"`
	Module       string `parquet:"module,zstd"`
	Category     int32  `parquet:"category"`
	CategoryName string `parquet:"category_name,dict"`
	Timestamp    int64  `parquet:"timestamp"`
	Reason       string `parquet:"reason,zstd"`
	Summary      string `parquet:"summary,zstd"`
	FullLog      string `parquet:"full_log,zstd"`
	EvictedAt    int64  `parquet:"evicted_at"`
	EvictReason  string `parquet:"evict_reason,dict"`
}

// Eviction describes why and when a record left the live store.
type Eviction struct {
	At     time.Time
	Reason string // "count" or "age"
}

// RecordToRow converts a Record to a RecordRow.
func RecordToRow(r *types.Record, ev Eviction) RecordRow {
	return RecordRow{
		Seq:          r.Seq,
		ID:           r.ID.String(),
		ProcessID:    r.ProcessID,
		UserID:       r.UserID,
		Module:       r.Module,
		Category:     int32(r.Category),
		CategoryName: r.Category.Name(),
		Timestamp:    r.Timestamp,
		Reason:       r.Reason,
		Summary:      r.Summary,
		FullLog:      r.FullLog,
		EvictedAt:    ev.At.Unix(),
		EvictReason:  ev.Reason,
	}
}

// RowToRecord converts a RecordRow to a Record. A malformed ID yields the
// nil UUID.
func RowToRecord(r *RecordRow) types.Record {
	id, _ := uuid.Parse(r.ID)
	return types.Record{
		Seq:       r.Seq,
		ID:        id,
		ProcessID: r.ProcessID,
		UserID:    r.UserID,
		Module:    r.Module,
		Category:  types.Category(r.Category),
		Timestamp: r.Timestamp,
		Reason:    r.Reason,
		Summary:   r.Summary,
		FullLog:   r.FullLog,
	}
}

// RecordWriter writes archived records to a Parquet file.
type RecordWriter struct {
	mu       sync.Mutex
	path     string
	file     *os.File
	writer   *parquet.GenericWriter[RecordRow]
	rowCount int64
	closed   bool
}

// NewRecordWriter creates a new record Parquet writer.
func NewRecordWriter(path string, opts Options) (*RecordWriter, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}

	writerOpts := []parquet.WriterOption{
		parquet.Compression(getCompression(opts.Compression)),
	}

	writer := parquet.NewGenericWriter[RecordRow](f, writerOpts...)

	return &RecordWriter{
		path:   path,
		file:   f,
		writer: writer,
	}, nil
}

// Write writes records to the Parquet file.
func (w *RecordWriter) Write(records []types.Record, ev Eviction) error {
	if len(records) == 0 {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWriterClosed
	}

	rows := make([]RecordRow, len(records))
	for i := range records {
		rows[i] = RecordToRow(&records[i], ev)
	}

	n, err := w.writer.Write(rows)
	if err != nil {
		return fmt.Errorf("write rows: %w", err)
	}

	w.rowCount += int64(n)
	return nil
}

// Close closes the writer.
func (w *RecordWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.writer.Close(); err != nil {
		w.file.Close()
		return fmt.Errorf("close writer: %w", err)
	}

	return w.file.Close()
}

// Abort closes the writer and removes the partial file.
func (w *RecordWriter) Abort() {
	w.Close()
	os.Remove(w.path)
}

// RowCount returns the number of rows written.
func (w *RecordWriter) RowCount() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rowCount
}

// Path returns the file path.
func (w *RecordWriter) Path() string {
	return w.path
}

// ArchiveFileName returns the name of the archive file holding the records
// firstSeq..lastSeq evicted at t.
func ArchiveFileName(t time.Time, firstSeq, lastSeq int64) string {
	return fmt.Sprintf("faults-%s-%d-%d.parquet", t.UTC().Format("20060102T150405"), firstSeq, lastSeq)
}

// WriteArchive writes records to a new archive file in dir and returns its
// path. A failed write leaves no file behind.
func WriteArchive(dir string, records []types.Record, ev Eviction, opts Options) (string, error) {
	if len(records) == 0 {
		return "", nil
	}

	path := filepath.Join(dir, ArchiveFileName(ev.At, records[0].Seq, records[len(records)-1].Seq))

	w, err := NewRecordWriter(path, opts)
	if err != nil {
		return "", err
	}

	if err := w.Write(records, ev); err != nil {
		w.Abort()
		return "", err
	}

	if err := w.Close(); err != nil {
		os.Remove(path)
		return "", err
	}

	return path, nil
}

// ErrWriterClosed is returned when writing to a closed writer.
var ErrWriterClosed = fmt.Errorf("parquet writer is closed")
