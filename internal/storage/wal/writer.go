package wal

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/xtxerr/faultlogger/internal/errors"
	"github.com/xtxerr/faultlogger/internal/storage/types"
)

// Writer implements the append-only fault log. Each segment file contains
// a sequence of entries with CRC checksums.
//
// File format:
//   - Header: 8 bytes magic + 4 bytes version
//   - Entries: [4 bytes length][4 bytes crc32][1 byte kind][payload]
//
// Every Append is flushed to the file before it returns so that random
// readers observe the entry as soon as its location is published.
type Writer struct {
	mu sync.Mutex

	dir            string
	currentSegment *os.File
	currentPath    string
	currentSeq     int64
	currentSize    int64
	nextSegmentSeq int64
	closed         bool

	writer *bufio.Writer

	opts Options

	// Statistics
	stats WriterStats
}

// Options configures the WAL writer.
type Options struct {
	// MaxSegmentSize is the maximum size of a segment file before rotation.
	// Default: 64MB
	MaxSegmentSize int64

	// SyncMode controls how appends reach the disk.
	// "sync" - flush to the OS after each append
	// "fsync" - flush and fsync after each append
	SyncMode string

	// BufferSize is the size of the write buffer.
	// Default: 64KB
	BufferSize int
}

// DefaultOptions returns default WAL options.
func DefaultOptions() Options {
	return Options{
		MaxSegmentSize: 64 * 1024 * 1024,
		SyncMode:       "fsync",
		BufferSize:     64 * 1024,
	}
}

// WriterStats holds WAL writer statistics.
type WriterStats struct {
	SegmentsCreated int64
	SegmentsDeleted int64
	EntriesWritten  int64
	BytesWritten    int64
	SyncsPerformed  int64
	Rollbacks       int64
	Errors          int64
}

const (
	walMagic         = 0x46544C57414C0001 // "FTLWAL" + version 1
	walVersion       = 1
	headerSize       = 12 // 8 bytes magic + 4 bytes version
	recordHeaderSize = 8  // 4 bytes length + 4 bytes crc
	maxRecordSize    = 64 * 1024 * 1024
)

// NewWriter creates a new WAL writer. Writing always starts in a fresh
// segment numbered after the highest existing one.
func NewWriter(dir string, opts Options) (*Writer, error) {
	defaults := DefaultOptions()
	if opts.MaxSegmentSize <= 0 {
		opts.MaxSegmentSize = defaults.MaxSegmentSize
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaults.BufferSize
	}
	if opts.SyncMode == "" {
		opts.SyncMode = defaults.SyncMode
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create wal dir: %w", err)
	}

	w := &Writer{
		dir:  dir,
		opts: opts,
	}

	segments, err := listSegments(dir)
	if err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}

	if len(segments) > 0 {
		w.nextSegmentSeq = segments[len(segments)-1].seq + 1
	}

	if err := w.rotateUnlocked(); err != nil {
		return nil, fmt.Errorf("create initial segment: %w", err)
	}

	return w, nil
}

// Append writes one entry and returns its location. On failure the
// partial write is removed and the location is not valid.
func (w *Writer) Append(e Entry) (types.Location, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return types.Location{}, errors.ErrClosed
	}

	payload, err := encodeEntry(e)
	if err != nil {
		w.stats.Errors++
		return types.Location{}, fmt.Errorf("encode %s entry: %w", e.Kind, err)
	}
	if len(payload) > maxRecordSize {
		w.stats.Errors++
		return types.Location{}, fmt.Errorf("entry too large: %d bytes", len(payload))
	}

	recordSize := int64(recordHeaderSize + len(payload))
	if w.currentSize > headerSize && w.currentSize+recordSize > w.opts.MaxSegmentSize {
		if err := w.rotateUnlocked(); err != nil {
			w.stats.Errors++
			return types.Location{}, fmt.Errorf("rotate segment: %w", err)
		}
	}

	loc := types.Location{Segment: w.currentSeq, Offset: w.currentSize}

	if err := w.writeRecord(payload); err != nil {
		w.stats.Errors++
		w.rollbackUnlocked(loc.Offset)
		return types.Location{}, fmt.Errorf("write entry: %w", err)
	}

	if err := w.syncUnlocked(); err != nil {
		w.stats.Errors++
		w.rollbackUnlocked(loc.Offset)
		return types.Location{}, fmt.Errorf("sync: %w", err)
	}

	w.stats.EntriesWritten++
	w.stats.BytesWritten += recordSize

	return loc, nil
}

// writeRecord writes a single framed payload to the current segment.
func (w *Writer) writeRecord(payload []byte) error {
	crc := crc32.ChecksumIEEE(payload)

	var header [recordHeaderSize]byte
	binary.LittleEndian.PutUint32(header[0:4], uint32(len(payload)))
	binary.LittleEndian.PutUint32(header[4:8], crc)

	if _, err := w.writer.Write(header[:]); err != nil {
		return err
	}
	if _, err := w.writer.Write(payload); err != nil {
		return err
	}

	w.currentSize += int64(recordHeaderSize + len(payload))
	return nil
}

// rollbackUnlocked discards everything written after offset. If the segment
// cannot be truncated it is abandoned and writing continues in a new one;
// replay stops at the damaged tail of the abandoned segment.
func (w *Writer) rollbackUnlocked(offset int64) {
	w.stats.Rollbacks++
	w.writer.Reset(w.currentSegment)

	if err := w.currentSegment.Truncate(offset); err == nil {
		if _, err := w.currentSegment.Seek(offset, io.SeekStart); err == nil {
			w.currentSize = offset
			return
		}
	}

	if err := w.rotateUnlocked(); err != nil {
		w.stats.Errors++
	}
}

// Sync flushes buffered data to disk.
func (w *Writer) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.syncUnlocked()
}

func (w *Writer) syncUnlocked() error {
	if w.writer == nil {
		return nil
	}

	if err := w.writer.Flush(); err != nil {
		return err
	}

	if w.opts.SyncMode == "fsync" {
		if err := w.currentSegment.Sync(); err != nil {
			return err
		}
	}

	w.stats.SyncsPerformed++
	return nil
}

// Rotate closes the current segment and creates a new one.
func (w *Writer) Rotate() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return errors.ErrClosed
	}
	return w.rotateUnlocked()
}

func (w *Writer) rotateUnlocked() error {
	if w.currentSegment != nil {
		if w.writer != nil {
			w.writer.Flush()
		}
		w.currentSegment.Close()
		w.currentSegment = nil
	}

	segmentPath := SegmentPath(w.dir, w.nextSegmentSeq)

	f, err := os.OpenFile(segmentPath, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("create segment %s: %w", segmentPath, err)
	}

	var header [headerSize]byte
	binary.LittleEndian.PutUint64(header[0:8], walMagic)
	binary.LittleEndian.PutUint32(header[8:12], walVersion)

	if _, err := f.Write(header[:]); err != nil {
		f.Close()
		os.Remove(segmentPath)
		return fmt.Errorf("write header: %w", err)
	}

	w.currentSegment = f
	w.currentPath = segmentPath
	w.currentSeq = w.nextSegmentSeq
	w.currentSize = headerSize
	if w.writer == nil {
		w.writer = bufio.NewWriterSize(f, w.opts.BufferSize)
	} else {
		w.writer.Reset(f)
	}
	w.nextSegmentSeq++
	w.stats.SegmentsCreated++

	return nil
}

// Close flushes and closes the WAL writer.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	var flushErr error
	if w.writer != nil {
		flushErr = w.writer.Flush()
	}

	if w.currentSegment != nil {
		if err := w.currentSegment.Close(); err != nil {
			return err
		}
	}

	return flushErr
}

// Stats returns writer statistics.
func (w *Writer) Stats() WriterStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// CurrentSegment returns the sequence number of the segment being written.
func (w *Writer) CurrentSegment() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.currentSeq
}

// Dir returns the segment directory.
func (w *Writer) Dir() string {
	return w.dir
}

// ListSegments returns the sequence numbers of all segments in order.
func (w *Writer) ListSegments() ([]int64, error) {
	segments, err := listSegments(w.dir)
	if err != nil {
		return nil, err
	}

	seqs := make([]int64, len(segments))
	for i, s := range segments {
		seqs[i] = s.seq
	}
	return seqs, nil
}

// DeleteSegment removes a closed segment. The segment being written
// cannot be deleted.
func (w *Writer) DeleteSegment(seq int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.closed && seq == w.currentSeq {
		return fmt.Errorf("cannot delete current segment %016d", seq)
	}

	if err := os.Remove(SegmentPath(w.dir, seq)); err != nil {
		return err
	}
	w.stats.SegmentsDeleted++
	return nil
}

// SegmentPath returns the file path of segment seq inside dir.
func SegmentPath(dir string, seq int64) string {
	return filepath.Join(dir, fmt.Sprintf("%016d.wal", seq))
}

// segmentInfo holds information about a segment file.
type segmentInfo struct {
	path string
	seq  int64
	size int64
}

// listSegments returns all segment files in dir ordered by sequence.
func listSegments(dir string) ([]segmentInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var segments []segmentInfo
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		if len(name) != 20 || name[16:] != ".wal" {
			continue
		}

		var seq int64
		if _, err := fmt.Sscanf(name, "%016d.wal", &seq); err != nil {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		segments = append(segments, segmentInfo{
			path: filepath.Join(dir, name),
			seq:  seq,
			size: info.Size(),
		})
	}

	sort.Slice(segments, func(i, j int) bool {
		return segments[i].seq < segments[j].seq
	})

	return segments, nil
}
