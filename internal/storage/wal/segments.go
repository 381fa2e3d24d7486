package wal

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/xtxerr/faultlogger/internal/errors"
	"github.com/xtxerr/faultlogger/internal/storage/types"
)

// SegmentReader serves random reads of entries by location. It keeps one
// open file per segment and is safe for concurrent use.
//
// Reads hold the segment lock shared; Drop holds it exclusively so that a
// segment is never removed while a read is in progress.
type SegmentReader struct {
	dir string

	segMu sync.RWMutex

	filesMu sync.Mutex
	files   map[int64]*os.File
	closed  bool
}

// NewSegmentReader creates a random reader over the segments in dir.
func NewSegmentReader(dir string) *SegmentReader {
	return &SegmentReader{
		dir:   dir,
		files: make(map[int64]*os.File),
	}
}

// ReadAt reads the entry stored at loc.
func (r *SegmentReader) ReadAt(loc types.Location) (Entry, error) {
	r.segMu.RLock()
	defer r.segMu.RUnlock()

	f, err := r.file(loc.Segment)
	if err != nil {
		return Entry{}, err
	}

	var header [recordHeaderSize]byte
	if _, err := f.ReadAt(header[:], loc.Offset); err != nil {
		return Entry{}, fmt.Errorf("%w: read header at %s: %v", errors.ErrCorruptRecord, loc, err)
	}

	length := int64(binary.LittleEndian.Uint32(header[0:4]))
	payload, err := readPayload(io.NewSectionReader(f, loc.Offset+recordHeaderSize, length), header)
	if err != nil {
		return Entry{}, fmt.Errorf("%w at %s", err, loc)
	}

	e, err := decodeEntry(payload)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: %v at %s", errors.ErrCorruptRecord, err, loc)
	}
	return e, nil
}

// ReadRecord reads the fault record stored at loc.
func (r *SegmentReader) ReadRecord(loc types.Location) (types.Record, error) {
	e, err := r.ReadAt(loc)
	if err != nil {
		return types.Record{}, err
	}
	if e.Kind != KindRecord {
		return types.Record{}, fmt.Errorf("%w: %s entry at %s", errors.ErrCorruptRecord, e.Kind, loc)
	}
	return e.Record, nil
}

func (r *SegmentReader) file(seq int64) (*os.File, error) {
	r.filesMu.Lock()
	defer r.filesMu.Unlock()

	if r.closed {
		return nil, errors.ErrClosed
	}

	if f, ok := r.files[seq]; ok {
		return f, nil
	}

	f, err := os.Open(SegmentPath(r.dir, seq))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %016d", errors.ErrSegmentGone, seq)
		}
		return nil, fmt.Errorf("open segment: %w", err)
	}

	r.files[seq] = f
	return f, nil
}

// Drop waits for in-flight reads, closes the cached file of segment seq and
// runs remove while no reader can touch the segment.
func (r *SegmentReader) Drop(seq int64, remove func() error) error {
	r.segMu.Lock()
	defer r.segMu.Unlock()

	r.filesMu.Lock()
	if f, ok := r.files[seq]; ok {
		f.Close()
		delete(r.files, seq)
	}
	r.filesMu.Unlock()

	if remove == nil {
		return nil
	}
	return remove()
}

// OpenFiles returns the number of cached segment files.
func (r *SegmentReader) OpenFiles() int {
	r.filesMu.Lock()
	defer r.filesMu.Unlock()
	return len(r.files)
}

// Close closes all cached files.
func (r *SegmentReader) Close() error {
	r.segMu.Lock()
	defer r.segMu.Unlock()

	r.filesMu.Lock()
	defer r.filesMu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	var firstErr error
	for seq, f := range r.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(r.files, seq)
	}
	return firstErr
}
