package wal

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"

	"github.com/xtxerr/faultlogger/internal/errors"
	"github.com/xtxerr/faultlogger/internal/storage/types"
)

// Reader reads entries sequentially from one WAL segment file.
type Reader struct {
	path   string
	seq    int64
	file   *os.File
	buf    *bufio.Reader
	offset int64

	// Statistics
	stats ReaderStats
}

// ReaderStats holds WAL reader statistics.
type ReaderStats struct {
	EntriesRead    int64
	BytesRead      int64
	CorruptRecords int64
}

// NewReader opens segment seq in dir and verifies its header.
func NewReader(dir string, seq int64) (*Reader, error) {
	path := SegmentPath(dir, seq)

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open segment: %w", err)
	}

	if err := readHeader(f); err != nil {
		f.Close()
		return nil, err
	}

	return &Reader{
		path:   path,
		seq:    seq,
		file:   f,
		buf:    bufio.NewReaderSize(f, 64*1024),
		offset: headerSize,
	}, nil
}

func readHeader(r io.Reader) error {
	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return fmt.Errorf("read header: %w", err)
	}

	magic := binary.LittleEndian.Uint64(header[0:8])
	if magic != walMagic {
		return fmt.Errorf("invalid magic: expected %x, got %x", walMagic, magic)
	}

	version := binary.LittleEndian.Uint32(header[8:12])
	if version != walVersion {
		return fmt.Errorf("unsupported version: %d", version)
	}
	return nil
}

// Next reads the next entry and its location.
// Returns io.EOF when there are no more entries. A torn or damaged entry
// returns an error wrapping errors.ErrCorruptRecord; nothing after it in
// the segment can be trusted.
func (r *Reader) Next() (Entry, types.Location, error) {
	loc := types.Location{Segment: r.seq, Offset: r.offset}

	var header [recordHeaderSize]byte
	n, err := io.ReadFull(r.buf, header[:])
	if err == io.EOF {
		return Entry{}, loc, io.EOF
	}
	if err != nil {
		r.stats.CorruptRecords++
		return Entry{}, loc, fmt.Errorf("%w: short header (%d bytes) at %s", errors.ErrCorruptRecord, n, loc)
	}

	payload, err := readPayload(r.buf, header)
	if err != nil {
		r.stats.CorruptRecords++
		return Entry{}, loc, fmt.Errorf("%w at %s", err, loc)
	}

	e, err := decodeEntry(payload)
	if err != nil {
		r.stats.CorruptRecords++
		return Entry{}, loc, fmt.Errorf("%w: %v at %s", errors.ErrCorruptRecord, err, loc)
	}

	size := int64(recordHeaderSize + len(payload))
	r.offset += size
	r.stats.EntriesRead++
	r.stats.BytesRead += size

	return e, loc, nil
}

// readPayload reads and verifies the payload framed by header.
func readPayload(r io.Reader, header [recordHeaderSize]byte) ([]byte, error) {
	length := binary.LittleEndian.Uint32(header[0:4])
	expectedCRC := binary.LittleEndian.Uint32(header[4:8])

	if length == 0 || length > maxRecordSize {
		return nil, fmt.Errorf("%w: bad length %d", errors.ErrCorruptRecord, length)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("%w: short payload: %v", errors.ErrCorruptRecord, err)
	}

	if actualCRC := crc32.ChecksumIEEE(payload); actualCRC != expectedCRC {
		return nil, fmt.Errorf("%w: CRC mismatch: expected %x, got %x", errors.ErrCorruptRecord, expectedCRC, actualCRC)
	}
	return payload, nil
}

// Close closes the reader.
func (r *Reader) Close() error {
	if r.file != nil {
		return r.file.Close()
	}
	return nil
}

// Stats returns reader statistics.
func (r *Reader) Stats() ReaderStats {
	return r.stats
}

// Path returns the segment path.
func (r *Reader) Path() string {
	return r.path
}

// ReplayStats summarizes a replay pass.
type ReplayStats struct {
	Segments       int
	Entries        int64
	CorruptRecords int64
	BadSegments    int
	MaxSeq         int64
}

// Replay reads every segment in dir in order and calls fn for each intact
// entry. A damaged entry ends its segment; replay continues with the next
// segment. Errors returned by fn abort the replay.
func Replay(dir string, fn func(Entry, types.Location) error) (ReplayStats, error) {
	var stats ReplayStats

	segments, err := listSegments(dir)
	if err != nil {
		return stats, fmt.Errorf("list segments: %w", err)
	}

	for _, s := range segments {
		r, err := NewReader(dir, s.seq)
		if err != nil {
			stats.BadSegments++
			continue
		}
		stats.Segments++

		for {
			e, loc, err := r.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				stats.CorruptRecords++
				break
			}

			stats.Entries++
			stats.MaxSeq = max(stats.MaxSeq, e.MaxSeq())

			if err := fn(e, loc); err != nil {
				r.Close()
				return stats, err
			}
		}
		r.Close()
	}

	return stats, nil
}
