package parquet

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/parquet-go/parquet-go"

	"github.com/xtxerr/faultlogger/internal/storage/types"
)

// readBufferSize is the page read buffer of archive readers.
const readBufferSize = 1024 * 1024

// RecordReader reads archived records from a Parquet file.
type RecordReader struct {
	file   *os.File
	pf     *parquet.File
	reader *parquet.GenericReader[RecordRow]
}

// NewRecordReader opens an archive file for reading.
func NewRecordReader(path string) (*RecordReader, error) {
	f, pf, err := openArchive(path)
	if err != nil {
		return nil, err
	}

	return &RecordReader{
		file:   f,
		pf:     pf,
		reader: parquet.NewGenericReader[RecordRow](pf),
	}, nil
}

func openArchive(path string) (*os.File, *parquet.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open file: %w", err)
	}

	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("stat file: %w", err)
	}

	pf, err := parquet.OpenFile(f, stat.Size(), parquet.ReadBufferSize(readBufferSize))
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("open parquet %s: %w", filepath.Base(path), err)
	}
	return f, pf, nil
}

// Read reads up to n records from the file. It returns io.EOF once the file
// is exhausted.
func (r *RecordReader) Read(n int) ([]types.Record, error) {
	rows := make([]RecordRow, n)
	count, err := r.reader.Read(rows)
	if err != nil && !(errors.Is(err, io.EOF) && count > 0) {
		return nil, err
	}

	records := make([]types.Record, count)
	for i := 0; i < count; i++ {
		records[i] = RowToRecord(&rows[i])
	}

	return records, nil
}

// NumRows returns the total number of rows in the file.
func (r *RecordReader) NumRows() int64 {
	return r.pf.NumRows()
}

// Close closes the reader.
func (r *RecordReader) Close() error {
	if err := r.reader.Close(); err != nil {
		r.file.Close()
		return err
	}
	return r.file.Close()
}

// scanBatch is the number of rows FindRecord decodes at a time.
const scanBatch = 256

// FindRecord scans the archives in dir and returns the matching record with
// the highest sequence number.
func FindRecord(dir string, match func(*types.Record) bool) (types.Record, bool, error) {
	archives, err := ListArchives(dir)
	if err != nil {
		return types.Record{}, false, err
	}

	var (
		best  types.Record
		found bool
	)
	for _, path := range archives {
		r, err := NewRecordReader(path)
		if err != nil {
			return types.Record{}, false, err
		}
		for {
			batch, err := r.Read(scanBatch)
			if err != nil && !errors.Is(err, io.EOF) {
				r.Close()
				return types.Record{}, false, fmt.Errorf("read %s: %w", filepath.Base(path), err)
			}
			for i := range batch {
				if match(&batch[i]) && (!found || batch[i].Seq > best.Seq) {
					best, found = batch[i], true
				}
			}
			if err != nil || len(batch) < scanBatch {
				break
			}
		}
		r.Close()
	}

	return best, found, nil
}

// FileInfo holds information about a Parquet file.
type FileInfo struct {
	Path    string
	Size    int64
	NumRows int64
}

// GetFileInfo returns information about an archive file from its footer.
func GetFileInfo(path string) (*FileInfo, error) {
	f, pf, err := openArchive(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return &FileInfo{
		Path:    path,
		Size:    pf.Size(),
		NumRows: pf.NumRows(),
	}, nil
}

// ListArchives returns the archive files in dir ordered by name, which is
// eviction order.
func ListArchives(dir string) ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "faults-*.parquet"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}
