package parquet

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/xtxerr/faultlogger/internal/storage/types"
)

func testRecords(n int) []types.Record {
	records := make([]types.Record, n)
	for i := range records {
		records[i] = types.Record{
			Seq:       int64(i + 1),
			ID:        uuid.New(),
			ProcessID: int32(100 + i),
			UserID:    20010036,
			Module:    "com.example.app",
			Category:  types.AllCategories()[i%3],
			Timestamp: 1700000000 + int64(i),
			Reason:    "Signal:SIGSEGV",
			Summary:   "summary",
			FullLog:   "Module name:com.example.app\nSummary:\nsummary\n",
		}
	}
	return records
}

var testEviction = Eviction{At: time.Unix(1710000000, 0), Reason: "count"}

func readAll(t *testing.T, path string) []types.Record {
	t.Helper()
	r, err := NewRecordReader(path)
	if err != nil {
		t.Fatalf("NewRecordReader: %v", err)
	}
	defer r.Close()

	records, err := r.Read(int(r.NumRows()) + 1)
	if err != nil && err != io.EOF {
		t.Fatalf("Read: %v", err)
	}
	return records
}

func TestRecordWriterBasic(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "test.parquet")

	writer, err := NewRecordWriter(path, DefaultOptions())
	if err != nil {
		t.Fatalf("NewRecordWriter: %v", err)
	}

	if err := writer.Write(testRecords(10), testEviction); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if writer.RowCount() != 10 {
		t.Errorf("expected 10 rows, got %d", writer.RowCount())
	}

	if err := writer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Size() == 0 {
		t.Error("file is empty")
	}
}

func TestRecordWriteAndRead(t *testing.T) {
	tmpDir := t.TempDir()

	original := testRecords(25)
	original[3].FullLog = strings.Repeat("frame\n", 500)
	original[4].ProcessID = -1

	path, err := WriteArchive(tmpDir, original, testEviction, DefaultOptions())
	if err != nil {
		t.Fatalf("WriteArchive: %v", err)
	}

	if filepath.Base(path) != "faults-20240309T160000-1-25.parquet" {
		t.Errorf("unexpected archive name %s", filepath.Base(path))
	}

	records := readAll(t, path)

	if len(records) != len(original) {
		t.Fatalf("expected %d records, got %d", len(original), len(records))
	}

	for i := range original {
		if records[i] != original[i] {
			t.Errorf("record %d mismatch:\n got %+v\nwant %+v", i, records[i], original[i])
		}
	}
}

func TestRecordReader_ReadBatches(t *testing.T) {
	tmpDir := t.TempDir()

	path, err := WriteArchive(tmpDir, testRecords(7), testEviction, DefaultOptions())
	if err != nil {
		t.Fatalf("WriteArchive: %v", err)
	}

	r, err := NewRecordReader(path)
	if err != nil {
		t.Fatalf("NewRecordReader: %v", err)
	}
	defer r.Close()

	if r.NumRows() != 7 {
		t.Errorf("NumRows = %d, want 7", r.NumRows())
	}

	total := 0
	for {
		batch, err := r.Read(3)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		total += len(batch)
		if len(batch) < 3 {
			break
		}
	}
	if total != 7 {
		t.Errorf("read %d records, want 7", total)
	}
}

func TestCompressionTypes(t *testing.T) {
	tmpDir := t.TempDir()

	compressions := []struct {
		name string
		ct   CompressionType
	}{
		{"none", CompressionNone},
		{"snappy", CompressionSnappy},
		{"zstd", CompressionZstd},
		{"lz4", CompressionLZ4},
		{"gzip", CompressionGzip},
	}

	for _, c := range compressions {
		t.Run(c.name, func(t *testing.T) {
			dir := filepath.Join(tmpDir, c.name)

			path, err := WriteArchive(dir, testRecords(20), testEviction, Options{Compression: c.ct})
			if err != nil {
				t.Fatalf("WriteArchive: %v", err)
			}

			if records := readAll(t, path); len(records) != 20 {
				t.Errorf("expected 20 records, got %d", len(records))
			}
		})
	}
}

func TestParseCompressionType(t *testing.T) {
	tests := []struct {
		input    string
		expected CompressionType
	}{
		{"snappy", CompressionSnappy},
		{"zstd", CompressionZstd},
		{"lz4", CompressionLZ4},
		{"gzip", CompressionGzip},
		{"none", CompressionNone},
		{"", CompressionNone},
		{"unknown", CompressionZstd},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseCompressionType(tt.input); got != tt.expected {
				t.Errorf("ParseCompressionType(%q) = %d, want %d", tt.input, got, tt.expected)
			}
		})
	}
}

func TestRowConversion(t *testing.T) {
	rec := testRecords(1)[0]
	row := RecordToRow(&rec, testEviction)

	if row.CategoryName != rec.Category.Name() {
		t.Errorf("category name = %s, want %s", row.CategoryName, rec.Category.Name())
	}
	if row.EvictedAt != 1710000000 || row.EvictReason != "count" {
		t.Errorf("eviction = %d/%s", row.EvictedAt, row.EvictReason)
	}

	row.ID = "not-a-uuid"
	if got := RowToRecord(&row); got.ID != uuid.Nil {
		t.Errorf("malformed id should decode to nil UUID, got %s", got.ID)
	}
}

func TestEmptyWrite(t *testing.T) {
	tmpDir := t.TempDir()

	path, err := WriteArchive(tmpDir, nil, testEviction, DefaultOptions())
	if err != nil {
		t.Fatalf("WriteArchive: %v", err)
	}
	if path != "" {
		t.Errorf("expected no file for empty archive, got %s", path)
	}

	archives, err := ListArchives(tmpDir)
	if err != nil {
		t.Fatalf("ListArchives: %v", err)
	}
	if len(archives) != 0 {
		t.Errorf("expected no archives, got %v", archives)
	}
}

func TestWriteToClosedWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "closed.parquet")

	writer, err := NewRecordWriter(path, DefaultOptions())
	if err != nil {
		t.Fatalf("NewRecordWriter: %v", err)
	}
	writer.Close()

	if err := writer.Write(testRecords(1), testEviction); err != ErrWriterClosed {
		t.Errorf("expected ErrWriterClosed, got %v", err)
	}
}

func TestListArchivesAndFileInfo(t *testing.T) {
	tmpDir := t.TempDir()

	first, err := WriteArchive(tmpDir, testRecords(3), Eviction{At: time.Unix(1700000000, 0), Reason: "age"}, DefaultOptions())
	if err != nil {
		t.Fatalf("WriteArchive: %v", err)
	}
	second, err := WriteArchive(tmpDir, testRecords(5), Eviction{At: time.Unix(1700003600, 0), Reason: "count"}, DefaultOptions())
	if err != nil {
		t.Fatalf("WriteArchive: %v", err)
	}
	os.WriteFile(filepath.Join(tmpDir, "other.txt"), []byte("x"), 0644)

	archives, err := ListArchives(tmpDir)
	if err != nil {
		t.Fatalf("ListArchives: %v", err)
	}
	if len(archives) != 2 || archives[0] != first || archives[1] != second {
		t.Errorf("archives = %v, want [%s %s]", archives, first, second)
	}

	info, err := GetFileInfo(second)
	if err != nil {
		t.Fatalf("GetFileInfo: %v", err)
	}
	if info.NumRows != 5 {
		t.Errorf("NumRows = %d, want 5", info.NumRows)
	}
	if info.Size == 0 {
		t.Error("expected non-zero size")
	}
}

func TestOpenDamagedArchive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "faults-broken.parquet")
	if err := os.WriteFile(path, []byte("not parquet at all"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := NewRecordReader(path); err == nil {
		t.Error("expected error opening a damaged archive")
	}
	if _, err := GetFileInfo(path); err == nil {
		t.Error("expected error reading info of a damaged archive")
	}
	if _, _, err := FindRecord(filepath.Dir(path), func(*types.Record) bool { return true }); err == nil {
		t.Error("expected FindRecord to report the damaged archive")
	}
}

func TestFindRecord(t *testing.T) {
	tmpDir := t.TempDir()

	first := testRecords(300)
	if _, err := WriteArchive(tmpDir, first, Eviction{At: time.Unix(1700000000, 0), Reason: "age"}, DefaultOptions()); err != nil {
		t.Fatalf("WriteArchive: %v", err)
	}
	second := testRecords(2)
	for i := range second {
		second[i].Seq += 1000
	}
	if _, err := WriteArchive(tmpDir, second, Eviction{At: time.Unix(1700003600, 0), Reason: "count"}, DefaultOptions()); err != nil {
		t.Fatalf("WriteArchive: %v", err)
	}

	tests := []struct {
		name    string
		match   func(*types.Record) bool
		wantSeq int64
		found   bool
	}{
		{"past first batch", func(r *types.Record) bool { return r.ProcessID == 100+280 }, 281, true},
		{"highest seq wins", func(r *types.Record) bool { return r.ProcessID == 100 }, 1001, true},
		{"no match", func(r *types.Record) bool { return r.ProcessID == -5 }, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, ok, err := FindRecord(tmpDir, tt.match)
			if err != nil {
				t.Fatalf("FindRecord: %v", err)
			}
			if ok != tt.found || rec.Seq != tt.wantSeq {
				t.Errorf("got seq %d found=%v, want %d found=%v", rec.Seq, ok, tt.wantSeq, tt.found)
			}
		})
	}
}

func BenchmarkWriteArchive(b *testing.B) {
	tmpDir := b.TempDir()
	records := testRecords(1000)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		path := filepath.Join(tmpDir, "bench.parquet")
		w, _ := NewRecordWriter(path, DefaultOptions())
		w.Write(records, testEviction)
		w.Close()
	}
}
