package query

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/xtxerr/faultlogger/internal/errors"
	"github.com/xtxerr/faultlogger/internal/storage/config"
	"github.com/xtxerr/faultlogger/internal/storage/index"
	"github.com/xtxerr/faultlogger/internal/storage/ingestion"
	"github.com/xtxerr/faultlogger/internal/storage/parquet"
	"github.com/xtxerr/faultlogger/internal/storage/types"
	"github.com/xtxerr/faultlogger/internal/storage/wal"
)

type fixture struct {
	cfg    *config.Config
	ix     *index.Index
	ingest *ingestion.Service
	reader *wal.SegmentReader
	svc    *Service
}

func newFixture(t *testing.T, opts ...ingestion.Options) *fixture {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.WAL.SyncMode = "sync"

	var ingOpts ingestion.Options
	if len(opts) > 0 {
		ingOpts = opts[0]
	}

	ix := index.New()
	ing, err := ingestion.New(cfg, ix, ingOpts)
	if err != nil {
		t.Fatalf("ingestion.New: %v", err)
	}
	if err := ing.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	reader := wal.NewSegmentReader(cfg.WALDir())

	svc, err := New(cfg, ix, reader, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	t.Cleanup(func() {
		svc.Close()
		reader.Close()
		ing.Stop()
	})

	return &fixture{cfg: cfg, ix: ix, ingest: ing, reader: reader, svc: svc}
}

func (f *fixture) add(t *testing.T, cat types.Category, uid int32, module string) types.Handle {
	t.Helper()
	h, err := f.ingest.Ingest(context.Background(), ingestion.Request{
		ProcessID: 1000 + uid,
		UserID:    uid,
		Category:  cat,
		Module:    module,
		Reason:    "reason",
		Summary:   "summary",
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	return h
}

func seqsOf(records []types.Record) []int64 {
	out := make([]int64, len(records))
	for i, r := range records {
		out[i] = r.Seq
	}
	return out
}

func equal(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func int32p(v int32) *int32 { return &v }

// steppedClock returns a clock that starts at start and moves by step on
// every call.
func steppedClock(start int64, step time.Duration) func() time.Time {
	var mu sync.Mutex
	now := time.Unix(start, 0)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := now
		now = now.Add(step)
		return t
	}
}

func TestService_QueryOrdering(t *testing.T) {
	f := newFixture(t)

	f.add(t, types.CategoryNativeCrash, 1, "a") // 1
	f.add(t, types.CategoryScriptCrash, 1, "a") // 2
	f.add(t, types.CategoryNativeCrash, 2, "b") // 3
	f.add(t, types.CategoryAppFreeze, 1, "a")   // 4

	tests := []struct {
		name   string
		filter Filter
		want   []int64
	}{
		{"all", Filter{}, []int64{4, 3, 2, 1}},
		{"native", Filter{Category: types.CategoryNativeCrash}, []int64{3, 1}},
		{"script", Filter{Category: types.CategoryScriptCrash}, []int64{2}},
		{"freeze", Filter{Category: types.CategoryAppFreeze}, []int64{4}},
		{"owner", Filter{UserID: int32p(1), Module: "a"}, []int64{4, 2, 1}},
		{"owner and category", Filter{Category: types.CategoryNativeCrash, UserID: int32p(2), Module: "b"}, []int64{3}},
		{"owner mismatch", Filter{UserID: int32p(1), Module: "b"}, nil},
		{"process", Filter{ProcessID: int32p(1002)}, []int64{3}},
		{"limit", Filter{Limit: 2}, []int64{4, 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.svc.Query(context.Background(), tt.filter)
			if err != nil {
				t.Fatalf("Query: %v", err)
			}
			if !equal(seqsOf(got), tt.want) {
				t.Errorf("got %v, want %v", seqsOf(got), tt.want)
			}
		})
	}
}

func TestService_QueryEmpty(t *testing.T) {
	f := newFixture(t)

	got, err := f.svc.Query(context.Background(), Filter{Category: types.CategoryAppFreeze})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty result, got %d records", len(got))
	}
}

func TestService_QueryInvalidCategory(t *testing.T) {
	f := newFixture(t)

	for _, c := range []types.Category{1, 5, -1} {
		_, err := f.svc.Query(context.Background(), Filter{Category: c})
		if !errors.IsInvalidParameter(err) {
			t.Errorf("category %d: expected invalid parameter, got %v", c, err)
		}
		if errors.ErrorToCode(err) != errors.CodeInvalidParameter {
			t.Errorf("category %d: code = %d, want %d", c, errors.ErrorToCode(err), errors.CodeInvalidParameter)
		}
	}
}

func TestService_QueryFullLog(t *testing.T) {
	f := newFixture(t)

	_, err := f.ingest.Ingest(context.Background(), ingestion.Request{
		Category: types.CategoryScriptCrash,
		UserID:   7,
		Module:   "test",
		Reason:   "TypeError",
		Summary:  "line one\nline two",
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	got, err := f.svc.Query(context.Background(), Filter{Category: types.CategoryScriptCrash})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 record, got %d", len(got))
	}
	if got[0].Summary != "line one\nline two" || got[0].Module != "test" || got[0].UserID != 7 {
		t.Errorf("record = %+v", got[0])
	}
	if got[0].FullLog == "" {
		t.Error("full log not read")
	}
}

func TestService_ClampLimit(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		in, want int
	}{
		{0, 100},
		{-5, 100},
		{1, 1},
		{100, 100},
		{101, 100},
		{1000, 100},
	}

	for _, tt := range tests {
		if got := f.svc.ClampLimit(tt.in); got != tt.want {
			t.Errorf("ClampLimit(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestService_QueryClampsToMaxResults(t *testing.T) {
	f := newFixture(t)

	for i := 0; i < 105; i++ {
		f.add(t, types.CategoryAppFreeze, 1, "a")
	}

	got, err := f.svc.Query(context.Background(), Filter{Limit: 500})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 100 {
		t.Fatalf("expected 100 records, got %d", len(got))
	}
	if got[0].Seq != 105 || got[99].Seq != 6 {
		t.Errorf("expected newest 100 records, got %d..%d", got[0].Seq, got[99].Seq)
	}
}

func TestService_QuerySeesCompletedIngest(t *testing.T) {
	f := newFixture(t)

	for i := 1; i <= 20; i++ {
		h := f.add(t, types.CategoryNativeCrash, 1, "a")
		got, err := f.svc.Query(context.Background(), Filter{Category: types.CategoryNativeCrash, Limit: 1})
		if err != nil {
			t.Fatalf("Query: %v", err)
		}
		if len(got) != 1 || got[0].Seq != h.Seq {
			t.Fatalf("query after ingest %d returned %v", h.Seq, seqsOf(got))
		}
	}
}

func TestService_QueryCallerOwnsResult(t *testing.T) {
	f := newFixture(t)
	f.add(t, types.CategoryNativeCrash, 1, "a")

	first, _ := f.svc.Query(context.Background(), Filter{})
	first[0].Module = "changed"

	second, _ := f.svc.Query(context.Background(), Filter{})
	if second[0].Module != "a" {
		t.Errorf("result shared between callers: %q", second[0].Module)
	}
}

func TestService_QueryCanceled(t *testing.T) {
	f := newFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := f.svc.Query(ctx, Filter{}); err != context.Canceled {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestService_QuerySkipsDroppedSegment(t *testing.T) {
	f := newFixture(t)

	old := f.add(t, types.CategoryNativeCrash, 1, "a")
	if err := f.ingest.WAL().Rotate(); err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	f.add(t, types.CategoryNativeCrash, 1, "a")

	// Delete the segment while the index still references it, as a
	// concurrent retention pass would between snapshot and read.
	err := f.reader.Drop(old.Location.Segment, func() error {
		return f.ingest.WAL().DeleteSegment(old.Location.Segment)
	})
	if err != nil {
		t.Fatalf("Drop: %v", err)
	}

	got, err := f.svc.Query(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if !equal(seqsOf(got), []int64{2}) {
		t.Errorf("got %v, want [2]", seqsOf(got))
	}
	if f.svc.Stats().RecordsVanished != 1 {
		t.Errorf("vanished = %d, want 1", f.svc.Stats().RecordsVanished)
	}
}

func TestService_ConcurrentQueries(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 30; i++ {
		f.add(t, types.AllCategories()[i%3], int32(i%2), "m")
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 50)
	for g := 0; g < 50; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := f.svc.Query(context.Background(), Filter{})
			if err != nil {
				errCh <- err
				return
			}
			if len(got) != 30 || got[0].Seq != 30 {
				errCh <- errors.New("unexpected result")
			}
		}()
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		t.Errorf("concurrent query: %v", err)
	}

	stats := f.svc.Stats()
	if stats.QueriesExecuted+stats.QueriesCoalesced < 50 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestService_Exists(t *testing.T) {
	f := newFixture(t)
	f.add(t, types.CategoryAppFreeze, 3, "m") // pid 1003

	tests := []struct {
		name string
		pid  int32
		uid  int32
		cat  types.Category
		want bool
	}{
		{"match", 1003, 3, types.CategoryAppFreeze, true},
		{"any category", 1003, 3, types.CategoryUnspecified, true},
		{"other category", 1003, 3, types.CategoryNativeCrash, false},
		{"other uid", 1003, 4, types.CategoryAppFreeze, false},
		{"other pid", 1, 3, types.CategoryAppFreeze, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := f.svc.Exists(tt.pid, tt.uid, tt.cat); got != tt.want {
				t.Errorf("Exists = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestService_ExecuteSQL(t *testing.T) {
	f := newFixture(t)

	results, err := f.svc.ExecuteSQL(context.Background(), "SELECT 1 AS value")
	if err != nil {
		t.Fatalf("ExecuteSQL: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
}

func TestService_QueryArchive(t *testing.T) {
	f := newFixture(t)

	empty, err := f.svc.QueryArchive(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("QueryArchive without archives: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("expected no archived records, got %d", len(empty))
	}

	var records []types.Record
	for i := 1; i <= 6; i++ {
		records = append(records, types.Record{
			Seq:       int64(i),
			UserID:    int32(i % 2),
			Module:    "m",
			Category:  types.AllCategories()[i%3],
			Timestamp: 1700000000 + int64(i),
			Summary:   "s",
		})
	}
	ev := parquet.Eviction{At: time.Unix(1710000000, 0), Reason: "age"}
	if _, err := parquet.WriteArchive(f.cfg.ArchiveDir(), records, ev, parquet.DefaultOptions()); err != nil {
		t.Fatalf("WriteArchive: %v", err)
	}

	got, err := f.svc.QueryArchive(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("QueryArchive: %v", err)
	}
	if !equal(seqsOf(got), []int64{6, 5, 4, 3, 2, 1}) {
		t.Errorf("archive all = %v", seqsOf(got))
	}

	got, err = f.svc.QueryArchive(context.Background(), Filter{Category: types.AllCategories()[0], UserID: int32p(1)})
	if err != nil {
		t.Fatalf("QueryArchive: %v", err)
	}
	if !equal(seqsOf(got), []int64{3}) {
		t.Errorf("archive filtered = %v, want [3]", seqsOf(got))
	}

	got, err = f.svc.QueryArchive(context.Background(), Filter{Since: 1700000005})
	if err != nil {
		t.Fatalf("QueryArchive: %v", err)
	}
	if !equal(seqsOf(got), []int64{6, 5}) {
		t.Errorf("archive since = %v, want [6 5]", seqsOf(got))
	}

	rows, err := f.svc.ExecuteSQL(context.Background(), "SELECT count(*) AS n FROM archive")
	if err != nil {
		t.Fatalf("ExecuteSQL: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
}

func TestService_QuerySince(t *testing.T) {
	f := newFixture(t, ingestion.Options{Clock: steppedClock(1700000000, 10*time.Second)})
	for i := 0; i < 4; i++ {
		f.add(t, types.CategoryAppFreeze, 1, "m")
	}

	tests := []struct {
		name  string
		since int64
		want  []int64
	}{
		{"disabled", 0, []int64{4, 3, 2, 1}},
		{"inclusive bound", 1700000010, []int64{4, 3, 2}},
		{"after newest", 1700000031, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.svc.Query(context.Background(), Filter{Since: tt.since})
			if err != nil {
				t.Fatalf("Query: %v", err)
			}
			if !equal(seqsOf(got), tt.want) {
				t.Errorf("got %v, want %v", seqsOf(got), tt.want)
			}
		})
	}
}

func TestService_FindByLogName(t *testing.T) {
	// Two records per call share a second.
	f := newFixture(t, ingestion.Options{Clock: steppedClock(1700000000, 500*time.Millisecond)})

	first := f.add(t, types.CategoryNativeCrash, 7, "com.example.app")
	second := f.add(t, types.CategoryNativeCrash, 7, "com.example.app")
	other := f.add(t, types.CategoryNativeCrash, 8, "com.example.app")

	if first.LogName() != second.LogName() {
		t.Fatalf("expected shared name, got %s and %s", first.LogName(), second.LogName())
	}

	rec, ok, err := f.svc.FindByLogName(context.Background(), first.LogName())
	if err != nil || !ok {
		t.Fatalf("FindByLogName: ok=%v err=%v", ok, err)
	}
	if rec.Seq != second.Seq || rec.FullLog == "" {
		t.Errorf("got seq %d, want most recent %d with a body", rec.Seq, second.Seq)
	}

	rec, ok, err = f.svc.FindByLogName(context.Background(), other.LogName())
	if err != nil || !ok || rec.Seq != other.Seq {
		t.Errorf("got seq %d ok=%v err=%v, want %d", rec.Seq, ok, err, other.Seq)
	}

	if _, ok, err := f.svc.FindByLogName(context.Background(), "cppcrash-nobody-0-19700101000000000.log"); err != nil || ok {
		t.Errorf("unknown name: ok=%v err=%v", ok, err)
	}

	if _, _, err := f.svc.FindByLogName(context.Background(), ""); !errors.IsInvalidParameter(err) {
		t.Errorf("expected invalid parameter, got %v", err)
	}

	archived := types.Record{Seq: 99, Category: types.CategoryScriptCrash, UserID: 3, Module: "old", Timestamp: 1600000000, FullLog: "body"}
	ev := parquet.Eviction{At: time.Unix(1710000000, 0), Reason: "age"}
	if _, err := parquet.WriteArchive(f.cfg.ArchiveDir(), []types.Record{archived}, ev, parquet.DefaultOptions()); err != nil {
		t.Fatalf("WriteArchive: %v", err)
	}

	rec, ok, err = f.svc.FindByLogName(context.Background(), archived.LogName())
	if err != nil || !ok {
		t.Fatalf("archived lookup: ok=%v err=%v", ok, err)
	}
	if rec.Seq != 99 || rec.FullLog != "body" {
		t.Errorf("unexpected archived record %+v", rec)
	}
}
