package aggregate

import (
	"math"
	"sync"
	"testing"
)

func TestDistribution_Basic(t *testing.T) {
	d := New("latency")

	if d.Count() != 0 {
		t.Error("new distribution should be empty")
	}

	d.Add(10.0)
	d.Add(20.0)
	d.Add(30.0)

	s := d.Summary()

	if s.Count != 3 {
		t.Errorf("expected count=3, got %d", s.Count)
	}
	if s.Sum != 60.0 {
		t.Errorf("expected sum=60, got %f", s.Sum)
	}
	if s.Min != 10.0 {
		t.Errorf("expected min=10, got %f", s.Min)
	}
	if s.Max != 30.0 {
		t.Errorf("expected max=30, got %f", s.Max)
	}
	if math.Abs(s.Avg-20.0) > 0.001 {
		t.Errorf("expected avg=20, got %f", s.Avg)
	}
	if s.Name != "latency" {
		t.Errorf("expected name latency, got %q", s.Name)
	}
}

func TestDistribution_Empty(t *testing.T) {
	s := New("empty").Summary()

	if s.Count != 0 || s.Min != 0 || s.Max != 0 || s.P50 != 0 {
		t.Errorf("expected zero summary, got %+v", s)
	}
}

func TestDistribution_Quantiles(t *testing.T) {
	d := New("size")

	for i := 1; i <= 100; i++ {
		d.Add(float64(i))
	}

	s := d.Summary()

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"p50", s.P50, 50},
		{"p90", s.P90, 90},
		{"p95", s.P95, 95},
		{"p99", s.P99, 99},
	}

	for _, tt := range tests {
		if math.Abs(tt.got-tt.want) > 2.0 {
			t.Errorf("expected %s near %.0f, got %f", tt.name, tt.want, tt.got)
		}
	}
}

func TestDistribution_Reset(t *testing.T) {
	d := New("x")
	d.Add(5)
	d.Add(7)
	d.Reset()

	if d.Count() != 0 {
		t.Errorf("expected count=0 after reset, got %d", d.Count())
	}

	d.Add(3)
	s := d.Summary()
	if s.Min != 3 || s.Max != 3 {
		t.Errorf("expected min=max=3 after reset, got %f/%f", s.Min, s.Max)
	}
}

func TestDistribution_Merge(t *testing.T) {
	a := New("a")
	b := New("b")

	a.Add(1)
	a.Add(2)
	b.Add(10)
	b.Add(20)

	a.Merge(b)
	a.Merge(nil)
	a.Merge(a)

	s := a.Summary()
	if s.Count != 4 {
		t.Errorf("expected count=4, got %d", s.Count)
	}
	if s.Min != 1 || s.Max != 20 {
		t.Errorf("expected min=1 max=20, got %f/%f", s.Min, s.Max)
	}
	if s.Sum != 33 {
		t.Errorf("expected sum=33, got %f", s.Sum)
	}
}

func TestDistribution_Concurrent(t *testing.T) {
	d := New("c")

	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				d.Add(float64(i))
			}
		}()
	}
	wg.Wait()

	if d.Count() != 10000 {
		t.Errorf("expected count=10000, got %d", d.Count())
	}
}

func TestSet(t *testing.T) {
	s := NewSet()

	s.Observe("ingest_ms", 1)
	s.Observe("ingest_ms", 3)
	s.Observe("log_bytes", 512)

	sum, ok := s.Summary("ingest_ms")
	if !ok {
		t.Fatal("expected ingest_ms summary")
	}
	if sum.Count != 2 || sum.Avg != 2 {
		t.Errorf("ingest_ms summary = %+v", sum)
	}

	if _, ok := s.Summary("missing"); ok {
		t.Error("expected missing summary to be absent")
	}

	all := s.Summaries()
	if len(all) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(all))
	}
	if all[0].Name != "ingest_ms" || all[1].Name != "log_bytes" {
		t.Errorf("summaries not ordered by name: %s, %s", all[0].Name, all[1].Name)
	}
}

func BenchmarkDistribution_Add(b *testing.B) {
	d := New("bench")
	for i := 0; i < b.N; i++ {
		d.Add(float64(i % 1000))
	}
}
