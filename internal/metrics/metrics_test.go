package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNew_IndependentRegistries(t *testing.T) {
	a := New()
	b := New()

	a.IngestedTotal.WithLabelValues("CPP_CRASH").Inc()
	a.IngestedTotal.WithLabelValues("CPP_CRASH").Inc()

	if got := testutil.ToFloat64(a.IngestedTotal.WithLabelValues("CPP_CRASH")); got != 2 {
		t.Errorf("a ingested = %f, want 2", got)
	}
	if got := testutil.ToFloat64(b.IngestedTotal.WithLabelValues("CPP_CRASH")); got != 0 {
		t.Errorf("b ingested = %f, want 0", got)
	}
}

func TestRegistry_Gather(t *testing.T) {
	m := New()
	m.QueriesTotal.WithLabelValues("all", "ok").Inc()
	m.LiveRecords.Set(3)

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}

	for _, want := range []string{"faultlog_queries_total", "faultlog_live_records"} {
		if !names[want] {
			t.Errorf("missing metric family %s", want)
		}
	}
}

func TestStatus(t *testing.T) {
	if Status(nil) != "ok" {
		t.Error("nil error should be ok")
	}
	if Status(errors.New("boom")) != "error" {
		t.Error("non-nil error should be error")
	}
}
