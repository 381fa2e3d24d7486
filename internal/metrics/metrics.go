// Package metrics defines the Prometheus collectors of a fault log store.
//
// Collectors are registered on a registry owned by the store so that
// several stores in one process (as in tests) do not collide.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the collectors of one store.
type Metrics struct {
	Registry *prometheus.Registry

	// IngestedTotal counts stored records by category.
	IngestedTotal *prometheus.CounterVec
	// IngestFailures counts rejected or failed ingestions by reason.
	IngestFailures *prometheus.CounterVec
	// IngestDuration is the latency of a successful ingestion.
	IngestDuration prometheus.Histogram
	// QueriesTotal counts queries by mode (category, all, self, archive).
	QueriesTotal *prometheus.CounterVec
	// QueryDuration is the latency of queries by mode.
	QueryDuration *prometheus.HistogramVec
	// QueriesCoalesced counts queries answered by an identical in-flight query.
	QueriesCoalesced prometheus.Counter
	// EvictedTotal counts records removed by retention by category.
	EvictedTotal *prometheus.CounterVec
	// ArchivedTotal counts records written to the archive.
	ArchivedTotal prometheus.Counter
	// LiveRecords is the number of records in the index.
	LiveRecords prometheus.Gauge
}

// New creates and registers the collectors on a fresh registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.NewRegistry())
}

// NewWithRegistry creates and registers the collectors on reg.
func NewWithRegistry(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		IngestedTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "faultlog_ingested_total",
				Help: "Total number of fault records stored",
			},
			[]string{"category"},
		),
		IngestFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "faultlog_ingest_failures_total",
				Help: "Total number of rejected or failed ingestions",
			},
			[]string{"reason"},
		),
		IngestDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "faultlog_ingest_duration_seconds",
				Help:    "Ingestion latency in seconds",
				Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
			},
		),
		QueriesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "faultlog_queries_total",
				Help: "Total number of queries",
			},
			[]string{"mode", "status"},
		),
		QueryDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "faultlog_query_duration_seconds",
				Help:    "Query latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"mode"},
		),
		QueriesCoalesced: f.NewCounter(
			prometheus.CounterOpts{
				Name: "faultlog_queries_coalesced_total",
				Help: "Total number of queries served by an identical in-flight query",
			},
		),
		EvictedTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "faultlog_evicted_total",
				Help: "Total number of records removed by retention",
			},
			[]string{"category"},
		),
		ArchivedTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "faultlog_archived_total",
				Help: "Total number of records written to the archive",
			},
		),
		LiveRecords: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "faultlog_live_records",
				Help: "Number of records currently held by the index",
			},
		),
	}
}

// Status returns the status label for an operation result.
func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
