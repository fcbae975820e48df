package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the core's Prometheus instruments: ingestion throughput,
// retrieval latency/confidence, and a process-startup marker. Adapted from
// cmd/metrics-server's standalone exporter, retargeted at this core's own
// pipeline stages instead of generic "metric requests".
type Metrics struct {
	ChunksIngested   *prometheus.CounterVec
	UnitsFailed      *prometheus.CounterVec
	IngestDuration   *prometheus.HistogramVec
	QueriesTotal     *prometheus.CounterVec
	QueryDuration    prometheus.Histogram
	RetrievalMatches prometheus.Histogram
	Startup          prometheus.Gauge
}

// NewMetrics constructs and registers the core's instruments against reg.
// Pass prometheus.NewRegistry() in tests to avoid colliding with the
// package-level DefaultRegisterer across test runs.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ChunksIngested: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "regcore_chunks_ingested_total", Help: "Chunks successfully embedded and upserted, by family."},
			[]string{"family"},
		),
		UnitsFailed: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "regcore_units_failed_total", Help: "Ingestion units that aborted with an error, by family."},
			[]string{"family"},
		),
		IngestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Name: "regcore_ingest_family_duration_seconds", Help: "Wall-clock duration of one family's ingestion run."},
			[]string{"family"},
		),
		QueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "regcore_queries_total", Help: "process_query invocations, by confidence level."},
			[]string{"confidence"},
		),
		QueryDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{Name: "regcore_query_duration_seconds", Help: "End-to-end process_query latency."},
		),
		RetrievalMatches: prometheus.NewHistogram(
			prometheus.HistogramOpts{Name: "regcore_retrieval_matches", Help: "Candidate chunks surviving the score threshold per query."},
		),
		Startup: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "regcore_startup_timestamp", Help: "Unix time the process started."},
		),
	}
	reg.MustRegister(m.ChunksIngested, m.UnitsFailed, m.IngestDuration, m.QueriesTotal, m.QueryDuration, m.RetrievalMatches, m.Startup)
	m.Startup.Set(float64(time.Now().Unix()))
	return m
}

// Handler serves the registry's Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
