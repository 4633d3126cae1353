package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the extraction
// pipeline and reconciler.
type Metrics struct {
	PipelineRunning prometheus.Gauge

	// Extraction metrics.
	ExtractionAttempts *prometheus.CounterVec   // labels: dataset, outcome={success,retry,empty}
	EmptyExtractions   *prometheus.CounterVec   // labels: dataset
	ScaleUsed          *prometheus.HistogramVec // labels: dataset
	QueryDuration      *prometheus.HistogramVec // labels: dataset
	MonthsProcessed    *prometheus.CounterVec   // labels: dataset

	// Checkpoint metrics.
	RecordsAccepted  *prometheus.CounterVec // labels: dataset
	CheckpointFlush  *prometheus.CounterVec // labels: dataset
	FlushDuration    prometheus.Histogram
	SessionReconnect prometheus.Counter

	// Raster transport metrics.
	RasterRequests *prometheus.CounterVec // labels: outcome={ok,retryable,error,transport}

	// Reconciliation metrics.
	ReconciledRows *prometheus.GaugeVec // labels: output={historical,prediction}
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()

	prometheus.MustRegister(
		m.PipelineRunning,
		m.ExtractionAttempts,
		m.EmptyExtractions,
		m.ScaleUsed,
		m.QueryDuration,
		m.MonthsProcessed,
		m.RecordsAccepted,
		m.CheckpointFlush,
		m.FlushDuration,
		m.SessionReconnect,
		m.RasterRequests,
		m.ReconciledRows,
	)

	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "climate_etl",
			Name:      "pipeline_running",
			Help:      "1 while extraction is active, 0 otherwise.",
		}),
		ExtractionAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "climate_etl",
			Name:      "extraction_attempts_total",
			Help:      "Region query attempts by dataset and outcome.",
		}, []string{"dataset", "outcome"}),
		EmptyExtractions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "climate_etl",
			Name:      "empty_extractions_total",
			Help:      "Region-months with no usable result at any scale.",
		}, []string{"dataset"}),
		ScaleUsed: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "climate_etl",
			Name:      "scale_used_meters",
			Help:      "Scale at which a region-month extraction succeeded.",
			Buckets:   []float64{1000, 2000, 5000, 7500, 10000, 20000},
		}, []string{"dataset"}),
		QueryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "climate_etl",
			Name:      "query_duration_seconds",
			Help:      "Duration of a single region query.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"dataset"}),
		MonthsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "climate_etl",
			Name:      "months_processed_total",
			Help:      "Month intervals completed across all regions.",
		}, []string{"dataset"}),
		RecordsAccepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "climate_etl",
			Name:      "records_accepted_total",
			Help:      "Region-month records added to the checkpoint accumulator.",
		}, []string{"dataset"}),
		CheckpointFlush: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "climate_etl",
			Name:      "checkpoint_flushes_total",
			Help:      "Checkpoint artifacts written.",
		}, []string{"dataset"}),
		FlushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "climate_etl",
			Name:      "checkpoint_flush_duration_seconds",
			Help:      "Duration of writing a checkpoint artifact and renewing the session.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
		}),
		SessionReconnect: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "climate_etl",
			Name:      "session_reconnects_total",
			Help:      "Raster service session renewals.",
		}),
		RasterRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "climate_etl",
			Name:      "raster_requests_total",
			Help:      "Raster service HTTP requests by outcome.",
		}, []string{"outcome"}),
		ReconciledRows: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "climate_etl",
			Name:      "reconciled_rows",
			Help:      "Rows in the most recent reconciled outputs.",
		}, []string{"output"}),
	}
}
