package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// ingestion-to-inference pipeline.
type Metrics struct {
	// Producer.
	RecordsPublished prometheus.Counter
	PublishErrors    prometheus.Counter
	FetchErrors      prometheus.Counter
	ProducerRunning  prometheus.Gauge
	PollDuration     prometheus.Histogram

	// Consumer.
	RecordsConsumed prometheus.Counter
	ConsumeSkips    prometheus.Counter
	UpsertErrors    prometheus.Counter
	ConsumerRunning prometheus.Gauge
	UpsertDuration  prometheus.Histogram

	// Validation failures across all ingestion paths, labeled by stage.
	ValidationSkips *prometheus.CounterVec // labels: stage={producer,consumer,loader}

	// Batch loader.
	BatchRowsLoaded  prometheus.Counter
	BatchRowsSkipped prometheus.Counter

	// Scoring.
	TrainingRuns     *prometheus.CounterVec // labels: outcome={success,insufficient_data,error}
	TrainingDuration prometheus.Histogram
	ModelReady       prometheus.Gauge
	ModelAccuracy    prometheus.Gauge
	ForecastsServed  prometheus.Counter
	ScoresPublished  prometheus.Counter
}

// NewMetrics creates and registers all pipeline metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.RecordsPublished,
		m.PublishErrors,
		m.FetchErrors,
		m.ProducerRunning,
		m.PollDuration,
		m.RecordsConsumed,
		m.ConsumeSkips,
		m.UpsertErrors,
		m.ConsumerRunning,
		m.UpsertDuration,
		m.ValidationSkips,
		m.BatchRowsLoaded,
		m.BatchRowsSkipped,
		m.TrainingRuns,
		m.TrainingDuration,
		m.ModelReady,
		m.ModelAccuracy,
		m.ForecastsServed,
		m.ScoresPublished,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	const ns = "traffic_etl"
	return &Metrics{
		RecordsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "records_published_total",
			Help:      "Total traffic records written to the topic.",
		}),
		PublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "publish_errors_total",
			Help:      "Total per-record publish failures.",
		}),
		FetchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "fetch_errors_total",
			Help:      "Total failed snapshot fetches from the traffic API.",
		}),
		ProducerRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "producer_running",
			Help:      "1 while the producer poll loop is active.",
		}),
		PollDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "poll_cycle_duration_seconds",
			Help:      "Duration of a complete fetch-normalize-publish cycle.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		}),
		RecordsConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "records_consumed_total",
			Help:      "Total records upserted into the store by the consumer.",
		}),
		ConsumeSkips: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "consume_skips_total",
			Help:      "Total topic messages skipped for deserialization failures.",
		}),
		UpsertErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "upsert_errors_total",
			Help:      "Total store upsert attempts that failed.",
		}),
		ConsumerRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "consumer_running",
			Help:      "1 while the consumer loop is active.",
		}),
		UpsertDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "upsert_duration_seconds",
			Help:      "Duration of a single store upsert.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),
		ValidationSkips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "validation_skips_total",
			Help:      "Rows or messages rejected during normalization, by stage.",
		}, []string{"stage"}),
		BatchRowsLoaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "batch_rows_loaded_total",
			Help:      "Historical rows successfully upserted by the batch loader.",
		}),
		BatchRowsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "batch_rows_skipped_total",
			Help:      "Historical rows rejected by batch loader validation.",
		}),
		TrainingRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "training_runs_total",
			Help:      "Scoring session training attempts by outcome.",
		}, []string{"outcome"}),
		TrainingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "training_duration_seconds",
			Help:      "Duration of a full session retrain.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
		}),
		ModelReady: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "model_ready",
			Help:      "1 when the current scoring session is ready to serve.",
		}),
		ModelAccuracy: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "model_accuracy",
			Help:      "Training-set accuracy of the served scoring session.",
		}),
		ForecastsServed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "forecasts_served_total",
			Help:      "Total per-street forecasts served to the dashboard.",
		}),
		ScoresPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "scores_published_total",
			Help:      "Total congestion scores published to Redis.",
		}),
	}
}
