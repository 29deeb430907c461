package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "querycost"

// Metrics holds all Prometheus collectors for the application.
type Metrics struct {
	// HTTP
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPInFlight        prometheus.Gauge

	// Estimation
	EstimatesTotal   *prometheus.CounterVec
	EstimateDuration *prometheus.HistogramVec
	EstimateCredits  prometheus.Histogram

	// Kafka
	KafkaMessagesConsumed *prometheus.CounterVec
	KafkaConsumerErrors   *prometheus.CounterVec
	KafkaConsumerRunning  *prometheus.GaugeVec
	KafkaBatchDuration    *prometheus.HistogramVec
	KafkaBatchSize        *prometheus.HistogramVec

	// Database
	DBQueryDuration   *prometheus.HistogramVec
	DBPoolConnections *prometheus.GaugeVec
}

// NewMetrics creates and registers all application metrics with the default registry.
func NewMetrics() *Metrics {
	return newMetrics(promauto.With(prometheus.DefaultRegisterer))
}

// NewTestMetrics creates metrics backed by a throw-away registry.
// Safe to call from multiple tests without duplicate-registration panics.
func NewTestMetrics() *Metrics {
	return newMetrics(promauto.With(prometheus.NewRegistry()))
}

func newMetrics(factory promauto.Factory) *Metrics {
	return &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests processed.",
		}, []string{"method", "path", "status"}),

		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"method", "path"}),

		HTTPInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_in_flight",
			Help:      "HTTP requests currently being served.",
		}),

		EstimatesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "estimates_total",
			Help:      "Total queries priced, by entry point and outcome.",
		}, []string{"source", "status"}),

		EstimateDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "estimate_duration_seconds",
			Help:      "Time spent parsing and pricing a query.",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}, []string{"source"}),

		EstimateCredits: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "estimate_credits",
			Help:      "Distribution of estimated credit totals.",
			Buckets:   prometheus.ExponentialBuckets(1, 10, 7),
		}),

		KafkaMessagesConsumed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_messages_consumed_total",
			Help:      "Total Kafka messages consumed.",
		}, []string{"topic"}),

		KafkaConsumerErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_consumer_errors_total",
			Help:      "Total Kafka consumer errors.",
		}, []string{"topic", "error_type"}),

		KafkaConsumerRunning: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "kafka_consumer_running",
			Help:      "Whether the Kafka consumer is running (1) or stopped (0).",
		}, []string{"topic"}),

		KafkaBatchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_batch_duration_seconds",
			Help:      "Duration of the batch consumer fetch and process phases.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"topic", "phase"}),

		KafkaBatchSize: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_batch_size",
			Help:      "Number of messages collected per batch.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100},
		}, []string{"topic"}),

		DBQueryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_query_duration_seconds",
			Help:      "Database query duration in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"operation"}),

		DBPoolConnections: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_pool_connections",
			Help:      "Database connection pool statistics.",
		}, []string{"state"}),
	}
}
