package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingestion metrics
	ReadingsConsumedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "silicamon_readings_consumed_total",
			Help: "Total number of sensor readings consumed from the bus",
		},
	)

	ReadingsDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "silicamon_readings_dropped_total",
			Help: "Total number of inbound messages dropped",
		},
		[]string{"reason"}, // reason: decode, validation
	)

	IngestQueueSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "silicamon_ingest_queue_size",
			Help: "Current size of the ingest queue",
		},
	)

	IngestQueueCapacity = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "silicamon_ingest_queue_capacity",
			Help: "Capacity of the ingest queue",
		},
	)

	// Reading store metrics
	StoreAppendsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "silicamon_store_appends_total",
			Help: "Total number of readings appended to the store",
		},
	)

	StoreOutOfOrderTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "silicamon_store_out_of_order_total",
			Help: "Total number of appends rejected for sequence regression",
		},
	)

	StoreBackendFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "silicamon_store_backend_failures_total",
			Help: "Total number of durable backend write failures",
		},
	)

	StoreEvictionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "silicamon_store_evictions_total",
			Help: "Total number of readings evicted by the retention sweep",
		},
	)

	StoreWindowSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "silicamon_store_window_size",
			Help: "Number of readings currently retained",
		},
	)

	// Predictor metrics
	PredictionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "silicamon_predictions_total",
			Help: "Total number of successful predictions",
		},
	)

	PredictionFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "silicamon_prediction_failures_total",
			Help: "Total number of failed prediction attempts",
		},
		[]string{"reason"}, // reason: missing_feature, unavailable
	)

	PredictionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "silicamon_prediction_duration_seconds",
			Help:    "Time taken to score a reading",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1},
		},
	)

	RetrainsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "silicamon_retrains_total",
			Help: "Total number of model retraining runs",
		},
		[]string{"status"}, // status: success, failed
	)

	// Alert evaluation metrics
	EvaluationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "silicamon_evaluations_total",
			Help: "Total number of alert evaluations by outcome",
		},
		[]string{"outcome"}, // outcome: alerted, suppressed, failed
	)

	// Notification metrics
	NotificationsSentTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "silicamon_notifications_sent_total",
			Help: "Total number of alert notifications delivered",
		},
	)

	NotificationsFailedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "silicamon_notifications_failed_total",
			Help: "Total number of alert notifications that failed both formats",
		},
	)

	NotificationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "silicamon_notification_duration_seconds",
			Help:    "Time taken to deliver a notification",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)

	// Panic recovery
	PanicsRecovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "silicamon_panics_recovered_total",
			Help: "Total number of panics recovered",
		},
		[]string{"component"},
	)
)
