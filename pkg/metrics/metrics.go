package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics
type Metrics struct {
	// Booking life cycle
	ClaimAttempts        *prometheus.CounterVec
	BookingsConfirmed    prometheus.Counter
	BookingsCancelled    prometheus.Counter
	ReservationsExpired  prometheus.Counter
	ExpirySweepDuration  prometheus.Histogram
	ExpirySweepBatchSize prometheus.Histogram

	// Outbox publishing
	OutboxEventsPublished prometheus.Counter
	OutboxEventsFailed    prometheus.Counter
	OutboxPublishLatency  prometheus.Histogram

	// Change notifier
	NotifierSubscribers   prometheus.Gauge
	NotifierDroppedEvents prometheus.Counter

	// Availability store
	DatabaseOperations *prometheus.CounterVec
}

// NewMetrics creates and registers all application metrics
func NewMetrics(namespace, subsystem string) *Metrics {
	return &Metrics{
		ClaimAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "claim_attempts_total",
			Help:      "Slot claim attempts by outcome",
		}, []string{"outcome"}),
		BookingsConfirmed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "bookings_confirmed_total",
			Help:      "Reservations confirmed by the payment collaborator",
		}),
		BookingsCancelled: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "bookings_cancelled_total",
			Help:      "Reservations released by cancellation",
		}),
		ReservationsExpired: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "reservations_expired_total",
			Help:      "Pending reservations expired past their TTL",
		}),
		ExpirySweepDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "expiry_sweep_duration_seconds",
			Help:      "Time spent per expiry sweep pass",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),
		ExpirySweepBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "expiry_sweep_batch_size",
			Help:      "Reservations expired per sweep pass",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100},
		}),
		OutboxEventsPublished: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "outbox_events_published_total",
			Help:      "Slot changes published to the broker",
		}),
		OutboxEventsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "outbox_events_failed_total",
			Help:      "Slot changes that failed to publish",
		}),
		OutboxPublishLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "outbox_publish_duration_seconds",
			Help:      "Time spent publishing pending outbox batches",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		NotifierSubscribers: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "notifier_subscribers",
			Help:      "Active schedule subscriptions",
		}),
		NotifierDroppedEvents: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "notifier_dropped_events_total",
			Help:      "Slot changes dropped on slow subscriber channels",
		}),
		DatabaseOperations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "database_operations_total",
			Help:      "Total number of database operations",
		}, []string{"operation", "status"}),
	}
}
