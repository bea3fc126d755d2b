package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const Namespace = "rxledger"

// Metrics holds all application metrics
type Metrics struct {
	// Prescription lifecycle
	PrescriptionsCreated prometheus.Counter
	PrescriptionsSigned  prometheus.Counter
	SignRejected         prometheus.Counter
	Anchors              *prometheus.CounterVec
	Verifications        *prometheus.CounterVec
	Dispenses            *prometheus.CounterVec
	TokensIssued         prometheus.Counter

	// Outbox related metrics
	OutboxEventsProcessed   prometheus.Counter
	OutboxEventsFailed      prometheus.Counter
	OutboxProcessingLatency prometheus.Histogram
	OutboxQueueSize         prometheus.Gauge
	OutboxRetries           *prometheus.CounterVec
	BrokerPublishes         *prometheus.CounterVec

	// HTTP
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPRequests        *prometheus.CounterVec
	HTTPErrors          *prometheus.CounterVec
}

// New creates all application metrics and registers them with reg. A nil
// registerer yields unregistered collectors, which is what tests want.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		PrescriptionsCreated: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "prescription",
			Name:      "created_total",
			Help:      "Total number of prescriptions created",
		}),
		PrescriptionsSigned: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "prescription",
			Name:      "signed_total",
			Help:      "Total number of prescriptions signed and issued",
		}),
		SignRejected: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "prescription",
			Name:      "sign_rejected_total",
			Help:      "Total number of signatures rejected against the registered key",
		}),
		Anchors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "prescription",
			Name:      "anchors_total",
			Help:      "Anchoring attempts by result",
		}, []string{"result"}),
		Verifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "verification",
			Name:      "requests_total",
			Help:      "Public verification requests by result",
		}, []string{"result"}),
		Dispenses: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "prescription",
			Name:      "dispenses_total",
			Help:      "Dispense attempts by result",
		}, []string{"result"}),
		TokensIssued: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "verification",
			Name:      "tokens_issued_total",
			Help:      "Total number of verification tokens issued",
		}),

		OutboxEventsProcessed: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "outbox",
			Name:      "events_processed_total",
			Help:      "Total number of successfully processed outbox events",
		}),
		OutboxEventsFailed: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "outbox",
			Name:      "events_failed_total",
			Help:      "Total number of failed outbox events",
		}),
		OutboxProcessingLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "outbox",
			Name:      "processing_duration_seconds",
			Help:      "Time spent processing outbox batches",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		OutboxQueueSize: f.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "outbox",
			Name:      "queue_size",
			Help:      "Number of pending events fetched in the last poll",
		}),
		OutboxRetries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "outbox",
			Name:      "retry_attempts_total",
			Help:      "Total number of retry attempts for outbox events",
		}, []string{"event_type"}),
		BrokerPublishes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "broker",
			Name:      "publishes_total",
			Help:      "Broker publish calls by broker and status",
		}, []string{"broker", "status"}),

		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		HTTPErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "errors_total",
			Help:      "Total number of HTTP responses with status >= 400",
		}, []string{"method", "path", "status"}),
	}
}
