package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains the platform-level metrics shared by every consumer and
// store. Domain components register their own metrics through the registry.
type Metrics struct {
	// Consumer metrics
	EventsReceived     *prometheus.CounterVec
	EventsProcessed    *prometheus.CounterVec
	EventsDropped      *prometheus.CounterVec
	EventsRedelivered  *prometheus.CounterVec
	ProcessingDuration *prometheus.HistogramVec
	ErrorsTotal        *prometheus.CounterVec

	// Domain metrics
	EntitiesClassified    *prometheus.CounterVec
	EnrichmentsApplied    *prometheus.CounterVec
	RelationshipsInferred prometheus.Counter

	// Broker metrics
	BrokerConnected      prometheus.Gauge
	BrokerReconnects     prometheus.Counter
	BrokerCircuitBreaker prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all platform metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		EventsReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "binelek",
				Subsystem: "events",
				Name:      "received_total",
				Help:      "Total number of events received",
			},
			[]string{"consumer", "subject"},
		),

		EventsProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "binelek",
				Subsystem: "events",
				Name:      "processed_total",
				Help:      "Total number of events processed successfully",
			},
			[]string{"consumer", "subject"},
		),

		EventsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "binelek",
				Subsystem: "events",
				Name:      "dropped_total",
				Help:      "Total number of events acknowledged without processing",
			},
			[]string{"consumer", "reason"},
		),

		EventsRedelivered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "binelek",
				Subsystem: "events",
				Name:      "redelivered_total",
				Help:      "Total number of events returned to the stream for redelivery",
			},
			[]string{"consumer"},
		),

		ProcessingDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "binelek",
				Subsystem: "processing",
				Name:      "duration_seconds",
				Help:      "Event processing duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"consumer", "operation"},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "binelek",
				Subsystem: "errors",
				Name:      "total",
				Help:      "Total number of errors",
			},
			[]string{"component", "class"},
		),

		EntitiesClassified: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "binelek",
				Subsystem: "classification",
				Name:      "entities_total",
				Help:      "Total number of entities classified",
			},
			[]string{"risk_level"},
		),

		EnrichmentsApplied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "binelek",
				Subsystem: "enrichment",
				Name:      "applied_total",
				Help:      "Total number of enrichment results written to the graph",
			},
			[]string{"enrichment_type"},
		),

		RelationshipsInferred: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "binelek",
				Subsystem: "inference",
				Name:      "relationships_total",
				Help:      "Total number of relationships created by inference",
			},
		),

		BrokerConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "binelek",
				Subsystem: "broker",
				Name:      "connected",
				Help:      "Broker connection status (0=disconnected, 1=connected)",
			},
		),

		BrokerReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "binelek",
				Subsystem: "broker",
				Name:      "reconnects_total",
				Help:      "Total number of broker reconnections",
			},
		),

		BrokerCircuitBreaker: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "binelek",
				Subsystem: "broker",
				Name:      "circuit_breaker",
				Help:      "Broker circuit breaker status (0=closed, 1=open)",
			},
		),
	}
}

// RecordEventReceived increments the received event counter.
func (c *Metrics) RecordEventReceived(consumer, subject string) {
	c.EventsReceived.WithLabelValues(consumer, subject).Inc()
}

// RecordEventProcessed increments the processed event counter.
func (c *Metrics) RecordEventProcessed(consumer, subject string) {
	c.EventsProcessed.WithLabelValues(consumer, subject).Inc()
}

// RecordEventDropped increments the dropped event counter.
func (c *Metrics) RecordEventDropped(consumer, reason string) {
	c.EventsDropped.WithLabelValues(consumer, reason).Inc()
}

// RecordEventRedelivered increments the redelivery counter.
func (c *Metrics) RecordEventRedelivered(consumer string) {
	c.EventsRedelivered.WithLabelValues(consumer).Inc()
}

// RecordProcessingDuration records processing time for one operation.
func (c *Metrics) RecordProcessingDuration(consumer, operation string, duration time.Duration) {
	c.ProcessingDuration.WithLabelValues(consumer, operation).Observe(duration.Seconds())
}

// RecordError increments the error counter.
func (c *Metrics) RecordError(component, class string) {
	c.ErrorsTotal.WithLabelValues(component, class).Inc()
}

// RecordEntityClassified increments the classification counter.
func (c *Metrics) RecordEntityClassified(riskLevel string) {
	c.EntitiesClassified.WithLabelValues(riskLevel).Inc()
}

// RecordEnrichmentApplied increments the enrichment counter.
func (c *Metrics) RecordEnrichmentApplied(enrichmentType string) {
	c.EnrichmentsApplied.WithLabelValues(enrichmentType).Inc()
}

// RecordRelationshipsInferred adds to the inference counter.
func (c *Metrics) RecordRelationshipsInferred(count int) {
	if count > 0 {
		c.RelationshipsInferred.Add(float64(count))
	}
}

// RecordBrokerStatus updates the broker connection gauge.
func (c *Metrics) RecordBrokerStatus(connected bool) {
	value := 0.0
	if connected {
		value = 1.0
	}
	c.BrokerConnected.Set(value)
}

// RecordBrokerReconnect increments the reconnection counter.
func (c *Metrics) RecordBrokerReconnect() {
	c.BrokerReconnects.Inc()
}

// RecordCircuitBreakerState updates the circuit breaker gauge.
func (c *Metrics) RecordCircuitBreakerState(open bool) {
	value := 0.0
	if open {
		value = 1.0
	}
	c.BrokerCircuitBreaker.Set(value)
}
