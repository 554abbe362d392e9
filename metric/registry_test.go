package metric

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/k5tuck/binelek-core-sub001/errors"
)

func TestNewMetricsRegistryRegistersCoreMetrics(t *testing.T) {
	registry := NewMetricsRegistry()
	require.NotNil(t, registry.CoreMetrics())

	// Core metrics must be gatherable immediately.
	registry.CoreMetrics().RecordEventReceived("enrichment", "enrichment.requested")
	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	assert.True(t, names["binelek_events_received_total"])
}

func TestRegisterComponentMetric(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "binelek",
		Name:      "test_counter_total",
	})
	require.NoError(t, registry.Register("classify", "test_counter", counter))

	// Same key twice is rejected.
	err := registry.Register("classify", "test_counter", counter)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestUnregisterComponentMetric(t *testing.T) {
	registry := NewMetricsRegistry()

	gauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "binelek",
		Name:      "test_gauge",
	})
	require.NoError(t, registry.Register("pipeline", "test_gauge", gauge))

	assert.True(t, registry.Unregister("pipeline", "test_gauge"))
	assert.False(t, registry.Unregister("pipeline", "test_gauge"))

	// Re-registering after unregister must succeed.
	require.NoError(t, registry.Register("pipeline", "test_gauge", gauge))
}

func TestCoreMetricRecorders(t *testing.T) {
	registry := NewMetricsRegistry()
	m := registry.CoreMetrics()

	m.RecordEventProcessed("pipeline", "pipeline.execution.completed")
	m.RecordEventDropped("enrichment", "invalid_payload")
	m.RecordEventRedelivered("enrichment")
	m.RecordError("EntityStore", "transient")
	m.RecordEntityClassified("high")
	m.RecordEnrichmentApplied("geocoding")
	m.RecordRelationshipsInferred(3)
	m.RecordBrokerStatus(true)
	m.RecordCircuitBreakerState(false)

	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
