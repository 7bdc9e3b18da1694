package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hogwatch/hogwatch/pkg/metrics"
)

// gatherValues flattens a registry into metric name -> value.
func gatherValues(t *testing.T, registry *prometheus.Registry) map[string]float64 {
	t.Helper()

	families, err := registry.Gather()
	require.NoError(t, err)

	values := make(map[string]float64)

	for _, family := range families {
		for _, metric := range family.GetMetric() {
			switch {
			case metric.GetGauge() != nil:
				values[family.GetName()] = metric.GetGauge().GetValue()
			case metric.GetCounter() != nil:
				values[family.GetName()] = metric.GetCounter().GetValue()
			}
		}
	}

	return values
}

func TestRegisterSweep(t *testing.T) {
	registry := prometheus.NewRegistry()

	m, err := metrics.NewWithRegistry(registry)
	require.NoError(t, err)

	m.RegisterSweep(metrics.Metric{
		Enumerated: 10,
		Skipped:    7,
		Unresolved: 1,
		Scanned:    2,
		Failed:     1,
		Findings:   5,
	})

	values := gatherValues(t, registry)
	assert.Equal(t, 10.0, values["hogwatch_images_enumerated"])
	assert.Equal(t, 7.0, values["hogwatch_images_skipped"])
	assert.Equal(t, 1.0, values["hogwatch_digests_unresolved"])
	assert.Equal(t, 2.0, values["hogwatch_images_scanned"])
	assert.Equal(t, 1.0, values["hogwatch_scans_failed"])
	assert.Equal(t, 5.0, values["hogwatch_findings"])
	assert.Equal(t, 1.0, values["hogwatch_sweeps_total"])

	// Gauges reflect the latest sweep; the sweep counter accumulates.
	m.RegisterSweep(metrics.Metric{})

	values = gatherValues(t, registry)
	assert.Equal(t, 0.0, values["hogwatch_images_enumerated"])
	assert.Equal(t, 2.0, values["hogwatch_sweeps_total"])
}

func TestDuplicateRegistrationFails(t *testing.T) {
	registry := prometheus.NewRegistry()

	_, err := metrics.NewWithRegistry(registry)
	require.NoError(t, err)

	_, err = metrics.NewWithRegistry(registry)
	assert.Error(t, err)
}
