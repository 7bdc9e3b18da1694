// Package metrics exposes sweep outcomes as Prometheus metrics, served when
// the metrics listener is enabled.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Metric holds the data points from one completed sweep.
type Metric struct {
	Enumerated int // Image:tag pairs whose digests were resolved.
	Skipped    int // Pairs skipped because their digest was unchanged.
	Unresolved int // Pairs excluded because digest resolution failed.
	Scanned    int // Scans executed.
	Failed     int // Scans that failed (report carries the failure text).
	Findings   int // Verified findings across all scans of the sweep.
}

// Metrics handles processing and exposing sweep metrics.
type Metrics struct {
	enumerated  prometheus.Gauge
	skipped     prometheus.Gauge
	scanned     prometheus.Gauge
	failed      prometheus.Gauge
	unresolved  prometheus.Gauge
	findings    prometheus.Gauge
	sweepsTotal prometheus.Counter
}

// NewWithRegistry creates a Metrics handler registered on the given
// Prometheus registerer.
func NewWithRegistry(registry prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		enumerated: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hogwatch_images_enumerated",
			Help: "Number of image:tag pairs with a resolved digest during the last sweep",
		}),
		skipped: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hogwatch_images_skipped",
			Help: "Number of image:tag pairs skipped as unchanged during the last sweep",
		}),
		scanned: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hogwatch_images_scanned",
			Help: "Number of images scanned during the last sweep",
		}),
		failed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hogwatch_scans_failed",
			Help: "Number of scans that failed during the last sweep",
		}),
		unresolved: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hogwatch_digests_unresolved",
			Help: "Number of image:tag pairs whose digest could not be resolved during the last sweep",
		}),
		findings: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hogwatch_findings",
			Help: "Number of verified secret findings across all scans of the last sweep",
		}),
		sweepsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hogwatch_sweeps_total",
			Help: "Number of sweeps since hogwatch started",
		}),
	}

	collectors := []prometheus.Collector{
		m.enumerated,
		m.skipped,
		m.scanned,
		m.failed,
		m.unresolved,
		m.findings,
		m.sweepsTotal,
	}

	for _, collector := range collectors {
		if err := registry.Register(collector); err != nil {
			return nil, fmt.Errorf("failed to register metric: %w", err)
		}
	}

	return m, nil
}

// New creates a Metrics handler registered on the default Prometheus
// registerer.
func New() (*Metrics, error) {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// RegisterSweep records the outcome of one completed sweep.
func (m *Metrics) RegisterSweep(metric Metric) {
	m.enumerated.Set(float64(metric.Enumerated))
	m.skipped.Set(float64(metric.Skipped))
	m.scanned.Set(float64(metric.Scanned))
	m.failed.Set(float64(metric.Failed))
	m.unresolved.Set(float64(metric.Unresolved))
	m.findings.Set(float64(metric.Findings))
	m.sweepsTotal.Inc()
}
