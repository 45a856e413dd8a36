// Package metrics exposes Prometheus instrumentation for test runs.
package metrics

import (
	"time"

	"bytemomo/armada/internal/domain"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds the run and device execution metrics.
type Collector struct {
	executions *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	inFlight   prometheus.Gauge
	runs       *prometheus.CounterVec
}

// NewCollector creates the metrics and registers them with reg. A nil reg
// leaves them unregistered.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		executions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "armada_device_executions_total",
				Help: "Total number of device executions by final status.",
			},
			[]string{"status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "armada_device_execution_duration_seconds",
				Help:    "Device execution duration in seconds.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 1800},
			},
			[]string{"status"},
		),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "armada_devices_in_flight",
			Help: "Number of device executions currently running.",
		}),
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "armada_runs_total",
				Help: "Total number of runs by result.",
			},
			[]string{"result"},
		),
	}
	if reg != nil {
		reg.MustRegister(c.executions, c.duration, c.inFlight, c.runs)
	}
	return c
}

// DeviceStarted marks one device execution as running.
func (c *Collector) DeviceStarted() {
	if c == nil {
		return
	}
	c.inFlight.Inc()
}

// DeviceStopped marks one device execution as no longer running.
func (c *Collector) DeviceStopped() {
	if c == nil {
		return
	}
	c.inFlight.Dec()
}

// DeviceFinished records the verdict of one device.
func (c *Collector) DeviceFinished(status domain.Status, d time.Duration) {
	if c == nil {
		return
	}
	c.executions.WithLabelValues(string(status)).Inc()
	c.duration.WithLabelValues(string(status)).Observe(d.Seconds())
}

// RunFinished records a sealed outcome.
func (c *Collector) RunFinished(outcome *domain.AggregateOutcome) {
	if c == nil || outcome == nil {
		return
	}
	result := "passed"
	switch {
	case outcome.Empty():
		result = "empty"
	case !outcome.AllPassed():
		result = "failed"
	}
	c.runs.WithLabelValues(result).Inc()
}
