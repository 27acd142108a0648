// Package metrics exposes gateway Prometheus metrics.
//
// Each Metrics value owns its registry, so tests and multiple gateways in one
// process never collide on registration.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "graylogic_gateway"

// Metrics holds every collector the gateway updates.
//
// Thread Safety: All methods are safe for concurrent use.
type Metrics struct {
	registry *prometheus.Registry

	commissioningAttempts *prometheus.CounterVec
	commissioningDuration *prometheus.HistogramVec
	discoveryRuns         *prometheus.CounterVec
	discoveryDuration     prometheus.Histogram
	discoveredEndpoints   prometheus.Histogram
	subsystemReady        *prometheus.GaugeVec
	devicesAnnounced      *prometheus.CounterVec
	daemonRestarts        *prometheus.CounterVec
}

// New creates and registers the gateway collectors, plus the Go runtime and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		commissioningAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commissioning_attempts_total",
			Help:      "Commissioning and pairing attempts by kind and final status.",
		}, []string{"kind", "status"}),
		commissioningDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "commissioning_duration_seconds",
			Help:      "Wall time of commissioning and pairing attempts.",
			Buckets:   []float64{1, 2, 5, 10, 20, 30, 60, 120, 300},
		}, []string{"kind"}),
		discoveryRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discovery_runs_total",
			Help:      "Device discovery runs by result.",
		}, []string{"result"}),
		discoveryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "discovery_duration_seconds",
			Help:      "Time from session start to full endpoint discovery.",
			Buckets:   prometheus.DefBuckets,
		}),
		discoveredEndpoints: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "discovered_endpoints",
			Help:      "Endpoints found per successful discovery.",
			Buckets:   []float64{1, 2, 3, 4, 6, 8, 12, 16, 32},
		}),
		subsystemReady: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subsystem_ready",
			Help:      "1 when the subsystem is ready, 0 otherwise.",
		}, []string{"subsystem"}),
		devicesAnnounced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "devices_announced_total",
			Help:      "Devices announced after onboarding, by driver.",
		}, []string{"driver"}),
		daemonRestarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "daemon_restarts_total",
			Help:      "Restarts of supervised helper daemons.",
		}, []string{"daemon"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.commissioningAttempts,
		m.commissioningDuration,
		m.discoveryRuns,
		m.discoveryDuration,
		m.discoveredEndpoints,
		m.subsystemReady,
		m.devicesAnnounced,
		m.daemonRestarts,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveCommissioning records one finished commissioning or pairing attempt.
func (m *Metrics) ObserveCommissioning(kind, status string, _ bool, d time.Duration) {
	m.commissioningAttempts.WithLabelValues(kind, status).Inc()
	m.commissioningDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// ObserveDiscovery records one finished discovery run.
func (m *Metrics) ObserveDiscovery(success bool, endpoints int, d time.Duration) {
	result := "failure"
	if success {
		result = "success"
		m.discoveredEndpoints.Observe(float64(endpoints))
		m.discoveryDuration.Observe(d.Seconds())
	}
	m.discoveryRuns.WithLabelValues(result).Inc()
}

// SetSubsystemReady updates the readiness gauge.
func (m *Metrics) SetSubsystemReady(name string, ready bool) {
	m.subsystemReady.WithLabelValues(name).Set(boolGauge(ready))
}

// IncDevicesAnnounced counts an onboarded device.
func (m *Metrics) IncDevicesAnnounced(driver string) {
	m.devicesAnnounced.WithLabelValues(driver).Inc()
}

// IncDaemonRestarts counts a supervised daemon restart.
func (m *Metrics) IncDaemonRestarts(daemon string) {
	m.daemonRestarts.WithLabelValues(daemon).Inc()
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
