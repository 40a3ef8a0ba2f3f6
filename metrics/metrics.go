// Package metrics exposes node and collector metrics to Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors shared by the node and the collector.
type Metrics struct {
	registry *prometheus.Registry

	published         *prometheus.CounterVec
	verified          *prometheus.CounterVec
	provisioningPhase *prometheus.GaugeVec
	uptime            prometheus.Gauge
	keyStoreWrites    *prometheus.CounterVec
	restarts          prometheus.Counter
	clockOffset       prometheus.Gauge
}

// NewMetrics creates and registers all collectors under namespace on a
// private registry.
func NewMetrics(namespace string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "published_messages_total",
			Help:      "Publish attempts by result.",
		}, []string{"result"}),
		verified: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verified_messages_total",
			Help:      "Received messages by verification result.",
		}, []string{"result"}),
		provisioningPhase: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "provisioning_phase",
			Help:      "1 for the current provisioning phase, 0 otherwise.",
		}, []string{"phase"}),
		uptime: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "beacon_uptime_seconds",
			Help:      "Uptime advertised by the status beacon.",
		}),
		keyStoreWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "keystore_writes_total",
			Help:      "One-time key store writes by result.",
		}, []string{"result"}),
		restarts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_group_restarts_total",
			Help:      "Restarts of the node task group.",
		}),
		clockOffset: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "clock_offset_seconds",
			Help:      "Clock correction from the last NTP sync.",
		}),
	}

	m.registry.MustRegister(
		m.published,
		m.verified,
		m.provisioningPhase,
		m.uptime,
		m.keyStoreWrites,
		m.restarts,
		m.clockOffset,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func result(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

// ObservePublish counts one publish attempt.
func (m *Metrics) ObservePublish(err error) {
	m.published.WithLabelValues(result(err)).Inc()
}

// ObserveVerify counts one received message under its verification class.
func (m *Metrics) ObserveVerify(class string) {
	m.verified.WithLabelValues(class).Inc()
}

// SetProvisioningPhase marks phase as current among phases.
func (m *Metrics) SetProvisioningPhase(phase string, phases []string) {
	for _, p := range phases {
		if p == phase {
			m.provisioningPhase.WithLabelValues(p).Set(1)
		} else {
			m.provisioningPhase.WithLabelValues(p).Set(0)
		}
	}
}

// SetUptime records the advertised uptime.
func (m *Metrics) SetUptime(seconds uint64) {
	m.uptime.Set(float64(seconds))
}

// ObserveKeyStoreWrite counts one key store write.
func (m *Metrics) ObserveKeyStoreWrite(err error) {
	m.keyStoreWrites.WithLabelValues(result(err)).Inc()
}

// ObserveRestart counts one task group restart.
func (m *Metrics) ObserveRestart() {
	m.restarts.Inc()
}

// SetClockOffset records the NTP clock correction.
func (m *Metrics) SetClockOffset(offset time.Duration) {
	m.clockOffset.Set(offset.Seconds())
}

// MetricsServer serves a Metrics registry over HTTP.
type MetricsServer struct {
	*Metrics
	srv *http.Server
}

// New creates the collectors for namespace and a server exposing them on
// addr at /metrics.
func New(namespace, addr string) (*MetricsServer, error) {
	if namespace == "" {
		return nil, errors.New("metrics namespace is required")
	}
	m := NewMetrics(namespace)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	return &MetricsServer{
		Metrics: m,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}, nil
}

// Handler returns the /metrics handler.
func (s *MetricsServer) Handler() http.Handler {
	return s.srv.Handler
}

// ListenAndServe blocks serving metrics.
func (s *MetricsServer) ListenAndServe() error {
	return s.srv.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *MetricsServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
