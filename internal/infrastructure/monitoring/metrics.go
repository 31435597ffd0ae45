package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records
// nothing, so components can run without a registry.
type Metrics struct {
	registry *prometheus.Registry

	// oneM2M request metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Telemetry metrics
	DataPointsSent *prometheus.CounterVec
	SendFailures   *prometheus.CounterVec

	// Fleet metrics
	FleetChildren *prometheus.GaugeVec

	// Endpoint metrics
	APIRequests *prometheus.CounterVec
	APIDuration *prometheus.HistogramVec

	startTime time.Time

	// Snapshot for JSON API - track current values
	snapshot Snapshot
	mu       sync.RWMutex
}

// Snapshot holds current metric values for the JSON status endpoint
type Snapshot struct {
	Requests       int64   `json:"requests"`
	RequestErrors  int64   `json:"request_errors"`
	DataPointsSent int64   `json:"datapoints_sent"`
	SendFailures   int64   `json:"send_failures"`
	TotalDuration  float64 `json:"-"`
	AvgLatencyMs   float64 `json:"avg_latency_ms"`
	UptimeSeconds  float64 `json:"uptime_seconds"`
}

// NewMetrics creates a metrics collector on its own registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tinyiot_requests_total",
				Help: "Total number of oneM2M requests by transport, operation and outcome",
			},
			[]string{"transport", "op", "outcome"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tinyiot_request_duration_seconds",
				Help:    "oneM2M request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"transport", "op"},
		),
		DataPointsSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tinyiot_datapoints_sent_total",
				Help: "Data points accepted by the CSE",
			},
			[]string{"sensor"},
		),
		SendFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tinyiot_send_failures_total",
				Help: "Failed data point sends",
			},
			[]string{"sensor"},
		),
		FleetChildren: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tinyiot_fleet_children",
				Help: "Supervised simulator processes by state",
			},
			[]string{"state"},
		),
		APIRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tinyiot_api_requests_total",
				Help: "Requests served by the status endpoint",
			},
			[]string{"method", "path", "status"},
		),
		APIDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tinyiot_api_request_duration_seconds",
				Help:    "Status endpoint request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}

	uptime := prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "tinyiot_uptime_seconds",
			Help: "Process uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.DataPointsSent,
		m.SendFailures,
		m.FleetChildren,
		m.APIRequests,
		m.APIDuration,
		uptime,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry returns the registry backing these metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordRequest records one oneM2M request. outcome is an onem2m.Kind value.
func (m *Metrics) RecordRequest(transport, op, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(transport, op, outcome).Inc()
	m.RequestDuration.WithLabelValues(transport, op).Observe(duration.Seconds())

	m.mu.Lock()
	m.snapshot.Requests++
	m.snapshot.TotalDuration += duration.Seconds()
	if outcome != "ok" {
		m.snapshot.RequestErrors++
	}
	m.mu.Unlock()
}

// RecordSend records the outcome of one telemetry send.
func (m *Metrics) RecordSend(sensor string, ok bool) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if ok {
		m.DataPointsSent.WithLabelValues(sensor).Inc()
		m.snapshot.DataPointsSent++
		return
	}
	m.SendFailures.WithLabelValues(sensor).Inc()
	m.snapshot.SendFailures++
}

// SetFleetChildren sets the number of children in a state.
func (m *Metrics) SetFleetChildren(state string, count int) {
	if m == nil {
		return
	}
	m.FleetChildren.WithLabelValues(state).Set(float64(count))
}

// RecordAPIRequest records a request served by the status endpoint.
func (m *Metrics) RecordAPIRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.APIRequests.WithLabelValues(method, path, status).Inc()
	m.APIDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// Snapshot returns the current counter values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	m.mu.RLock()
	s := m.snapshot
	m.mu.RUnlock()

	if s.Requests > 0 {
		s.AvgLatencyMs = s.TotalDuration / float64(s.Requests) * 1000
	}
	s.UptimeSeconds = time.Since(m.startTime).Seconds()
	return s
}
