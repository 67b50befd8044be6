package server

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts and times every operation the server performs.
type Metrics struct {
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
}

// NewMetrics registers the server's collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sufdex",
			Name:      "operations_total",
			Help:      "Index and node store operations by outcome.",
		}, []string{"op", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sufdex",
			Name:      "operation_duration_seconds",
			Help:      "Time spent serving an operation.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
	}
	reg.MustRegister(m.operations, m.latency)
	return m
}

// observe records one finished operation.
func (m *Metrics) observe(op string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.operations.WithLabelValues(op, status).Inc()
	m.latency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
