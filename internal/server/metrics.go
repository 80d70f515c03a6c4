package server

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	durations *prometheus.HistogramVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "padloc",
			Subsystem: "server",
			Name:      "requests_total",
			Help:      "Handled requests by method.",
		}, []string{"method"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "padloc",
			Subsystem: "server",
			Name:      "errors_total",
			Help:      "Failed requests by error code.",
		}, []string{"code"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "padloc",
			Subsystem: "server",
			Name:      "request_duration_seconds",
			Help:      "Request handling time by method.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.errors, m.durations)
	}
	return m
}
