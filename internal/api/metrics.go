package api

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sonymous_api_requests_total",
		Help: "Requests sent to the board API, by method and outcome.",
	}, []string{"method", "outcome"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sonymous_api_request_duration_seconds",
		Help:    "Board API round trip latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})
)

func observe(method, outcome string, start time.Time) {
	requestsTotal.WithLabelValues(method, outcome).Inc()
	requestDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
}
