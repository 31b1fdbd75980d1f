package dataform

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome label values for remote requests.
const (
	outcomeOK          = "ok"
	outcomeUnavailable = "unavailable"
	outcomeRejected    = "rejected"
	outcomeNotFound    = "not_found"
	outcomeOther       = "error"
)

var (
	remoteRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dfrun_remote_requests_total",
			Help: "Total number of requests sent to the Dataform API.",
		},
		[]string{"method", "outcome"},
	)

	remoteRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dfrun_remote_request_duration_seconds",
			Help:    "Dataform API request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(remoteRequestsTotal)
	prometheus.MustRegister(remoteRequestDuration)
}

func observeRequest(method string, err error, elapsed time.Duration) {
	remoteRequestsTotal.WithLabelValues(method, outcome(err)).Inc()
	remoteRequestDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

func outcome(err error) string {
	switch {
	case err == nil:
		return outcomeOK
	case errors.Is(err, ErrNotFound):
		return outcomeNotFound
	case errors.Is(err, ErrRemoteUnavailable):
		return outcomeUnavailable
	case errors.Is(err, ErrRemoteRejected):
		return outcomeRejected
	default:
		return outcomeOther
	}
}
