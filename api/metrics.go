/*
metrics.go - Prometheus instrumentation

Counters for the merge path plus a request duration histogram, exposed
at /metrics.
*/
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	batchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "worktracker_batches_total",
		Help: "Accepted bulk upsert batches.",
	})
	recordsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "worktracker_records_total",
		Help: "Day records merged across all batches.",
	})
	conflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "worktracker_conflicts_total",
		Help: "Batches rejected after losing a uniqueness race.",
	})
	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "worktracker_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "status"})
)

// metricsMiddleware records per-request latency labelled by method and
// status class.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		requestDuration.WithLabelValues(r.Method, strconv.Itoa(rec.status)).
			Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
