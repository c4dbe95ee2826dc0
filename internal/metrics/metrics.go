package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequestDuration is labelled by route pattern, not raw path, to keep
	// todo ids out of the label set.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"method", "path", "status"},
	)

	StoreOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "store_operation_duration_seconds",
			Help:    "Record store operation duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"operation", "backend"},
	)

	JWKSFetchCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jwks_fetch_count",
			Help: "Total number of signing key set fetches",
		},
		[]string{"status"}, // status: success, failed
	)
)

func RecordStoreOperation(operation, backend string, start time.Time) {
	StoreOperationDuration.WithLabelValues(operation, backend).Observe(time.Since(start).Seconds())
}

func RecordJWKSFetch(err error) {
	status := "success"
	if err != nil {
		status = "failed"
	}
	JWKSFetchCount.WithLabelValues(status).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Instrument wraps next and observes its latency under the given route label.
func Instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		HTTPRequestDuration.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).
			Observe(time.Since(start).Seconds())
	}
}
