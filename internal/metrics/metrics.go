// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is private to this process so tests can read counters without
// touching the default registerer.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

var (
	LoginAttempts = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sopdesk",
		Name:      "login_attempts_total",
		Help:      "Login attempts by result.",
	}, []string{"result"})

	RecordsCreated = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "sopdesk",
		Name:      "records_created_total",
		Help:      "Records inserted.",
	})

	RecordsDeleted = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "sopdesk",
		Name:      "records_deleted_total",
		Help:      "Records removed.",
	})

	DocumentsUploaded = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sopdesk",
		Name:      "documents_uploaded_total",
		Help:      "Documents copied into a category directory.",
	}, []string{"category"})

	SyncOperations = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sopdesk",
		Name:      "sync_operations_total",
		Help:      "Share checkout/checkin operations by result.",
	}, []string{"op", "result"})

	HTTPRequests = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sopdesk",
		Name:      "http_requests_total",
		Help:      "HTTP requests by method and status code.",
	}, []string{"method", "code"})

	HTTPDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "sopdesk",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method"})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Handler serves Registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}
