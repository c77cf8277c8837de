// Package metrics provides Prometheus metrics for the CHFS server.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chfs_requests_total",
			Help: "Total number of handled messages",
		},
		[]string{"type", "code"},
	)

	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chfs_request_duration_seconds",
			Help:    "Message handling duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"type"},
	)

	bytesRead = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chfs_bytes_read_total",
			Help: "Total bytes returned by read requests",
		},
	)

	bytesWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chfs_bytes_written_total",
			Help: "Total bytes accepted by write requests",
		},
	)

	openHandles = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chfs_open_handles",
			Help: "Number of open pins held by clients",
		},
	)

	chunkOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chfs_chunk_operations_total",
			Help: "Total chunk store operations",
		},
		[]string{"backend", "operation", "status"},
	)

	chunkOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chfs_chunk_operation_duration_seconds",
			Help:    "Chunk store operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)
)

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

func RecordRequest(msgType, code string, duration time.Duration) {
	requestsTotal.WithLabelValues(msgType, code).Inc()
	requestDuration.WithLabelValues(msgType).Observe(duration.Seconds())
}

func RecordRead(n int) {
	bytesRead.Add(float64(n))
}

func RecordWrite(n int) {
	bytesWritten.Add(float64(n))
}

func HandleOpened() {
	openHandles.Inc()
}

func HandleReleased() {
	openHandles.Dec()
}

func RecordChunkOperation(backend, operation string, duration time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	chunkOperations.WithLabelValues(backend, operation, status).Inc()
	chunkOperationDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
}
