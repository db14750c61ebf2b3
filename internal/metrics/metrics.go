// Package metrics provides Prometheus metrics for the filesystem server.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	toolCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcp_filesystem_tool_calls_total",
			Help: "Total number of tool calls",
		},
		[]string{"tool", "status"},
	)

	toolDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mcp_filesystem_tool_duration_seconds",
			Help:    "Tool call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"tool"},
	)

	accessDeniedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcp_filesystem_access_denied_total",
			Help: "Total paths rejected for falling outside the allowed directories",
		},
		[]string{"tool"},
	)

	bytesReadTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mcp_filesystem_bytes_read_total",
			Help: "Total bytes returned from file reads",
		},
	)

	bytesWrittenTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mcp_filesystem_bytes_written_total",
			Help: "Total bytes written to files",
		},
	)

	workerInflight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mcp_filesystem_worker_inflight",
			Help: "Number of tool invocations currently running on the worker pool",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordToolCall records a finished tool call. status is "success" or the
// error kind.
func RecordToolCall(tool, status string, duration time.Duration) {
	toolCallsTotal.WithLabelValues(tool, status).Inc()
	toolDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// RecordAccessDenied records a sandbox rejection.
func RecordAccessDenied(tool string) {
	accessDeniedTotal.WithLabelValues(tool).Inc()
}

// AddBytesRead records bytes returned to the caller.
func AddBytesRead(n int) {
	bytesReadTotal.Add(float64(n))
}

// AddBytesWritten records bytes written to disk.
func AddBytesWritten(n int) {
	bytesWrittenTotal.Add(float64(n))
}

// WorkerStarted and WorkerFinished track the worker pool's in-flight count.
func WorkerStarted() {
	workerInflight.Inc()
}

func WorkerFinished() {
	workerInflight.Dec()
}
