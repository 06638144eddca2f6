package metrics

import (
	"time"

	"github.com/marmos91/dittovault/pkg/store/blob"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// blobMetrics is the Prometheus implementation of blob.Metrics.
type blobMetrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	bytesTransferred  *prometheus.CounterVec
}

// NewBlobMetrics creates Prometheus-backed blob backend metrics.
//
// Returns nil if metrics are not enabled, which makes backends fall back to
// their built-in no-op (see blob.MetricsOrNoop).
func NewBlobMetrics() blob.Metrics {
	if !IsEnabled() {
		return nil
	}
	return newBlobMetrics(GetRegistry())
}

func newBlobMetrics(reg prometheus.Registerer) *blobMetrics {
	return &blobMetrics{
		operationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "blob_operations_total",
				Help:      "Total number of blob backend operations by backend, operation and status",
			},
			[]string{"backend", "operation", "status"},
		),
		operationDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "blob_operation_duration_seconds",
				Help:      "Duration of blob backend operations in seconds",
				Buckets: []float64{
					0.01,  // 10ms
					0.025, // 25ms
					0.05,  // 50ms
					0.1,   // 100ms
					0.25,  // 250ms
					0.5,   // 500ms
					1.0,   // 1s
					2.5,   // 2.5s
					5.0,   // 5s
					10.0,  // 10s
				},
			},
			[]string{"backend", "operation"},
		),
		bytesTransferred: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "blob_bytes_transferred_total",
				Help:      "Total bytes transferred by blob backends",
			},
			[]string{"backend", "direction"},
		),
	}
}

func (m *blobMetrics) ObserveOperation(backend, operation string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.operationsTotal.WithLabelValues(backend, operation, status).Inc()
	m.operationDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
}

func (m *blobMetrics) RecordBytes(backend, operation string, bytes int) {
	m.bytesTransferred.WithLabelValues(backend, operation).Add(float64(bytes))
}
