package metrics

import (
	"time"

	"github.com/marmos91/dittovault/pkg/apierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// StoreMetrics provides observability for the stateful components: the
// identity directory, the asset store, the chunk shards and the shard host.
//
// Example usage:
//
//	m := metrics.NewStoreMetrics()
//	start := time.Now()
//	err := doUpsert()
//	m.ObserveOperation("assets", "Upsert", time.Since(start), err)
type StoreMetrics interface {
	// ObserveOperation records a completed public operation.
	//
	// Parameters:
	//   - component: "directory", "assets", "chunks" or "host"
	//   - operation: Operation name (e.g. "Register", "Upsert", "Put")
	//   - duration: Time taken
	//   - err: Error if the operation failed, nil on success
	ObserveOperation(component, operation string, duration time.Duration, err error)

	// RecordEvent counts a notable event such as "cleanup_failed" or
	// "provisioning_failed".
	RecordEvent(component, event string)

	// SetObjects reports the current number of objects of a kind
	// (e.g. "assets", "owners", "chunks", "shards").
	SetObjects(component, kind string, count int)
}

// NewStoreMetrics returns Prometheus-backed StoreMetrics, or a no-op
// implementation when metrics are disabled.
func NewStoreMetrics() StoreMetrics {
	if !IsEnabled() {
		return NewNoopStoreMetrics()
	}
	return newStoreMetrics(GetRegistry())
}

// NewNoopStoreMetrics returns a StoreMetrics that discards everything.
func NewNoopStoreMetrics() StoreMetrics {
	return noopStoreMetrics{}
}

type noopStoreMetrics struct{}

func (noopStoreMetrics) ObserveOperation(string, string, time.Duration, error) {}
func (noopStoreMetrics) RecordEvent(string, string)                            {}
func (noopStoreMetrics) SetObjects(string, string, int)                        {}

// storeMetrics is the Prometheus implementation of StoreMetrics.
type storeMetrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	eventsTotal       *prometheus.CounterVec
	objects           *prometheus.GaugeVec
}

func newStoreMetrics(reg prometheus.Registerer) *storeMetrics {
	return &storeMetrics{
		operationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "Total number of component operations by outcome",
			},
			[]string{"component", "operation", "status"},
		),
		operationDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Duration of component operations in seconds",
				Buckets: []float64{
					0.0001, // 100µs
					0.0005, // 500µs
					0.001,  // 1ms
					0.005,  // 5ms
					0.01,   // 10ms
					0.05,   // 50ms
					0.1,    // 100ms
					0.5,    // 500ms
					1.0,    // 1s
					5.0,    // 5s
				},
			},
			[]string{"component", "operation"},
		),
		eventsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_total",
				Help:      "Notable component events",
			},
			[]string{"component", "event"},
		),
		objects: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "objects",
				Help:      "Current number of objects held by a component",
			},
			[]string{"component", "kind"},
		),
	}
}

func (m *storeMetrics) ObserveOperation(component, operation string, duration time.Duration, err error) {
	m.operationsTotal.WithLabelValues(component, operation, statusLabel(err)).Inc()
	m.operationDuration.WithLabelValues(component, operation).Observe(duration.Seconds())
}

func (m *storeMetrics) RecordEvent(component, event string) {
	m.eventsTotal.WithLabelValues(component, event).Inc()
}

func (m *storeMetrics) SetObjects(component, kind string, count int) {
	m.objects.WithLabelValues(component, kind).Set(float64(count))
}

// statusLabel maps an operation outcome to a low-cardinality label.
func statusLabel(err error) string {
	if err == nil {
		return "ok"
	}
	if code, ok := apierror.CodeOf(err); ok {
		return code.String()
	}
	return "error"
}
