// Package metrics exposes Prometheus collectors for directory operations and
// object-store traffic.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"clouddrive/internal/drive"
)

// Metrics holds all Prometheus metrics for the drive.
type Metrics struct {
	// Service metrics
	OperationsTotal   *prometheus.CounterVec   // clouddrive_operations_total{operation,status}
	OperationDuration *prometheus.HistogramVec // clouddrive_operation_duration_seconds{operation}

	// Object store metrics
	ObjectStoreRequests *prometheus.CounterVec // clouddrive_objectstore_requests_total{operation,status}
	ObjectStoreKeys     *prometheus.CounterVec // clouddrive_objectstore_keys_total{operation}
	RenameFailures      prometheus.Counter     // clouddrive_objectstore_rename_failures_total
}

// NewMetrics registers the collectors with registry, or the default
// registerer when registry is nil.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)
	return &Metrics{
		OperationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "clouddrive_operations_total",
			Help: "Directory and upload operations by outcome",
		}, []string{"operation", "status"}),

		OperationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "clouddrive_operation_duration_seconds",
			Help:    "Directory and upload operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),

		ObjectStoreRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "clouddrive_objectstore_requests_total",
			Help: "Object store requests by operation and status",
		}, []string{"operation", "status"}),

		ObjectStoreKeys: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "clouddrive_objectstore_keys_total",
			Help: "Object keys deleted or renamed",
		}, []string{"operation"}),

		RenameFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "clouddrive_objectstore_rename_failures_total",
			Help: "Keys left under their old prefix by a best-effort rename",
		}),
	}
}

// ObserveOperation implements drive.Recorder.
func (m *Metrics) ObserveOperation(operation string, err error, elapsed time.Duration) {
	m.OperationsTotal.WithLabelValues(operation, operationStatus(err)).Inc()
	m.OperationDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// ObserveRequest counts one object-store request.
func (m *Metrics) ObserveRequest(operation string, err error) {
	m.ObjectStoreRequests.WithLabelValues(operation, requestStatus(err)).Inc()
}

// AddKeys counts keys affected by a delete or rename.
func (m *Metrics) AddKeys(operation string, n int) {
	if n > 0 {
		m.ObjectStoreKeys.WithLabelValues(operation).Add(float64(n))
	}
}

// AddRenameFailures counts keys a prefix rename could not move.
func (m *Metrics) AddRenameFailures(n int) {
	if n > 0 {
		m.RenameFailures.Add(float64(n))
	}
}

func operationStatus(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, drive.ErrNameConflict):
		return "conflict"
	case errors.Is(err, drive.ErrInvalidPath), errors.Is(err, drive.ErrLimitExceeded):
		return "invalid"
	case errors.Is(err, drive.ErrNotFound):
		return "not_found"
	case errors.Is(err, drive.ErrStorage):
		return "storage_error"
	case errors.Is(err, drive.ErrDatabase):
		return "database_error"
	default:
		return "error"
	}
}

func requestStatus(err error) string {
	if err == nil {
		return "ok"
	}
	var se *drive.StorageError
	if errors.As(err, &se) {
		return string(se.Kind)
	}
	return "error"
}

var _ drive.Recorder = (*Metrics)(nil)

// WriteTextfile writes every metric gathered by g to path in the text
// exposition format, for node_exporter's textfile collector.
func WriteTextfile(g prometheus.Gatherer, path string) error {
	return prometheus.WriteToTextfile(path, g)
}
