package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds all metrics for the application
type Registry struct {
	// Transaction Metrics
	TransactionsBegun    prometheus.Counter
	TransactionsFinished *prometheus.CounterVec
	TransactionDuration  prometheus.Histogram
	TransactionsActive   prometheus.Gauge

	// Lock Metrics
	LockWaitDuration prometheus.Histogram
	LockFailures     *prometheus.CounterVec

	// Storage Metrics
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	WALBytesWritten   prometheus.Counter
	ColumnFamilies    prometheus.Gauge
	LiveSnapshots     prometheus.Gauge

	// System Metrics
	UptimeSeconds     prometheus.Gauge
	GoRoutines        prometheus.Gauge
	MemoryAllocBytes  prometheus.Gauge
	LocksHeld         prometheus.Gauge
	MergeCacheEntries prometheus.Gauge

	registry  *prometheus.Registry
	startTime time.Time
	mu        sync.RWMutex
}

var (
	// Global registry instance
	defaultRegistry *Registry
	once            sync.Once
)

// DefaultRegistry returns the global metrics registry
func DefaultRegistry() *Registry {
	once.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// NewRegistry creates a new metrics registry with all metrics initialized
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		registry:  reg,
		startTime: time.Now(),
	}

	r.initTransactionMetrics()
	r.initLockMetrics()
	r.initStorageMetrics()
	r.initSystemMetrics()

	return r
}

// GetPrometheusRegistry returns the underlying Prometheus registry
func (r *Registry) GetPrometheusRegistry() *prometheus.Registry {
	return r.registry
}
