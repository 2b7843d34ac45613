package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initStorageMetrics() {
	r.OperationsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "txkv_operations_total",
			Help: "Total number of key-value operations",
		},
		[]string{"operation", "status"},
	)

	r.OperationDuration = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "txkv_operation_duration_seconds",
			Help:    "Key-value operation duration in seconds",
			Buckets: []float64{0.00001, 0.0001, 0.001, 0.01, 0.1, 1.0},
		},
		[]string{"operation"},
	)

	r.WALBytesWritten = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "txkv_wal_bytes_written_total",
			Help: "Total bytes of write batches appended to the write-ahead log",
		},
	)

	r.ColumnFamilies = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "txkv_column_families",
			Help: "Number of live column families",
		},
	)

	r.LiveSnapshots = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "txkv_snapshots_live",
			Help: "Number of unreleased snapshots",
		},
	)
}
