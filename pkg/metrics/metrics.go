package metrics

import (
	"runtime"
	"time"
)

// Outcome labels for TransactionsFinished
const (
	OutcomeCommitted  = "committed"
	OutcomeRolledBack = "rolled_back"
	OutcomeConflict   = "conflict"
	OutcomeFailed     = "failed"
)

// RecordTransactionBegin records a newly opened transaction
func (r *Registry) RecordTransactionBegin() {
	r.TransactionsBegun.Inc()
	r.TransactionsActive.Inc()
}

// RecordTransactionEnd records a transaction reaching a terminal state
func (r *Registry) RecordTransactionEnd(outcome string, duration time.Duration) {
	r.TransactionsActive.Dec()
	r.TransactionsFinished.WithLabelValues(outcome).Inc()
	r.TransactionDuration.Observe(duration.Seconds())
}

// RecordLockWait records time spent blocked on a row lock
func (r *Registry) RecordLockWait(duration time.Duration) {
	r.LockWaitDuration.Observe(duration.Seconds())
}

// RecordLockFailure records a failed lock acquisition
func (r *Registry) RecordLockFailure(reason string) {
	r.LockFailures.WithLabelValues(reason).Inc()
}

// RecordOperation records a key-value operation
func (r *Registry) RecordOperation(operation, status string, duration time.Duration) {
	r.OperationsTotal.WithLabelValues(operation, status).Inc()
	r.OperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordWALWrite records bytes appended to the write-ahead log
func (r *Registry) RecordWALWrite(bytes int) {
	r.WALBytesWritten.Add(float64(bytes))
}

// StorageStats is a point-in-time reading of engine state
type StorageStats struct {
	ColumnFamilies    int
	LiveSnapshots     int
	LocksHeld         int
	MergeCacheEntries int
}

// UpdateStorageMetrics sets the engine state gauges
func (r *Registry) UpdateStorageMetrics(s StorageStats) {
	r.ColumnFamilies.Set(float64(s.ColumnFamilies))
	r.LiveSnapshots.Set(float64(s.LiveSnapshots))
	r.LocksHeld.Set(float64(s.LocksHeld))
	r.MergeCacheEntries.Set(float64(s.MergeCacheEntries))
}

// UpdateSystemMetrics refreshes uptime, goroutine and memory gauges
func (r *Registry) UpdateSystemMetrics() {
	r.mu.RLock()
	start := r.startTime
	r.mu.RUnlock()

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	r.UptimeSeconds.Set(time.Since(start).Seconds())
	r.GoRoutines.Set(float64(runtime.NumGoroutine()))
	r.MemoryAllocBytes.Set(float64(mem.Alloc))
}
