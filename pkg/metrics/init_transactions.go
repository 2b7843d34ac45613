package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initTransactionMetrics() {
	r.TransactionsBegun = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "txkv_transactions_begun_total",
			Help: "Total number of transactions begun",
		},
	)

	r.TransactionsFinished = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "txkv_transactions_finished_total",
			Help: "Total number of transactions that reached a terminal state",
		},
		[]string{"outcome"}, // committed, rolled_back, conflict, failed
	)

	r.TransactionDuration = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "txkv_transaction_duration_seconds",
			Help:    "Time from begin to commit or rollback in seconds",
			Buckets: []float64{0.0001, 0.001, 0.01, 0.1, 0.5, 1.0, 5.0},
		},
	)

	r.TransactionsActive = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "txkv_transactions_active",
			Help: "Number of transactions currently open",
		},
	)
}

func (r *Registry) initLockMetrics() {
	r.LockWaitDuration = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "txkv_lock_wait_duration_seconds",
			Help:    "Time spent waiting for row locks in seconds",
			Buckets: []float64{0.0001, 0.001, 0.01, 0.1, 0.5, 1.0, 5.0},
		},
	)

	r.LockFailures = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "txkv_lock_failures_total",
			Help: "Total number of failed row lock acquisitions",
		},
		[]string{"reason"}, // conflict, timeout, deadlock, limit
	)
}
