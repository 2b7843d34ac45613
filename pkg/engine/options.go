package engine

import (
	"github.com/dd0wney/cluso-txkv/pkg/logging"
	"github.com/dd0wney/cluso-txkv/pkg/metrics"
)

// ConcurrencyMode selects how transactions protect the keys they touch
type ConcurrencyMode int

const (
	// Pessimistic transactions take row locks on write and get-for-update
	Pessimistic ConcurrencyMode = iota
	// Optimistic transactions take no locks and validate every tracked key at commit
	Optimistic
)

func (m ConcurrencyMode) String() string {
	switch m {
	case Pessimistic:
		return "pessimistic"
	case Optimistic:
		return "optimistic"
	default:
		return "unknown"
	}
}

// DefaultLockTimeoutMs is the lock wait used when no other value is configured
const DefaultLockTimeoutMs int64 = 1000

// Options configures an Engine
type Options struct {
	CreateIfMissing bool
	ErrorIfExists   bool

	// MergeOperator folds merge operands. Merge writes fail without one.
	MergeOperator MergeOperator

	ConcurrencyMode ConcurrencyMode

	// TransactionLockTimeout is the lock wait in milliseconds for transactions
	// begun without explicit options. 0 fails immediately, negative waits forever.
	TransactionLockTimeout int64

	// DefaultLockTimeout is the lock wait in milliseconds for writes made
	// outside a transaction.
	DefaultLockTimeout int64

	// MaxNumLocks caps the number of locked rows. -1 means unlimited.
	MaxNumLocks int

	// MaxActiveTransactions caps concurrently open transactions. 0 means unlimited.
	MaxActiveTransactions int

	// MergeCacheSize is the number of folded merge results kept in memory. 0 disables it.
	MergeCacheSize int

	WALCompression bool
	DisableWAL     bool

	Logger  logging.Logger
	Metrics *metrics.Registry
}

// DefaultOptions returns options for a durable pessimistic engine
func DefaultOptions() *Options {
	return &Options{
		CreateIfMissing:        true,
		ConcurrencyMode:        Pessimistic,
		TransactionLockTimeout: DefaultLockTimeoutMs,
		DefaultLockTimeout:     DefaultLockTimeoutMs,
		MaxNumLocks:            -1,
		MergeCacheSize:         1024,
	}
}

// WriteOptions controls durability of a single write or commit
type WriteOptions struct {
	// Sync fsyncs the log before the write is acknowledged
	Sync bool
	// DisableWAL skips the log for this write
	DisableWAL bool
}

// DefaultWriteOptions returns buffered, logged writes
func DefaultWriteOptions() *WriteOptions {
	return &WriteOptions{}
}

// ReadOptions controls the view a read observes
type ReadOptions struct {
	// Snapshot pins the read to committed state at the snapshot
	Snapshot *Snapshot

	// IterateLowerBound is inclusive, IterateUpperBound exclusive. Iterators only.
	IterateLowerBound []byte
	IterateUpperBound []byte

	// FillCache stores folded merge results read at the latest sequence
	FillCache bool
}

// DefaultReadOptions returns latest-state reads that fill the merge cache
func DefaultReadOptions() *ReadOptions {
	return &ReadOptions{FillCache: true}
}

// TransactionOptions configures one transaction
type TransactionOptions struct {
	// SetSnapshot pins a snapshot at begin; tracked keys validate against it
	SetSnapshot bool

	// LockTimeout in milliseconds. 0 fails immediately, negative waits forever.
	LockTimeout int64

	// DeadlockDetect fails a lock wait that would close a wait-for cycle
	DeadlockDetect bool

	// Name is attached to logs. Empty lets the caller pick one.
	Name string

	// MaxWriteBatchSize caps buffered key and value bytes. 0 means unlimited.
	MaxWriteBatchSize int
}

// DefaultTransactionOptions returns options with the built-in lock timeout.
// Engine.DefaultTransactionOptions applies Options.TransactionLockTimeout.
func DefaultTransactionOptions() *TransactionOptions {
	return &TransactionOptions{
		LockTimeout: DefaultLockTimeoutMs,
	}
}

func (o *Options) withDefaults() Options {
	out := *o
	out.Logger = logging.OrNop(o.Logger)
	if out.MaxNumLocks == 0 {
		out.MaxNumLocks = -1
	}
	return out
}
