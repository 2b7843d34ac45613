package txn

import (
	"runtime"
	"sync"

	"github.com/google/uuid"

	"github.com/dd0wney/cluso-txkv/pkg/logging"
)

// State is the lifecycle position of a Transaction
type State int

const (
	StateOpen State = iota
	StateCommitted
	StateRolledBack
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateCommitted:
		return "committed"
	case StateRolledBack:
		return "rolled_back"
	default:
		return "unknown"
	}
}

// Transaction owns one engine transaction. It moves from Open to exactly one
// of Committed or RolledBack; every operation afterwards fails with
// ErrInvalidState. A Transaction is not safe for concurrent use.
//
// Close releases the engine handle and must be called when the transaction
// is no longer needed, typically with defer. Handles dropped without Close
// are rolled back and released by the garbage collector.
type Transaction struct {
	mu      sync.Mutex
	engine  Engine
	handle  Handle
	name    string
	state   State
	closed  bool
	logger  logging.Logger
	cleanup runtime.Cleanup
}

// Begin starts a transaction on eng. nil options take the engine's defaults,
// including its configured lock timeout. A transaction without a name gets a
// random UUID.
func Begin(eng Engine, wo *WriteOptions, to *TransactionOptions, logger logging.Logger) (*Transaction, error) {
	if wo == nil {
		wo = DefaultWriteOptions()
	}
	if to == nil {
		to = eng.DefaultTransactionOptions()
	}
	opts := *to
	if opts.Name == "" {
		opts.Name = uuid.NewString()
	}

	handle, err := eng.BeginTransaction(wo, &opts)
	if err != nil {
		return nil, NewError("begin").Kind(KindAllocationFailed).Cause(err).Err()
	}

	tx := &Transaction{
		engine: eng,
		handle: handle,
		name:   opts.Name,
		state:  StateOpen,
		logger: logging.OrNop(logger).With(
			logging.Component("txn"),
			logging.TxnID(handle.ID()),
			logging.TxnName(opts.Name),
		),
	}
	tx.cleanup = runtime.AddCleanup(tx, func(h Handle) { h.Destroy() }, handle)
	return tx, nil
}

// Name returns the transaction name
func (tx *Transaction) Name() string {
	return tx.name
}

// ID returns the engine transaction id
func (tx *Transaction) ID() uint64 {
	return tx.handle.ID()
}

// State returns the current lifecycle state
func (tx *Transaction) State() State {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.state
}

func (tx *Transaction) live() bool {
	return tx.state == StateOpen && !tx.closed
}

// resolveCF maps nil to the default column family
func (tx *Transaction) resolveCF(cf *ColumnFamily) *ColumnFamily {
	if cf == nil {
		return tx.engine.DefaultColumnFamily()
	}
	return cf
}

// Get reads key from the default column family. A nil value with nil error
// means the key is absent.
func (tx *Transaction) Get(key []byte) ([]byte, error) {
	return tx.GetCFOpt(nil, key, DefaultReadOptions())
}

// GetOpt reads key from the default column family with ro
func (tx *Transaction) GetOpt(key []byte, ro *ReadOptions) ([]byte, error) {
	return tx.GetCFOpt(nil, key, ro)
}

// GetCF reads key from cf
func (tx *Transaction) GetCF(cf *ColumnFamily, key []byte) ([]byte, error) {
	return tx.GetCFOpt(cf, key, DefaultReadOptions())
}

// GetCFOpt reads key from cf with ro. Without a snapshot in ro the
// transaction's own writes are visible.
func (tx *Transaction) GetCFOpt(cf *ColumnFamily, key []byte, ro *ReadOptions) ([]byte, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if !tx.live() {
		return nil, invalidState("get")
	}
	val, err := tx.handle.Get(ro, tx.resolveCF(cf), key)
	if err != nil {
		return nil, NewError("get").Key(key).Cause(err).Err()
	}
	return val, nil
}

// GetForUpdate reads key and takes an exclusive lock on it
func (tx *Transaction) GetForUpdate(key []byte) ([]byte, error) {
	return tx.GetForUpdateCFOpt(nil, key, DefaultReadOptions(), true)
}

// GetForUpdateOpt reads key with ro and locks it shared or exclusive
func (tx *Transaction) GetForUpdateOpt(key []byte, ro *ReadOptions, exclusive bool) ([]byte, error) {
	return tx.GetForUpdateCFOpt(nil, key, ro, exclusive)
}

// GetForUpdateCF reads key from cf and takes an exclusive lock on it
func (tx *Transaction) GetForUpdateCF(cf *ColumnFamily, key []byte) ([]byte, error) {
	return tx.GetForUpdateCFOpt(cf, key, DefaultReadOptions(), true)
}

// GetForUpdateCFOpt reads key from cf and locks it. An exclusive lock blocks
// other lockers and writers; a shared lock blocks only writers.
func (tx *Transaction) GetForUpdateCFOpt(cf *ColumnFamily, key []byte, ro *ReadOptions, exclusive bool) ([]byte, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if !tx.live() {
		return nil, invalidState("get_for_update")
	}
	val, err := tx.handle.GetForUpdate(ro, tx.resolveCF(cf), key, exclusive)
	if err != nil {
		tx.logLockFailure("get_for_update", key, err)
		return nil, NewError("get_for_update").Key(key).Cause(err).Err()
	}
	return val, nil
}

// Put buffers a write to the default column family
func (tx *Transaction) Put(key, value []byte) error {
	return tx.PutCF(nil, key, value)
}

// PutCF buffers a write to cf
func (tx *Transaction) PutCF(cf *ColumnFamily, key, value []byte) error {
	return tx.write("put", cf, key, func(h Handle, cf *ColumnFamily) error {
		return h.Put(cf, key, value)
	})
}

// Merge buffers a merge operand for key in the default column family
func (tx *Transaction) Merge(key, value []byte) error {
	return tx.MergeCF(nil, key, value)
}

// MergeCF buffers a merge operand for key in cf
func (tx *Transaction) MergeCF(cf *ColumnFamily, key, value []byte) error {
	return tx.write("merge", cf, key, func(h Handle, cf *ColumnFamily) error {
		return h.Merge(cf, key, value)
	})
}

// Delete buffers a deletion from the default column family
func (tx *Transaction) Delete(key []byte) error {
	return tx.DeleteCF(nil, key)
}

// DeleteCF buffers a deletion from cf
func (tx *Transaction) DeleteCF(cf *ColumnFamily, key []byte) error {
	return tx.write("delete", cf, key, func(h Handle, cf *ColumnFamily) error {
		return h.Delete(cf, key)
	})
}

func (tx *Transaction) write(op string, cf *ColumnFamily, key []byte, fn func(Handle, *ColumnFamily) error) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if !tx.live() {
		return invalidState(op)
	}
	if err := fn(tx.handle, tx.resolveCF(cf)); err != nil {
		tx.logLockFailure(op, key, err)
		return NewError(op).Key(key).Cause(err).Err()
	}
	return nil
}

func (tx *Transaction) logLockFailure(op string, key []byte, err error) {
	switch Classify(err) {
	case KindDeadlock:
		tx.logger.Warn("deadlock", logging.Operation(op), logging.Key(key))
	case KindLockTimeout, KindLockConflict:
		tx.logger.Debug("lock not acquired", logging.Operation(op), logging.Key(key), logging.Error(err))
	}
}

// Iterator returns a cursor over the default column family
func (tx *Transaction) Iterator(ro *ReadOptions) (*Iterator, error) {
	return tx.IteratorCF(nil, ro)
}

// IteratorCF returns a cursor over cf. Without a snapshot in ro it shows the
// transaction's pending writes over the latest committed state.
func (tx *Transaction) IteratorCF(cf *ColumnFamily, ro *ReadOptions) (*Iterator, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if !tx.live() {
		return nil, invalidState("iterator")
	}
	if ro == nil {
		ro = DefaultReadOptions()
	}
	it := tx.handle.NewIterator(ro, tx.resolveCF(cf))
	if err := it.Err(); err != nil {
		return nil, NewError("iterator").Cause(err).Err()
	}
	return it, nil
}

// Commit applies every buffered write atomically and releases all locks. A
// failed commit leaves the transaction rolled back.
func (tx *Transaction) Commit() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if !tx.live() {
		return invalidState("commit")
	}

	if err := tx.handle.Commit(); err != nil {
		tx.state = StateRolledBack
		e := NewError("commit").Cause(err).Build()
		if e.Kind == KindConflict {
			tx.logger.Info("commit conflict", logging.Error(err))
		} else {
			tx.logger.Error("commit failed", logging.Error(err))
		}
		return e
	}
	tx.state = StateCommitted
	tx.logger.Debug("committed")
	return nil
}

// Rollback discards every buffered write and releases all locks
func (tx *Transaction) Rollback() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if !tx.live() {
		return invalidState("rollback")
	}
	tx.state = StateRolledBack
	if err := tx.handle.Rollback(); err != nil {
		return NewError("rollback").Cause(err).Err()
	}
	tx.logger.Debug("rolled back")
	return nil
}

// SetSavepoint marks a position RollbackToSavepoint can return to. It is a
// no-op on a finished transaction.
func (tx *Transaction) SetSavepoint() {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if !tx.live() {
		tx.logger.Debug("savepoint ignored", logging.String("state", tx.state.String()))
		return
	}
	tx.handle.SetSavePoint()
}

// RollbackToSavepoint discards writes and locks taken since the most recent
// savepoint and removes it. ErrNoSavepoint if none is set.
func (tx *Transaction) RollbackToSavepoint() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if !tx.live() {
		return invalidState("rollback_to_savepoint")
	}
	if err := tx.handle.RollbackToSavePoint(); err != nil {
		return NewError("rollback_to_savepoint").Cause(err).Err()
	}
	return nil
}

// SetSnapshot pins the latest committed state. Keys tracked afterwards are
// validated against it at commit.
func (tx *Transaction) SetSnapshot() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if !tx.live() {
		return invalidState("set_snapshot")
	}
	tx.handle.SetSnapshot()
	return nil
}

// Snapshot returns a read-only view. With a pinned snapshot (SetSnapshot or
// TransactionOptions.SetSnapshot) the view is that snapshot. Otherwise a new
// engine snapshot is taken, so the view starts at this call and not at
// Begin; commits made between Begin and the call are visible through it.
func (tx *Transaction) Snapshot() (*Snapshot, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if !tx.live() {
		return nil, invalidState("snapshot")
	}

	pinned := tx.handle.GetSnapshot()
	if pinned != nil {
		return newSnapshot(tx, pinned.Retain()), nil
	}
	return newSnapshot(tx, tx.engine.GetSnapshot()), nil
}

// Close rolls back an open transaction and releases the engine handle.
// Calling Close more than once is a no-op.
func (tx *Transaction) Close() {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.closed {
		return
	}
	tx.closed = true
	if tx.state == StateOpen {
		tx.state = StateRolledBack
		tx.logger.Debug("closed while open, rolling back")
	}
	tx.cleanup.Stop()
	tx.handle.Destroy()
}
