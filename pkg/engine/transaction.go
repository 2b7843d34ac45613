package engine

import (
	"errors"
	"sync"
	"time"

	"github.com/dd0wney/cluso-txkv/pkg/logging"
	"github.com/dd0wney/cluso-txkv/pkg/metrics"
)

type txnState int

const (
	txnActive txnState = iota
	txnCommitted
	txnRolledBack
)

type lockLogEntry struct {
	key    lockKey
	change lockChange
}

type trackLogEntry struct {
	key lockKey
}

type savepoint struct {
	batchLen int
	lockLen  int
	trackLen int
}

// Txn is an engine transaction: a private write batch, the keys it must
// validate at commit, the row locks it holds and a stack of savepoints.
type Txn struct {
	e      *Engine
	id     uint64
	name   string
	wo     WriteOptions
	opts   TransactionOptions
	wait   lockWaitOptions
	logger logging.Logger
	start  time.Time

	mu         sync.Mutex
	state      txnState
	destroyed  bool
	batch      *WriteBatch
	index      map[lockKey][]int
	tracked    map[lockKey]uint64
	trackLog   []trackLogEntry
	lockLog    []lockLogEntry
	savepoints []savepoint
	snapshot   *Snapshot
}

// DefaultTransactionOptions returns transaction options carrying this
// engine's TransactionLockTimeout
func (e *Engine) DefaultTransactionOptions() *TransactionOptions {
	to := DefaultTransactionOptions()
	to.LockTimeout = e.opts.TransactionLockTimeout
	return to
}

// BeginTransaction starts a transaction. nil options use the engine defaults.
func (e *Engine) BeginTransaction(wo *WriteOptions, to *TransactionOptions) (*Txn, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}
	if wo == nil {
		wo = DefaultWriteOptions()
	}
	if to == nil {
		to = e.DefaultTransactionOptions()
	}

	if max := e.opts.MaxActiveTransactions; max > 0 {
		if n := e.active.Add(1); n > int64(max) {
			e.active.Add(-1)
			return nil, ErrTooManyTransactions
		}
	} else {
		e.active.Add(1)
	}

	t := &Txn{
		e:     e,
		id:    e.nextTxnID.Add(1),
		name:  to.Name,
		wo:    *wo,
		opts:  *to,
		start: time.Now(),
		wait: lockWaitOptions{
			timeout:        toDuration(to.LockTimeout),
			detectDeadlock: to.DeadlockDetect,
		},
		batch:   NewWriteBatch(),
		index:   make(map[lockKey][]int),
		tracked: make(map[lockKey]uint64),
	}
	t.logger = e.logger.With(logging.TxnID(t.id))
	if t.name != "" {
		t.logger = t.logger.With(logging.TxnName(t.name))
	}
	if to.SetSnapshot {
		t.snapshot = e.GetSnapshot()
	}
	if e.opts.Metrics != nil {
		e.opts.Metrics.RecordTransactionBegin()
	}

	t.logger.Debug("transaction begun", logging.Bool("snapshot", to.SetSnapshot))
	return t, nil
}

// ID returns the engine-assigned transaction id
func (t *Txn) ID() uint64 {
	return t.id
}

// Name returns the name given at begin
func (t *Txn) Name() string {
	return t.name
}

func (t *Txn) checkActive() error {
	if t.state != txnActive {
		return ErrTxnNotActive
	}
	if t.e.closed.Load() {
		return ErrClosed
	}
	return nil
}

// SetSnapshot pins a snapshot of the latest committed state, replacing any
// earlier one. Keys tracked afterwards validate against it.
func (t *Txn) SetSnapshot() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != txnActive {
		return
	}
	if t.snapshot != nil {
		t.snapshot.Release()
	}
	t.snapshot = t.e.GetSnapshot()
}

// GetSnapshot returns the pinned snapshot or nil. The transaction owns it.
func (t *Txn) GetSnapshot() *Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshot
}

// validationSeq is the sequence a newly tracked key is validated against
func (t *Txn) validationSeq() uint64 {
	if t.snapshot != nil {
		return t.snapshot.seq
	}
	return t.e.lastSeq.Load()
}

// lockAndTrack takes the row lock (pessimistic mode) and records the key for
// commit-time validation. Caller holds t.mu.
func (t *Txn) lockAndTrack(k lockKey, exclusive bool) error {
	if t.e.opts.ConcurrencyMode == Pessimistic {
		change, err := t.e.locks.acquire(t.id, k, exclusive, t.wait)
		if err != nil {
			if err == ErrDeadlock {
				t.logger.Warn("deadlock detected", logging.Key([]byte(k.key)))
			}
			return err
		}
		if change != lockUnchanged {
			t.lockLog = append(t.lockLog, lockLogEntry{key: k, change: change})
		}
	}
	if _, ok := t.tracked[k]; !ok {
		t.tracked[k] = t.validationSeq()
		t.trackLog = append(t.trackLog, trackLogEntry{key: k})
	}
	return nil
}

// Get reads key. Without a snapshot in ro the transaction's own writes are
// visible; with one, only committed state at the snapshot is.
func (t *Txn) Get(ro *ReadOptions, cf *ColumnFamily, key []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkActive(); err != nil {
		return nil, err
	}
	return t.getLocked(ro, cf, key)
}

func (t *Txn) getLocked(ro *ReadOptions, cf *ColumnFamily, key []byte) ([]byte, error) {
	if ro == nil {
		ro = DefaultReadOptions()
	}
	target, err := t.e.resolve(cf)
	if err != nil {
		return nil, newError("get", cf, key, err)
	}
	at, err := t.e.readSequence(ro)
	if err != nil {
		return nil, newError("get", target, key, err)
	}
	val, found, err := t.e.readCommitted(target, key, at, ro.FillCache)
	if err != nil {
		return nil, newError("get", target, key, err)
	}
	if ro.Snapshot != nil {
		return val, nil
	}

	positions := t.index[lockKey{cf: target.id, key: string(key)}]
	if len(positions) == 0 {
		return val, nil
	}
	ops := make([]operation, 0, len(positions))
	for _, i := range positions {
		rec := t.batch.records[i]
		ops = append(ops, operation{kind: rec.kind, value: rec.value})
	}
	val, found, err = foldOperations(t.e.opts.MergeOperator, key, val, found, ops)
	if err != nil {
		return nil, newError("get", target, key, err)
	}
	if !found {
		return nil, nil
	}
	return val, nil
}

// GetForUpdate locks key, tracks it for validation and reads it
func (t *Txn) GetForUpdate(ro *ReadOptions, cf *ColumnFamily, key []byte, exclusive bool) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkActive(); err != nil {
		return nil, err
	}
	target, err := t.e.resolve(cf)
	if err != nil {
		return nil, newError("get_for_update", cf, key, err)
	}
	if err := t.lockAndTrack(lockKey{cf: target.id, key: string(key)}, exclusive); err != nil {
		return nil, newError("get_for_update", target, key, err)
	}
	return t.getLocked(ro, target, key)
}

// Put buffers a write of value under key
func (t *Txn) Put(cf *ColumnFamily, key, value []byte) error {
	return t.write("put", kindPut, cf, key, value)
}

// Merge buffers a merge operand for key
func (t *Txn) Merge(cf *ColumnFamily, key, value []byte) error {
	return t.write("merge", kindMerge, cf, key, value)
}

// Delete buffers a deletion of key
func (t *Txn) Delete(cf *ColumnFamily, key []byte) error {
	return t.write("delete", kindDelete, cf, key, nil)
}

func (t *Txn) write(op string, kind valueKind, cf *ColumnFamily, key, value []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkActive(); err != nil {
		return err
	}
	target, err := t.e.resolve(cf)
	if err != nil {
		return newError(op, cf, key, err)
	}
	if kind == kindMerge && t.e.opts.MergeOperator == nil {
		return newError(op, target, key, ErrMergeOperatorNotSet)
	}
	if max := t.opts.MaxWriteBatchSize; max > 0 && t.batch.Size()+len(key)+len(value) > max {
		return newError(op, target, key, ErrWriteBatchTooLarge)
	}

	k := lockKey{cf: target.id, key: string(key)}
	if err := t.lockAndTrack(k, true); err != nil {
		return newError(op, target, key, err)
	}

	t.index[k] = append(t.index[k], t.batch.Count())
	t.batch.add(kind, target.id, key, value)
	return nil
}

// NewIterator returns an iterator over cf. Without a snapshot in ro the
// transaction's pending writes are merged into the latest committed state.
func (t *Txn) NewIterator(ro *ReadOptions, cf *ColumnFamily) *Iterator {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkActive(); err != nil {
		return newErrorIterator(err)
	}
	if ro == nil {
		ro = DefaultReadOptions()
	}
	target, err := t.e.resolve(cf)
	if err != nil {
		return newErrorIterator(newError("iterator", cf, nil, err))
	}
	at, err := t.e.readSequence(ro)
	if err != nil {
		return newErrorIterator(newError("iterator", target, nil, err))
	}
	committed, err := target.scan(t.e.opts.MergeOperator, at, ro.IterateLowerBound, ro.IterateUpperBound)
	if err != nil {
		return newErrorIterator(err)
	}
	if ro.Snapshot != nil {
		return newIterator(committed)
	}

	pending := make(map[string][]operation)
	for _, rec := range t.batch.records {
		if rec.cfID != target.id {
			continue
		}
		k := string(rec.key)
		pending[k] = append(pending[k], operation{kind: rec.kind, value: rec.value})
	}
	pairs, err := overlay(t.e.opts.MergeOperator, committed, pending, ro.IterateLowerBound, ro.IterateUpperBound)
	if err != nil {
		return newErrorIterator(newError("iterator", target, nil, err))
	}
	return newIterator(pairs)
}

// SetSavePoint marks the current batch and lock positions
func (t *Txn) SetSavePoint() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != txnActive {
		return
	}
	t.savepoints = append(t.savepoints, savepoint{
		batchLen: t.batch.Count(),
		lockLen:  len(t.lockLog),
		trackLen: len(t.trackLog),
	})
}

// RollbackToSavePoint discards writes made since the most recent savepoint
// and gives back locks first taken after it.
func (t *Txn) RollbackToSavePoint() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkActive(); err != nil {
		return err
	}
	if len(t.savepoints) == 0 {
		return ErrNoSavepoint
	}
	sp := t.savepoints[len(t.savepoints)-1]
	t.savepoints = t.savepoints[:len(t.savepoints)-1]

	t.batch.truncate(sp.batchLen)
	t.rebuildIndex()

	for i := len(t.lockLog) - 1; i >= sp.lockLen; i-- {
		entry := t.lockLog[i]
		switch entry.change {
		case lockAcquired:
			t.e.locks.release(t.id, entry.key)
		case lockUpgraded:
			t.e.locks.downgrade(t.id, entry.key)
		}
	}
	t.lockLog = t.lockLog[:sp.lockLen]

	for _, entry := range t.trackLog[sp.trackLen:] {
		delete(t.tracked, entry.key)
	}
	t.trackLog = t.trackLog[:sp.trackLen]

	t.logger.Debug("rolled back to savepoint", logging.Count(t.batch.Count()))
	return nil
}

func (t *Txn) rebuildIndex() {
	t.index = make(map[lockKey][]int, len(t.index))
	for i, rec := range t.batch.records {
		k := lockKey{cf: rec.cfID, key: string(rec.key)}
		t.index[k] = append(t.index[k], i)
	}
}

// Commit validates tracked keys, logs and applies the batch atomically and
// releases every lock. Any failure leaves the transaction rolled back.
func (t *Txn) Commit() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != txnActive {
		return ErrTxnNotActive
	}

	err := t.commitLocked()
	if err != nil {
		outcome := metrics.OutcomeFailed
		if errors.Is(err, ErrConflict) {
			outcome = metrics.OutcomeConflict
			t.logger.Debug("commit conflict", logging.Error(err))
		} else {
			t.logger.Warn("commit failed", logging.Error(err))
		}
		t.finish(txnRolledBack, outcome)
		return err
	}

	t.finish(txnCommitted, metrics.OutcomeCommitted)
	return nil
}

func (t *Txn) commitLocked() error {
	e := t.e
	if e.closed.Load() {
		return ErrClosed
	}

	e.commitMu.Lock()
	defer e.commitMu.Unlock()

	for k, seq := range t.tracked {
		cf := e.cfByID(k.cf)
		if cf == nil {
			return newError("commit", nil, []byte(k.key), ErrColumnFamilyDropped)
		}
		if cf.newestSeq([]byte(k.key)) > seq {
			return newError("commit", cf, []byte(k.key), ErrConflict)
		}
	}
	return e.commitLocked("commit", &t.wo, t.batch)
}

// Rollback discards the batch and releases every lock
func (t *Txn) Rollback() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != txnActive {
		return ErrTxnNotActive
	}
	t.finish(txnRolledBack, metrics.OutcomeRolledBack)
	return nil
}

// finish moves to a terminal state. Caller holds t.mu.
func (t *Txn) finish(state txnState, outcome string) {
	t.state = state
	keys := make([]lockKey, 0, len(t.lockLog))
	for _, entry := range t.lockLog {
		if entry.change == lockAcquired {
			keys = append(keys, entry.key)
		}
	}
	t.e.locks.releaseAll(t.id, keys)

	t.batch.Clear()
	t.index = nil
	t.tracked = nil
	t.trackLog = nil
	t.lockLog = nil
	t.savepoints = nil
	if t.snapshot != nil {
		t.snapshot.Release()
		t.snapshot = nil
	}
	t.e.active.Add(-1)

	if t.e.opts.Metrics != nil {
		t.e.opts.Metrics.RecordTransactionEnd(outcome, time.Since(t.start))
	}
	t.logger.Debug("transaction finished", logging.String("outcome", outcome))
}

// Destroy rolls back an open transaction. Calling it more than once is a no-op.
func (t *Txn) Destroy() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.destroyed {
		return
	}
	t.destroyed = true
	if t.state == txnActive {
		t.finish(txnRolledBack, metrics.OutcomeRolledBack)
	}
}
