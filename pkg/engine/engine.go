package engine

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dd0wney/cluso-txkv/pkg/logging"
	"github.com/dd0wney/cluso-txkv/pkg/wal"
)

// pruneInterval is the number of commits between version pruning passes
const pruneInterval = 64

// Engine is an in-process multi-version key-value store with column
// families, snapshots, a row lock table and an optional write-ahead log.
type Engine struct {
	dir    string
	opts   Options
	logger logging.Logger

	mu       sync.RWMutex
	cfs      map[uint32]*ColumnFamily
	cfByName map[string]*ColumnFamily
	nextCFID uint32

	// commitMu serializes validation, logging and apply of every commit
	commitMu          sync.Mutex
	lastSeq           atomic.Uint64
	commitsSincePrune int

	snapshots *snapshotList
	locks     *lockManager
	cache     *mergeCache
	log       wal.WriteAheadLog

	nextTxnID atomic.Uint64
	active    atomic.Int64
	closed    atomic.Bool
}

// Open opens the engine stored in dir, replaying its log. An empty dir opens
// a purely in-memory engine.
func Open(dir string, opts *Options) (*Engine, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	o := opts.withDefaults()

	e := &Engine{
		dir:       dir,
		opts:      o,
		logger:    o.Logger.With(logging.Component("engine")),
		cfs:       make(map[uint32]*ColumnFamily),
		cfByName:  make(map[string]*ColumnFamily),
		nextCFID:  defaultColumnFamilyID + 1,
		snapshots: newSnapshotList(),
		locks:     newLockManager(o.MaxNumLocks),
		cache:     newMergeCache(o.MergeCacheSize),
	}
	def := newColumnFamily(defaultColumnFamilyID, DefaultColumnFamilyName)
	e.cfs[def.id] = def
	e.cfByName[def.name] = def

	if o.Metrics != nil {
		e.locks.onWait = o.Metrics.RecordLockWait
		e.locks.onFail = o.Metrics.RecordLockFailure
	}

	if dir == "" || o.DisableWAL {
		e.logger.Info("engine opened in memory", logging.String("mode", o.ConcurrencyMode.String()))
		return e, nil
	}

	exists := wal.Exists(dir)
	if !exists && !o.CreateIfMissing {
		return nil, fmt.Errorf("open %s: %w", dir, ErrNotFound)
	}
	if exists && o.ErrorIfExists {
		return nil, fmt.Errorf("open %s: %w", dir, ErrAlreadyExists)
	}

	log, err := wal.Open(dir, o.WALCompression, o.Logger)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dir, err)
	}
	e.log = log

	stats, err := e.replay()
	if err != nil {
		log.Close()
		return nil, fmt.Errorf("replay %s: %w", dir, err)
	}

	e.logger.Info("engine opened",
		logging.Path(log.Path()),
		logging.Uint64("lsn", log.GetCurrentLSN()),
		logging.String("mode", o.ConcurrencyMode.String()),
		logging.Int("batches", stats.batches),
		logging.Int("column_families", len(e.cfs)),
		logging.Seq(e.lastSeq.Load()))

	return e, nil
}

// Close closes the log. Open transactions fail with ErrClosed afterwards.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	e.commitMu.Lock()
	defer e.commitMu.Unlock()

	if e.log != nil {
		if err := e.log.Close(); err != nil {
			return fmt.Errorf("failed to close WAL: %w", err)
		}
	}
	e.logger.Info("engine closed", logging.Seq(e.lastSeq.Load()))
	return nil
}

// Options returns the effective options
func (e *Engine) Options() Options {
	return e.opts
}

// Logger returns the engine logger
func (e *Engine) Logger() logging.Logger {
	return e.logger
}

// LatestSequence returns the sequence of the newest committed write
func (e *Engine) LatestSequence() uint64 {
	return e.lastSeq.Load()
}

// NumActiveTransactions returns the number of open transactions
func (e *Engine) NumActiveTransactions() int {
	return int(e.active.Load())
}

// NumLiveSnapshots returns the number of unreleased snapshots
func (e *Engine) NumLiveSnapshots() int {
	return e.snapshots.count()
}

// NumLocks returns the number of locked rows
func (e *Engine) NumLocks() int {
	return e.locks.numLocks()
}

// MergeCacheStats returns merge cache hits, misses and entry count
func (e *Engine) MergeCacheStats() (hits, misses int64, size int) {
	return e.cache.stats()
}

// GetSnapshot pins the latest committed state
func (e *Engine) GetSnapshot() *Snapshot {
	return e.snapshots.acquireLatest(&e.lastSeq)
}

// DefaultColumnFamily returns the "default" column family
func (e *Engine) DefaultColumnFamily() *ColumnFamily {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfs[defaultColumnFamilyID]
}

// ColumnFamily returns the live column family called name
func (e *Engine) ColumnFamily(name string) (*ColumnFamily, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	cf, ok := e.cfByName[name]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, ErrColumnFamilyNotFound)
	}
	return cf, nil
}

// ColumnFamilies returns the names of live column families, sorted
func (e *Engine) ColumnFamilies() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.cfByName))
	for name := range e.cfByName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CreateColumnFamily creates and logs a new column family
func (e *Engine) CreateColumnFamily(name string) (*ColumnFamily, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}
	if name == "" {
		return nil, fmt.Errorf("empty name: %w", ErrInvalidColumnFamily)
	}

	e.commitMu.Lock()
	defer e.commitMu.Unlock()
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.cfByName[name]; ok {
		return nil, fmt.Errorf("%q: %w", name, ErrColumnFamilyExists)
	}

	cf := newColumnFamily(e.nextCFID, name)
	if err := e.logColumnFamily(wal.OpCreateColumnFamily, cf); err != nil {
		return nil, err
	}
	e.nextCFID++
	e.cfs[cf.id] = cf
	e.cfByName[name] = cf

	e.logger.Info("column family created", logging.ColumnFamily(name), logging.Uint64("cf_id", uint64(cf.id)))
	return cf, nil
}

// DropColumnFamily drops and logs a column family. Its data is discarded and
// further writes through old handles fail with ErrColumnFamilyDropped.
func (e *Engine) DropColumnFamily(name string) error {
	if e.closed.Load() {
		return ErrClosed
	}
	if name == DefaultColumnFamilyName {
		return fmt.Errorf("cannot drop %q: %w", name, ErrInvalidColumnFamily)
	}

	e.commitMu.Lock()
	defer e.commitMu.Unlock()
	e.mu.Lock()
	defer e.mu.Unlock()

	cf, ok := e.cfByName[name]
	if !ok {
		return fmt.Errorf("%q: %w", name, ErrColumnFamilyNotFound)
	}
	if err := e.logColumnFamily(wal.OpDropColumnFamily, cf); err != nil {
		return err
	}
	cf.dropped.Store(true)
	delete(e.cfs, cf.id)
	delete(e.cfByName, name)
	e.cache.dropColumnFamily(cf.id)

	e.logger.Info("column family dropped", logging.ColumnFamily(name))
	return nil
}

// resolve maps a possibly nil handle to a live column family
func (e *Engine) resolve(cf *ColumnFamily) (*ColumnFamily, error) {
	if cf == nil {
		return e.DefaultColumnFamily(), nil
	}
	if cf.Dropped() {
		return nil, ErrColumnFamilyDropped
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if live, ok := e.cfs[cf.id]; !ok || live != cf {
		return nil, ErrInvalidColumnFamily
	}
	return cf, nil
}

// readPoint is the sequence a read observes. Without a snapshot the latest
// committed sequence is loaded only once the column family lock is held, so
// no prune can collapse versions past it.
type readPoint struct {
	seq    uint64
	latest *atomic.Uint64
}

// resolve returns the sequence to read at. Caller holds cf.mu.
func (p readPoint) resolve() uint64 {
	if p.latest != nil {
		return p.latest.Load()
	}
	return p.seq
}

func (e *Engine) readSequence(ro *ReadOptions) (readPoint, error) {
	if ro != nil && ro.Snapshot != nil {
		if ro.Snapshot.Released() {
			return readPoint{}, ErrSnapshotReleased
		}
		return readPoint{seq: ro.Snapshot.seq}, nil
	}
	return readPoint{latest: &e.lastSeq}, nil
}

// readCommitted returns the committed value of key visible at p
func (e *Engine) readCommitted(cf *ColumnFamily, key []byte, p readPoint, fillCache bool) ([]byte, bool, error) {
	cf.mu.RLock()
	defer cf.mu.RUnlock()
	seq := p.resolve()

	chain := cf.chain(key)
	if chain == nil {
		return nil, false, nil
	}

	newest := chain.newestSeq()
	cacheable := newest <= seq && chain.newestKind() == kindMerge
	if cacheable {
		if val, ok := e.cache.get(cf.id, key, newest); ok {
			return val, true, nil
		}
	}

	val, found, err := chain.read(e.opts.MergeOperator, key, seq)
	if err != nil {
		return nil, false, err
	}
	if cacheable && found && fillCache {
		e.cache.put(cf.id, key, newest, val)
	}
	return val, found, nil
}

// Get reads key from cf. A nil value with nil error means the key is absent.
func (e *Engine) Get(ro *ReadOptions, cf *ColumnFamily, key []byte) ([]byte, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}
	if ro == nil {
		ro = DefaultReadOptions()
	}
	target, err := e.resolve(cf)
	if err != nil {
		return nil, newError("get", cf, key, err)
	}
	at, err := e.readSequence(ro)
	if err != nil {
		return nil, newError("get", target, key, err)
	}
	val, _, err := e.readCommitted(target, key, at, ro.FillCache)
	if err != nil {
		return nil, newError("get", target, key, err)
	}
	return val, nil
}

// NewIterator returns an iterator over committed state in cf
func (e *Engine) NewIterator(ro *ReadOptions, cf *ColumnFamily) *Iterator {
	if e.closed.Load() {
		return newErrorIterator(ErrClosed)
	}
	if ro == nil {
		ro = DefaultReadOptions()
	}
	target, err := e.resolve(cf)
	if err != nil {
		return newErrorIterator(newError("iterator", cf, nil, err))
	}
	at, err := e.readSequence(ro)
	if err != nil {
		return newErrorIterator(newError("iterator", target, nil, err))
	}
	pairs, err := target.scan(e.opts.MergeOperator, at, ro.IterateLowerBound, ro.IterateUpperBound)
	if err != nil {
		return newErrorIterator(err)
	}
	return newIterator(pairs)
}

// Put writes a single key outside any transaction
func (e *Engine) Put(wo *WriteOptions, cf *ColumnFamily, key, value []byte) error {
	b := NewWriteBatch()
	b.PutCF(cf, key, value)
	return e.write("put", wo, b)
}

// Merge records a merge operand outside any transaction
func (e *Engine) Merge(wo *WriteOptions, cf *ColumnFamily, key, value []byte) error {
	b := NewWriteBatch()
	b.MergeCF(cf, key, value)
	return e.write("merge", wo, b)
}

// Delete removes a key outside any transaction
func (e *Engine) Delete(wo *WriteOptions, cf *ColumnFamily, key []byte) error {
	b := NewWriteBatch()
	b.DeleteCF(cf, key)
	return e.write("delete", wo, b)
}

// Write applies batch atomically. In pessimistic mode every key is locked
// for the duration of the write, so keys held by transactions fail.
func (e *Engine) Write(wo *WriteOptions, batch *WriteBatch) error {
	return e.write("write", wo, batch)
}

func (e *Engine) write(op string, wo *WriteOptions, batch *WriteBatch) (err error) {
	start := time.Now()
	defer func() { e.recordOperation(op, start, err) }()

	if e.closed.Load() {
		return ErrClosed
	}
	if batch.Count() == 0 {
		return nil
	}
	if wo == nil {
		wo = DefaultWriteOptions()
	}
	if batch.hasMerge() && e.opts.MergeOperator == nil {
		return newError(op, nil, nil, ErrMergeOperatorNotSet)
	}

	if e.opts.ConcurrencyMode == Pessimistic {
		id := e.nextTxnID.Add(1)
		keys := make([]lockKey, 0, batch.Count())
		seen := make(map[lockKey]bool)
		for _, rec := range batch.records {
			k := lockKey{cf: rec.cfID, key: string(rec.key)}
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
		sort.Slice(keys, func(i, j int) bool {
			if keys[i].cf != keys[j].cf {
				return keys[i].cf < keys[j].cf
			}
			return keys[i].key < keys[j].key
		})

		wait := lockWaitOptions{timeout: toDuration(e.opts.DefaultLockTimeout)}
		acquired := make([]lockKey, 0, len(keys))
		defer func() { e.locks.releaseAll(id, acquired) }()
		for _, k := range keys {
			if _, err := e.locks.acquire(id, k, true, wait); err != nil {
				return newError(op, e.cfByID(k.cf), []byte(k.key), err)
			}
			acquired = append(acquired, k)
		}
	}

	e.commitMu.Lock()
	defer e.commitMu.Unlock()
	return e.commitLocked(op, wo, batch)
}

func (e *Engine) cfByID(id uint32) *ColumnFamily {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfs[id]
}

// commitLocked logs and applies batch with fresh sequence numbers, then
// publishes the new last sequence. Caller holds commitMu.
func (e *Engine) commitLocked(op string, wo *WriteOptions, batch *WriteBatch) error {
	if e.closed.Load() {
		return ErrClosed
	}
	if batch.Count() == 0 {
		return nil
	}

	e.mu.RLock()
	targets := make([]*ColumnFamily, len(batch.records))
	for i, rec := range batch.records {
		cf, ok := e.cfs[rec.cfID]
		if !ok {
			e.mu.RUnlock()
			return newError(op, nil, rec.key, ErrColumnFamilyDropped)
		}
		targets[i] = cf
	}
	e.mu.RUnlock()

	first := e.lastSeq.Load() + 1
	if err := e.logBatch(wo, batch, first); err != nil {
		return err
	}

	for i, rec := range batch.records {
		cf := targets[i]
		cf.mu.Lock()
		cf.apply(rec.key, version{seq: first + uint64(i), kind: rec.kind, value: rec.value})
		cf.mu.Unlock()
	}
	e.lastSeq.Store(first + uint64(batch.Count()) - 1)

	e.commitsSincePrune++
	if e.commitsSincePrune >= pruneInterval {
		e.pruneLocked()
	}
	return nil
}

// Compact collapses versions no live snapshot can observe
func (e *Engine) Compact() int {
	e.commitMu.Lock()
	defer e.commitMu.Unlock()
	return e.pruneLocked()
}

func (e *Engine) pruneLocked() int {
	e.commitsSincePrune = 0
	horizon := e.snapshots.horizon(&e.lastSeq)

	e.mu.RLock()
	cfs := make([]*ColumnFamily, 0, len(e.cfs))
	for _, cf := range e.cfs {
		cfs = append(cfs, cf)
	}
	e.mu.RUnlock()

	removed := 0
	for _, cf := range cfs {
		removed += cf.prune(e.opts.MergeOperator, horizon, e.logger)
	}
	if removed > 0 {
		e.logger.Debug("pruned versions", logging.Count(removed), logging.Seq(horizon))
	}
	return removed
}

func (e *Engine) recordOperation(op string, start time.Time, err error) {
	if e.opts.Metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	e.opts.Metrics.RecordOperation(op, status, time.Since(start))
}
