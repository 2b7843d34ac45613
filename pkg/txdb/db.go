package txdb

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/dd0wney/cluso-txkv/pkg/engine"
	"github.com/dd0wney/cluso-txkv/pkg/logging"
	"github.com/dd0wney/cluso-txkv/pkg/metrics"
	"github.com/dd0wney/cluso-txkv/pkg/txn"
)

// DB is a transactional key-value database stored in one directory
type DB struct {
	engine  *engine.Engine
	txns    txn.Engine
	dir     string
	opts    Options
	logger  logging.Logger
	metrics *metrics.Registry
	closed  atomic.Bool
}

var _ txn.Factory = (*DB)(nil)

// Open opens or creates the database in dir. An empty dir opens an
// in-memory database.
func Open(dir string, opts *Options) (*DB, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	o := *opts
	o.Logger = logging.OrNop(o.Logger)
	if o.Metrics == nil {
		o.Metrics = metrics.NewRegistry()
	}

	e, err := engine.Open(dir, &o.Options)
	if err != nil {
		return nil, fmt.Errorf("txdb: %w", err)
	}

	db := &DB{
		engine:  e,
		txns:    txn.FromEngine(e),
		dir:     dir,
		opts:    o,
		logger:  o.Logger.With(logging.Component("txdb")),
		metrics: o.Metrics,
	}
	db.updateStorageMetrics()
	db.logger.Info("database opened",
		logging.Path(dir),
		logging.Count(len(e.ColumnFamilies())),
		logging.Seq(e.LatestSequence()))
	return db, nil
}

// OpenDefault opens dir with DefaultOptions
func OpenDefault(dir string) (*DB, error) {
	return Open(dir, DefaultOptions())
}

// OpenCF opens dir and makes sure every named column family exists. Missing
// names are created when CreateMissingColumnFamilies is set and are an error
// otherwise.
func OpenCF(dir string, opts *Options, names ...string) (*DB, error) {
	db, err := Open(dir, opts)
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		if name == engine.DefaultColumnFamilyName {
			continue
		}
		if _, err := db.engine.ColumnFamily(name); err == nil {
			continue
		}
		if !db.opts.CreateMissingColumnFamilies {
			db.Close()
			return nil, fmt.Errorf("txdb: open column family %q: %w", name, engine.ErrColumnFamilyNotFound)
		}
		if _, err := db.engine.CreateColumnFamily(name); err != nil {
			db.Close()
			return nil, fmt.Errorf("txdb: create column family %q: %w", name, err)
		}
	}
	return db, nil
}

// OpenCFAll opens dir with every column family recorded in its log
func OpenCFAll(dir string, opts *Options) (*DB, error) {
	names, err := ListColumnFamilies(dir)
	if err != nil && !errors.Is(err, engine.ErrNotFound) {
		return nil, err
	}
	return OpenCF(dir, opts, names...)
}

// ListColumnFamilies returns the column families of the database in dir
// without opening it
func ListColumnFamilies(dir string) ([]string, error) {
	names, err := engine.ListColumnFamilies(dir)
	if err != nil {
		return nil, fmt.Errorf("txdb: list column families: %w", err)
	}
	return names, nil
}

// Close closes the database. Transactions still open fail afterwards.
func (db *DB) Close() error {
	if !db.closed.CompareAndSwap(false, true) {
		return nil
	}
	if n := db.engine.NumActiveTransactions(); n > 0 {
		db.logger.Warn("closing with open transactions", logging.Count(n))
	}
	if err := db.engine.Close(); err != nil {
		return fmt.Errorf("txdb: %w", err)
	}
	db.logger.Info("database closed", logging.Path(db.dir))
	return nil
}

// Transaction begins a transaction
func (db *DB) Transaction(wo *WriteOptions, to *TransactionOptions) (*txn.Transaction, error) {
	if wo == nil {
		wo = db.writeOptions()
	}
	return txn.Begin(db.txns, wo, to, db.opts.Logger)
}

// DefaultTransactionOptions returns transaction options carrying the
// configured TransactionLockTimeout
func (db *DB) DefaultTransactionOptions() *TransactionOptions {
	return db.engine.DefaultTransactionOptions()
}

// TransactionDefault begins a transaction with default options
func (db *DB) TransactionDefault() (*txn.Transaction, error) {
	return db.Transaction(nil, nil)
}

func (db *DB) writeOptions() *WriteOptions {
	return &WriteOptions{Sync: db.opts.SyncWrites}
}

// Get reads key from the default column family
func (db *DB) Get(key []byte) ([]byte, error) {
	return db.engine.Get(nil, nil, key)
}

// GetCF reads key from cf with ro. A nil ro reads the latest state.
func (db *DB) GetCF(ro *ReadOptions, cf *ColumnFamily, key []byte) ([]byte, error) {
	return db.engine.Get(ro, cf, key)
}

// Put writes key outside any transaction
func (db *DB) Put(key, value []byte) error {
	return db.engine.Put(db.writeOptions(), nil, key, value)
}

// PutCF writes key to cf outside any transaction
func (db *DB) PutCF(wo *WriteOptions, cf *ColumnFamily, key, value []byte) error {
	if wo == nil {
		wo = db.writeOptions()
	}
	return db.engine.Put(wo, cf, key, value)
}

// Merge records a merge operand for key
func (db *DB) Merge(key, value []byte) error {
	return db.engine.Merge(db.writeOptions(), nil, key, value)
}

// MergeCF records a merge operand for key in cf
func (db *DB) MergeCF(wo *WriteOptions, cf *ColumnFamily, key, value []byte) error {
	if wo == nil {
		wo = db.writeOptions()
	}
	return db.engine.Merge(wo, cf, key, value)
}

// Delete removes key
func (db *DB) Delete(key []byte) error {
	return db.engine.Delete(db.writeOptions(), nil, key)
}

// DeleteCF removes key from cf
func (db *DB) DeleteCF(wo *WriteOptions, cf *ColumnFamily, key []byte) error {
	if wo == nil {
		wo = db.writeOptions()
	}
	return db.engine.Delete(wo, cf, key)
}

// Write applies batch atomically
func (db *DB) Write(wo *WriteOptions, batch *WriteBatch) error {
	if wo == nil {
		wo = db.writeOptions()
	}
	return db.engine.Write(wo, batch)
}

// Iterator opens a cursor over the default column family
func (db *DB) Iterator(ro *ReadOptions) *Iterator {
	return db.engine.NewIterator(ro, nil)
}

// IteratorCF opens a cursor over cf
func (db *DB) IteratorCF(ro *ReadOptions, cf *ColumnFamily) *Iterator {
	return db.engine.NewIterator(ro, cf)
}

// Snapshot pins the latest committed state. Pass it in ReadOptions and
// release it when done.
func (db *DB) Snapshot() *Snapshot {
	return db.engine.GetSnapshot()
}

// DefaultColumnFamily returns the "default" column family
func (db *DB) DefaultColumnFamily() *ColumnFamily {
	return db.engine.DefaultColumnFamily()
}

// ColumnFamily returns the column family called name
func (db *DB) ColumnFamily(name string) (*ColumnFamily, error) {
	return db.engine.ColumnFamily(name)
}

// ColumnFamilies returns the live column family names, sorted
func (db *DB) ColumnFamilies() []string {
	return db.engine.ColumnFamilies()
}

// CreateColumnFamily creates a column family
func (db *DB) CreateColumnFamily(name string) (*ColumnFamily, error) {
	cf, err := db.engine.CreateColumnFamily(name)
	if err != nil {
		return nil, err
	}
	db.updateStorageMetrics()
	return cf, nil
}

// DropColumnFamily drops a column family and its data
func (db *DB) DropColumnFamily(name string) error {
	if err := db.engine.DropColumnFamily(name); err != nil {
		return err
	}
	db.updateStorageMetrics()
	return nil
}

// CreateCheckpoint writes a consistent copy of the database into dir
func (db *DB) CreateCheckpoint(dir string) error {
	timer := logging.StartTimer(db.logger, "checkpoint", logging.Path(dir))
	if err := db.engine.CreateCheckpoint(dir); err != nil {
		timer.EndError(err)
		return err
	}
	timer.EndInfo()
	return nil
}

// Compact prunes versions no live snapshot can observe
func (db *DB) Compact() int {
	return db.engine.Compact()
}

// Stats is a point-in-time view of the database
type Stats struct {
	LatestSequence     uint64
	ColumnFamilies     int
	ActiveTransactions int
	LiveSnapshots      int
	Locks              int
	MergeCacheHits     int64
	MergeCacheMisses   int64
	MergeCacheEntries  int
}

// Stats returns current counters
func (db *DB) Stats() Stats {
	hits, misses, size := db.engine.MergeCacheStats()
	return Stats{
		LatestSequence:     db.engine.LatestSequence(),
		ColumnFamilies:     len(db.engine.ColumnFamilies()),
		ActiveTransactions: db.engine.NumActiveTransactions(),
		LiveSnapshots:      db.engine.NumLiveSnapshots(),
		Locks:              db.engine.NumLocks(),
		MergeCacheHits:     hits,
		MergeCacheMisses:   misses,
		MergeCacheEntries:  size,
	}
}

func (db *DB) updateStorageMetrics() {
	_, _, entries := db.engine.MergeCacheStats()
	db.metrics.UpdateStorageMetrics(metrics.StorageStats{
		ColumnFamilies:    len(db.engine.ColumnFamilies()),
		LiveSnapshots:     db.engine.NumLiveSnapshots(),
		LocksHeld:         db.engine.NumLocks(),
		MergeCacheEntries: entries,
	})
}

// Metrics refreshes the gauges and returns the registry
func (db *DB) Metrics() *metrics.Registry {
	db.updateStorageMetrics()
	db.metrics.UpdateSystemMetrics()
	return db.metrics
}

// Logger returns the database logger
func (db *DB) Logger() logging.Logger {
	return db.logger
}

// Dir returns the database directory, empty for in-memory databases
func (db *DB) Dir() string {
	return db.dir
}
