package txdb

import (
	"github.com/dd0wney/cluso-txkv/pkg/engine"
)

// Options configures a DB. The embedded engine options are passed through
// unchanged; Logger and Metrics default to a nop logger and a fresh registry.
type Options struct {
	engine.Options

	// CreateMissingColumnFamilies lets OpenCF create names not yet in the log
	CreateMissingColumnFamilies bool

	// SyncWrites makes the DB default write options fsync every write
	SyncWrites bool
}

// DefaultOptions returns durable pessimistic defaults with the concat merge operator
func DefaultOptions() *Options {
	opts := &Options{Options: *engine.DefaultOptions()}
	opts.MergeOperator = ConcatMerge
	return opts
}

type (
	WriteOptions       = engine.WriteOptions
	ReadOptions        = engine.ReadOptions
	TransactionOptions = engine.TransactionOptions
	ColumnFamily       = engine.ColumnFamily
	Iterator           = engine.Iterator
	Snapshot           = engine.Snapshot
	WriteBatch         = engine.WriteBatch
	MergeOperator      = engine.MergeOperator
)

// NewWriteBatch returns an empty batch for Write
func NewWriteBatch() *WriteBatch {
	return engine.NewWriteBatch()
}
