package txn

import "github.com/dd0wney/cluso-txkv/pkg/engine"

// Engine is the storage the transaction layer runs on
type Engine interface {
	BeginTransaction(wo *WriteOptions, to *TransactionOptions) (Handle, error)
	GetSnapshot() *engine.Snapshot
	DefaultColumnFamily() *ColumnFamily
	DefaultTransactionOptions() *TransactionOptions
}

// Handle is one in-progress engine transaction. Destroy must be called
// exactly once, on every exit path.
type Handle interface {
	ID() uint64
	Name() string

	Get(ro *ReadOptions, cf *ColumnFamily, key []byte) ([]byte, error)
	GetForUpdate(ro *ReadOptions, cf *ColumnFamily, key []byte, exclusive bool) ([]byte, error)
	Put(cf *ColumnFamily, key, value []byte) error
	Merge(cf *ColumnFamily, key, value []byte) error
	Delete(cf *ColumnFamily, key []byte) error
	NewIterator(ro *ReadOptions, cf *ColumnFamily) *Iterator

	Commit() error
	Rollback() error
	SetSavePoint()
	RollbackToSavePoint() error

	SetSnapshot()
	GetSnapshot() *engine.Snapshot

	Destroy()
}

var _ Handle = (*engine.Txn)(nil)

type engineAdapter struct {
	*engine.Engine
}

// FromEngine exposes an engine through the Engine interface
func FromEngine(e *engine.Engine) Engine {
	return engineAdapter{e}
}

func (a engineAdapter) BeginTransaction(wo *WriteOptions, to *TransactionOptions) (Handle, error) {
	t, err := a.Engine.BeginTransaction(wo, to)
	if err != nil {
		return nil, err
	}
	return t, nil
}
