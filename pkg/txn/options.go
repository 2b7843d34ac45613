package txn

import "github.com/dd0wney/cluso-txkv/pkg/engine"

// Option and handle types shared with the engine
type (
	WriteOptions       = engine.WriteOptions
	ReadOptions        = engine.ReadOptions
	TransactionOptions = engine.TransactionOptions
	ColumnFamily       = engine.ColumnFamily
	Iterator           = engine.Iterator
)

// DefaultWriteOptions returns buffered, logged writes
func DefaultWriteOptions() *WriteOptions {
	return engine.DefaultWriteOptions()
}

// DefaultReadOptions returns reads of the latest state
func DefaultReadOptions() *ReadOptions {
	return engine.DefaultReadOptions()
}

// DefaultTransactionOptions returns a 1000ms lock timeout and no snapshot
func DefaultTransactionOptions() *TransactionOptions {
	return engine.DefaultTransactionOptions()
}
