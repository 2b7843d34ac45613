package txn

// Iterable can open cursors
type Iterable interface {
	Iterator(ro *ReadOptions) (*Iterator, error)
	IteratorCF(cf *ColumnFamily, ro *ReadOptions) (*Iterator, error)
}

// Reader can read keys
type Reader interface {
	Iterable
	Get(key []byte) ([]byte, error)
	GetOpt(key []byte, ro *ReadOptions) ([]byte, error)
	GetCF(cf *ColumnFamily, key []byte) ([]byte, error)
	GetCFOpt(cf *ColumnFamily, key []byte, ro *ReadOptions) ([]byte, error)
}

// Writer can buffer writes
type Writer interface {
	Put(key, value []byte) error
	PutCF(cf *ColumnFamily, key, value []byte) error
	Merge(key, value []byte) error
	MergeCF(cf *ColumnFamily, key, value []byte) error
	Delete(key []byte) error
	DeleteCF(cf *ColumnFamily, key []byte) error
}

// Factory begins transactions
type Factory interface {
	Transaction(wo *WriteOptions, to *TransactionOptions) (*Transaction, error)
	TransactionDefault() (*Transaction, error)
}

var (
	_ Reader = (*Transaction)(nil)
	_ Writer = (*Transaction)(nil)
	_ Reader = (*Snapshot)(nil)
)
