package wal

// OpType represents the type of operation in the WAL
type OpType uint8

const (
	// OpWriteBatch carries one committed write batch (transaction or
	// non-transactional write), encoded by the engine.
	OpWriteBatch OpType = iota + 1
	// OpCreateColumnFamily carries [id:4][name]
	OpCreateColumnFamily
	// OpDropColumnFamily carries [id:4]
	OpDropColumnFamily
)

// String returns a readable name for the op type
func (o OpType) String() string {
	switch o {
	case OpWriteBatch:
		return "write_batch"
	case OpCreateColumnFamily:
		return "create_cf"
	case OpDropColumnFamily:
		return "drop_cf"
	default:
		return "unknown"
	}
}

// Entry represents a single WAL entry
type Entry struct {
	LSN       uint64 // Log Sequence Number
	OpType    OpType
	Data      []byte
	Checksum  uint32
	Timestamp int64
}

// entryHeaderSize is LSN + OpType + DataLen
const entryHeaderSize = 8 + 1 + 4

// entryTrailerSize is Checksum + Timestamp
const entryTrailerSize = 4 + 8
