package engine

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors
var (
	ErrClosed               = errors.New("engine is closed")
	ErrNotFound             = errors.New("database does not exist")
	ErrAlreadyExists        = errors.New("database already exists")
	ErrLockConflict         = errors.New("lock held by another transaction")
	ErrLockTimeout          = errors.New("lock wait timed out")
	ErrDeadlock             = errors.New("deadlock detected")
	ErrLockLimit            = errors.New("row lock limit reached")
	ErrConflict             = errors.New("write conflict")
	ErrNoSavepoint          = errors.New("no savepoint set")
	ErrTxnNotActive         = errors.New("transaction is not active")
	ErrTooManyTransactions  = errors.New("too many active transactions")
	ErrMergeOperatorNotSet  = errors.New("merge operator not set")
	ErrColumnFamilyNotFound = errors.New("column family not found")
	ErrColumnFamilyExists   = errors.New("column family already exists")
	ErrColumnFamilyDropped  = errors.New("column family dropped")
	ErrInvalidColumnFamily  = errors.New("invalid column family")
	ErrWriteBatchTooLarge   = errors.New("write batch too large")
	ErrSnapshotReleased     = errors.New("snapshot released")
	ErrCorruptBatch         = errors.New("corrupt write batch")
	ErrWALFailed            = errors.New("write-ahead log failure")
)

// EngineError carries the operation and row an engine failure relates to
type EngineError struct {
	Op    string
	CF    string
	Key   []byte
	Cause error
}

func (e *EngineError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Op)
	if e.CF != "" {
		sb.WriteString(fmt.Sprintf(" cf=%s", e.CF))
	}
	if e.Key != nil {
		sb.WriteString(fmt.Sprintf(" key=%q", e.Key))
	}
	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}
	return sb.String()
}

func (e *EngineError) Unwrap() error {
	return e.Cause
}

func newError(op string, cf *ColumnFamily, key []byte, cause error) error {
	e := &EngineError{Op: op, Cause: cause}
	if cf != nil {
		e.CF = cf.name
	}
	if key != nil {
		e.Key = append([]byte(nil), key...)
	}
	return e
}

// IsLockError reports whether err is any row lock acquisition failure
func IsLockError(err error) bool {
	return errors.Is(err, ErrLockConflict) ||
		errors.Is(err, ErrLockTimeout) ||
		errors.Is(err, ErrDeadlock) ||
		errors.Is(err, ErrLockLimit)
}
