package txn

import (
	"errors"
	"fmt"

	"github.com/dd0wney/cluso-txkv/pkg/engine"
)

// Kind classifies a transaction failure
type Kind int

const (
	KindAllocationFailed Kind = iota + 1
	KindInvalidState
	KindLockConflict
	KindLockTimeout
	KindConflict
	KindNoSavepoint
	KindDeadlock
	KindEngine
	KindIO
)

// Sentinel errors, one per Kind, for use with errors.Is
var (
	ErrAllocationFailed = errors.New("transaction allocation failed")
	ErrInvalidState     = errors.New("transaction is not open")
	ErrLockConflict     = errors.New("lock conflict")
	ErrLockTimeout      = errors.New("lock timeout")
	ErrConflict         = errors.New("commit conflict")
	ErrNoSavepoint      = errors.New("no savepoint")
	ErrDeadlock         = errors.New("deadlock")
	ErrEngine           = errors.New("engine error")
	ErrIO               = errors.New("I/O error")
)

var kindSentinels = map[Kind]error{
	KindAllocationFailed: ErrAllocationFailed,
	KindInvalidState:     ErrInvalidState,
	KindLockConflict:     ErrLockConflict,
	KindLockTimeout:      ErrLockTimeout,
	KindConflict:         ErrConflict,
	KindNoSavepoint:      ErrNoSavepoint,
	KindDeadlock:         ErrDeadlock,
	KindEngine:           ErrEngine,
	KindIO:               ErrIO,
}

func (k Kind) String() string {
	if err, ok := kindSentinels[k]; ok {
		return err.Error()
	}
	return "unknown"
}

// Error provides structured information about a failed transaction operation.
type Error struct {
	Op    string // Operation that failed (e.g., "commit", "get_for_update")
	Kind  Kind
	Key   []byte // Key involved, if any
	Cause error  // Underlying engine error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, e.Kind)
	if e.Key != nil {
		msg = fmt.Sprintf("%s %s (key %q)", e.Op, e.Kind, e.Key)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause for error chain support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches the sentinel for this error's Kind, then the cause chain.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if kindSentinels[e.Kind] == target {
		return true
	}
	return errors.Is(e.Cause, target)
}

// ErrorBuilder provides a fluent interface for building Errors.
type ErrorBuilder struct {
	err Error
}

// NewError creates a new error builder for the given operation.
func NewError(op string) *ErrorBuilder {
	return &ErrorBuilder{err: Error{Op: op}}
}

// Kind sets the error kind.
func (b *ErrorBuilder) Kind(k Kind) *ErrorBuilder {
	b.err.Kind = k
	return b
}

// Key records the key the operation was working on.
func (b *ErrorBuilder) Key(key []byte) *ErrorBuilder {
	if key != nil {
		b.err.Key = append([]byte(nil), key...)
	}
	return b
}

// Cause sets the underlying error and, unless already set, derives the kind from it.
func (b *ErrorBuilder) Cause(err error) *ErrorBuilder {
	b.err.Cause = err
	if b.err.Kind == 0 {
		b.err.Kind = Classify(err)
	}
	return b
}

// Build returns the constructed Error.
func (b *ErrorBuilder) Build() *Error {
	return &b.err
}

// Err returns the error as an error interface.
func (b *ErrorBuilder) Err() error {
	return &b.err
}

// Classify maps an engine error onto a Kind. Errors the engine does not
// classify are KindEngine.
func Classify(err error) Kind {
	var txErr *Error
	switch {
	case errors.As(err, &txErr):
		return txErr.Kind
	case errors.Is(err, engine.ErrTxnNotActive),
		errors.Is(err, engine.ErrClosed),
		errors.Is(err, engine.ErrSnapshotReleased):
		return KindInvalidState
	case errors.Is(err, engine.ErrLockConflict), errors.Is(err, engine.ErrLockLimit):
		return KindLockConflict
	case errors.Is(err, engine.ErrLockTimeout):
		return KindLockTimeout
	case errors.Is(err, engine.ErrDeadlock):
		return KindDeadlock
	case errors.Is(err, engine.ErrConflict):
		return KindConflict
	case errors.Is(err, engine.ErrNoSavepoint):
		return KindNoSavepoint
	case errors.Is(err, engine.ErrWALFailed):
		return KindIO
	default:
		return KindEngine
	}
}

func invalidState(op string) error {
	return NewError(op).Kind(KindInvalidState).Err()
}

// IsRetryable reports whether the failed transaction could succeed if run again
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrLockTimeout) ||
		errors.Is(err, ErrLockConflict) ||
		errors.Is(err, ErrDeadlock)
}
