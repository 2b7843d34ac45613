package txn

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/dd0wney/cluso-txkv/pkg/engine"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want Kind
	}{
		{engine.ErrTxnNotActive, KindInvalidState},
		{engine.ErrClosed, KindInvalidState},
		{engine.ErrLockConflict, KindLockConflict},
		{engine.ErrLockLimit, KindLockConflict},
		{engine.ErrLockTimeout, KindLockTimeout},
		{engine.ErrDeadlock, KindDeadlock},
		{engine.ErrConflict, KindConflict},
		{engine.ErrNoSavepoint, KindNoSavepoint},
		{fmt.Errorf("append: %w: %w", engine.ErrWALFailed, errors.New("disk full")), KindIO},
		{&engine.EngineError{Op: "put", Cause: engine.ErrLockTimeout}, KindLockTimeout},
		{errors.New("something else"), KindEngine},
		{NewError("inner").Kind(KindDeadlock).Err(), KindDeadlock},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestError_IsAndUnwrap(t *testing.T) {
	cause := &engine.EngineError{Op: "put", Key: []byte("k"), Cause: engine.ErrLockTimeout}
	err := NewError("put").Key([]byte("k")).Cause(cause).Err()

	if !errors.Is(err, ErrLockTimeout) {
		t.Error("should match kind sentinel")
	}
	if !errors.Is(err, engine.ErrLockTimeout) {
		t.Error("should match engine sentinel in cause chain")
	}
	if errors.Is(err, ErrConflict) {
		t.Error("should not match other kinds")
	}
	if errors.Unwrap(err) != cause {
		t.Error("Unwrap should return the cause")
	}
	if !strings.Contains(err.Error(), `"k"`) || !strings.HasPrefix(err.Error(), "put") {
		t.Errorf("unexpected message: %s", err.Error())
	}
}

func TestErrorBuilder_KindNotOverwritten(t *testing.T) {
	err := NewError("begin").Kind(KindAllocationFailed).Cause(engine.ErrLockTimeout).Build()
	if err.Kind != KindAllocationFailed {
		t.Errorf("Kind = %v, want AllocationFailed", err.Kind)
	}
}

func TestKindString(t *testing.T) {
	if KindConflict.String() != ErrConflict.Error() {
		t.Errorf("KindConflict.String() = %q", KindConflict.String())
	}
	if Kind(99).String() != "unknown" {
		t.Errorf("unknown kind = %q", Kind(99).String())
	}
}
