package txn

import (
	"bytes"
	"sync/atomic"
	"testing"

	"github.com/dd0wney/cluso-txkv/pkg/engine"
)

var concatMerge = engine.MergeOperatorFunc{
	OperatorName: "concat",
	Fn: func(key, existing []byte, operands [][]byte) ([]byte, error) {
		out := append([]byte(nil), existing...)
		for _, op := range operands {
			out = append(out, op...)
		}
		return out, nil
	},
}

// setupTestEngine opens an in-memory engine and returns it with its txn view
func setupTestEngine(t *testing.T, mutate func(*engine.Options)) (*engine.Engine, Engine, func()) {
	t.Helper()
	opts := engine.DefaultOptions()
	opts.MergeOperator = concatMerge
	opts.DefaultLockTimeout = 0
	if mutate != nil {
		mutate(opts)
	}
	e, err := engine.Open("", opts)
	if err != nil {
		t.Fatalf("Failed to open engine: %v", err)
	}
	return e, FromEngine(e), func() { e.Close() }
}

func begin(t *testing.T, eng Engine, to *TransactionOptions) *Transaction {
	t.Helper()
	tx, err := Begin(eng, nil, to, nil)
	if err != nil {
		t.Fatalf("Failed to begin transaction: %v", err)
	}
	return tx
}

// noWait fails lock acquisition immediately instead of waiting
func noWait() *TransactionOptions {
	return &TransactionOptions{LockTimeout: 0}
}

func expectValue(t *testing.T, got []byte, want string) {
	t.Helper()
	if !bytes.Equal(got, []byte(want)) {
		t.Errorf("Expected %q, got %q", want, got)
	}
}

// countingEngine counts handle destruction and can refuse to begin
type countingEngine struct {
	Engine
	destroyed *atomic.Int32
	failBegin error
}

func (c countingEngine) BeginTransaction(wo *WriteOptions, to *TransactionOptions) (Handle, error) {
	if c.failBegin != nil {
		return nil, c.failBegin
	}
	h, err := c.Engine.BeginTransaction(wo, to)
	if err != nil {
		return nil, err
	}
	return &countingHandle{Handle: h, destroyed: c.destroyed}, nil
}

type countingHandle struct {
	Handle
	destroyed *atomic.Int32
}

func (h *countingHandle) Destroy() {
	h.destroyed.Add(1)
	h.Handle.Destroy()
}
