package engine

import (
	"bytes"
	"testing"
)

var concatOperator = MergeOperatorFunc{
	OperatorName: "concat",
	Fn: func(key, existing []byte, operands [][]byte) ([]byte, error) {
		out := append([]byte(nil), existing...)
		for _, op := range operands {
			out = append(out, op...)
		}
		return out, nil
	},
}

// setupTestEngine opens an engine in a temp dir with a concat merge operator
func setupTestEngine(t *testing.T, mutate func(*Options)) (*Engine, string, func()) {
	t.Helper()
	dataDir := t.TempDir()
	opts := DefaultOptions()
	opts.MergeOperator = concatOperator
	if mutate != nil {
		mutate(opts)
	}

	e, err := Open(dataDir, opts)
	if err != nil {
		t.Fatalf("Failed to open engine: %v", err)
	}
	return e, dataDir, func() { e.Close() }
}

func mustGet(t *testing.T, e *Engine, cf *ColumnFamily, key string) []byte {
	t.Helper()
	val, err := e.Get(nil, cf, []byte(key))
	if err != nil {
		t.Fatalf("Get(%s) failed: %v", key, err)
	}
	return val
}

func expectValue(t *testing.T, got []byte, want string) {
	t.Helper()
	if !bytes.Equal(got, []byte(want)) {
		t.Errorf("Expected %q, got %q", want, got)
	}
}

func collect(it *Iterator) []string {
	var out []string
	for it.SeekToFirst(); it.Valid(); it.Next() {
		out = append(out, string(it.Key())+"="+string(it.Value()))
	}
	return out
}
