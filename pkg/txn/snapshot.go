package txn

import (
	"runtime"
	"sync/atomic"

	"github.com/dd0wney/cluso-txkv/pkg/engine"
)

// Snapshot is a read-only view of committed state owned by one Transaction.
// Reads fail with ErrInvalidState once the parent has finished or been
// closed. Release frees the view without affecting the parent.
type Snapshot struct {
	parent   *Transaction
	snap     *engine.Snapshot
	released atomic.Bool
	cleanup  runtime.Cleanup
}

func newSnapshot(parent *Transaction, snap *engine.Snapshot) *Snapshot {
	s := &Snapshot{parent: parent, snap: snap}
	s.cleanup = runtime.AddCleanup(s, func(es *engine.Snapshot) { es.Release() }, snap)
	return s
}

// Sequence returns the committed sequence the view observes
func (s *Snapshot) Sequence() uint64 {
	return s.snap.Sequence()
}

// Release frees the engine snapshot. Later calls are no-ops.
func (s *Snapshot) Release() {
	if s.released.CompareAndSwap(false, true) {
		s.cleanup.Stop()
		s.snap.Release()
	}
}

// readOptions copies ro and pins it to this snapshot
func (s *Snapshot) readOptions(op string, ro *ReadOptions) (*ReadOptions, error) {
	if s.released.Load() {
		return nil, invalidState(op)
	}
	var pinned ReadOptions
	if ro != nil {
		pinned = *ro
	} else {
		pinned = *DefaultReadOptions()
	}
	pinned.Snapshot = s.snap
	return &pinned, nil
}

// Get reads key from the default column family at the snapshot
func (s *Snapshot) Get(key []byte) ([]byte, error) {
	return s.GetCFOpt(nil, key, nil)
}

// GetOpt reads key from the default column family with ro at the snapshot
func (s *Snapshot) GetOpt(key []byte, ro *ReadOptions) ([]byte, error) {
	return s.GetCFOpt(nil, key, ro)
}

// GetCF reads key from cf at the snapshot
func (s *Snapshot) GetCF(cf *ColumnFamily, key []byte) ([]byte, error) {
	return s.GetCFOpt(cf, key, nil)
}

// GetCFOpt reads key from cf with ro at the snapshot
func (s *Snapshot) GetCFOpt(cf *ColumnFamily, key []byte, ro *ReadOptions) ([]byte, error) {
	pinned, err := s.readOptions("snapshot_get", ro)
	if err != nil {
		return nil, err
	}
	return s.parent.GetCFOpt(cf, key, pinned)
}

// Iterator returns a cursor over the default column family at the snapshot
func (s *Snapshot) Iterator(ro *ReadOptions) (*Iterator, error) {
	return s.IteratorCF(nil, ro)
}

// IteratorCF returns a cursor over cf at the snapshot
func (s *Snapshot) IteratorCF(cf *ColumnFamily, ro *ReadOptions) (*Iterator, error) {
	pinned, err := s.readOptions("snapshot_iterator", ro)
	if err != nil {
		return nil, err
	}
	return s.parent.IteratorCF(cf, pinned)
}
