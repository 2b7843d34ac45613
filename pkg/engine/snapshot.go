package engine

import (
	"sync"
	"sync/atomic"
)

// Snapshot is a read view pinned at one committed sequence number. Versions
// visible to a live snapshot are never pruned.
type Snapshot struct {
	seq      uint64
	list     *snapshotList
	released atomic.Bool
}

// Sequence returns the committed sequence the snapshot observes
func (s *Snapshot) Sequence() uint64 {
	return s.seq
}

// Released reports whether Release has been called
func (s *Snapshot) Released() bool {
	return s.released.Load()
}

// Release returns the snapshot to the engine. Later calls are no-ops.
func (s *Snapshot) Release() {
	if s.released.CompareAndSwap(false, true) {
		s.list.release(s.seq)
	}
}

// Retain returns a second, independently released handle at the same sequence
func (s *Snapshot) Retain() *Snapshot {
	return s.list.acquire(s.seq)
}

// snapshotList reference-counts live snapshots by sequence
type snapshotList struct {
	mu   sync.Mutex
	refs map[uint64]int
	live int
}

func newSnapshotList() *snapshotList {
	return &snapshotList{refs: make(map[uint64]int)}
}

func (l *snapshotList) acquire(seq uint64) *Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refs[seq]++
	l.live++
	return &Snapshot{seq: seq, list: l}
}

// acquireLatest pins the value of last at the moment of registration, so a
// concurrent prune either sees the new snapshot or uses a horizon at or
// below its sequence.
func (l *snapshotList) acquireLatest(last *atomic.Uint64) *Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	seq := last.Load()
	l.refs[seq]++
	l.live++
	return &Snapshot{seq: seq, list: l}
}

func (l *snapshotList) release(seq uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.refs[seq] <= 1 {
		delete(l.refs, seq)
	} else {
		l.refs[seq]--
	}
	l.live--
}

// horizon returns the highest sequence no live snapshot can see past: the
// smaller of last and the oldest live snapshot.
func (l *snapshotList) horizon(last *atomic.Uint64) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	h := last.Load()
	for seq := range l.refs {
		if seq < h {
			h = seq
		}
	}
	return h
}

func (l *snapshotList) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.live
}
