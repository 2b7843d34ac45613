package engine

import (
	"sync"
	"time"
)

type lockKey struct {
	cf  uint32
	key string
}

type lockEntry struct {
	exclusive bool
	holders   map[uint64]struct{}
}

// lockChange records what an acquisition did so it can be undone
type lockChange int

const (
	lockUnchanged lockChange = iota
	lockAcquired
	lockUpgraded
)

// lockWaitOptions describes how long an acquisition may block
type lockWaitOptions struct {
	timeout        time.Duration // negative waits forever
	detectDeadlock bool
}

// lockManager is a row lock table with shared and exclusive modes. Waiters
// block on a broadcast channel that is replaced whenever a lock is released.
type lockManager struct {
	mu       sync.Mutex
	locks    map[lockKey]*lockEntry
	maxLocks int
	changed  chan struct{}

	// waitFor maps a blocked transaction to the holders it waits on
	waitFor map[uint64]map[uint64]struct{}

	onWait func(time.Duration)
	onFail func(reason string)
}

func newLockManager(maxLocks int) *lockManager {
	return &lockManager{
		locks:    make(map[lockKey]*lockEntry),
		maxLocks: maxLocks,
		changed:  make(chan struct{}),
		waitFor:  make(map[uint64]map[uint64]struct{}),
	}
}

// tryGrant grants the lock if compatible. Caller holds lm.mu.
func (lm *lockManager) tryGrant(txnID uint64, k lockKey, exclusive bool) (lockChange, []uint64, error) {
	entry, ok := lm.locks[k]
	if !ok {
		if lm.maxLocks >= 0 && len(lm.locks) >= lm.maxLocks {
			return lockUnchanged, nil, ErrLockLimit
		}
		lm.locks[k] = &lockEntry{
			exclusive: exclusive,
			holders:   map[uint64]struct{}{txnID: {}},
		}
		return lockAcquired, nil, nil
	}

	_, held := entry.holders[txnID]
	if held && (entry.exclusive || !exclusive) {
		return lockUnchanged, nil, nil
	}

	if !exclusive && !entry.exclusive {
		entry.holders[txnID] = struct{}{}
		return lockAcquired, nil, nil
	}

	if held && len(entry.holders) == 1 {
		entry.exclusive = true
		return lockUpgraded, nil, nil
	}

	blockers := make([]uint64, 0, len(entry.holders))
	for id := range entry.holders {
		if id != txnID {
			blockers = append(blockers, id)
		}
	}
	return lockUnchanged, blockers, nil
}

// acquire takes a shared or exclusive lock on k for txnID
func (lm *lockManager) acquire(txnID uint64, k lockKey, exclusive bool, opts lockWaitOptions) (lockChange, error) {
	var (
		start    time.Time
		deadline <-chan time.Time
		waited   bool
	)

	for {
		lm.mu.Lock()
		change, blockers, err := lm.tryGrant(txnID, k, exclusive)
		if err != nil {
			lm.mu.Unlock()
			lm.fail("limit")
			return lockUnchanged, err
		}
		if blockers == nil {
			delete(lm.waitFor, txnID)
			lm.mu.Unlock()
			if waited && lm.onWait != nil {
				lm.onWait(time.Since(start))
			}
			return change, nil
		}

		if opts.timeout == 0 {
			lm.mu.Unlock()
			lm.fail("conflict")
			return lockUnchanged, ErrLockConflict
		}

		if opts.detectDeadlock && lm.wouldDeadlock(txnID, blockers) {
			delete(lm.waitFor, txnID)
			lm.mu.Unlock()
			lm.fail("deadlock")
			return lockUnchanged, ErrDeadlock
		}

		waiting := make(map[uint64]struct{}, len(blockers))
		for _, id := range blockers {
			waiting[id] = struct{}{}
		}
		lm.waitFor[txnID] = waiting
		changed := lm.changed
		lm.mu.Unlock()

		if !waited {
			waited = true
			start = time.Now()
			if opts.timeout > 0 {
				timer := time.NewTimer(opts.timeout)
				defer timer.Stop()
				deadline = timer.C
			}
		}

		select {
		case <-changed:
		case <-deadline:
			lm.mu.Lock()
			delete(lm.waitFor, txnID)
			lm.mu.Unlock()
			if lm.onWait != nil {
				lm.onWait(time.Since(start))
			}
			lm.fail("timeout")
			return lockUnchanged, ErrLockTimeout
		}
	}
}

// wouldDeadlock reports whether txnID waiting on blockers closes a cycle in
// the wait-for graph. Caller holds lm.mu.
func (lm *lockManager) wouldDeadlock(txnID uint64, blockers []uint64) bool {
	visited := make(map[uint64]bool)
	stack := append([]uint64(nil), blockers...)
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if id == txnID {
			return true
		}
		if visited[id] {
			continue
		}
		visited[id] = true
		for next := range lm.waitFor[id] {
			stack = append(stack, next)
		}
	}
	return false
}

// release drops txnID's hold on k
func (lm *lockManager) release(txnID uint64, k lockKey) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.releaseLocked(txnID, k)
	lm.broadcast()
}

func (lm *lockManager) releaseLocked(txnID uint64, k lockKey) {
	entry, ok := lm.locks[k]
	if !ok {
		return
	}
	delete(entry.holders, txnID)
	if len(entry.holders) == 0 {
		delete(lm.locks, k)
	}
}

// downgrade turns an exclusive hold back into a shared one
func (lm *lockManager) downgrade(txnID uint64, k lockKey) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	if entry, ok := lm.locks[k]; ok {
		if _, held := entry.holders[txnID]; held {
			entry.exclusive = false
		}
	}
	lm.broadcast()
}

// releaseAll drops every lock in keys held by txnID
func (lm *lockManager) releaseAll(txnID uint64, keys []lockKey) {
	if len(keys) == 0 {
		return
	}
	lm.mu.Lock()
	defer lm.mu.Unlock()
	for _, k := range keys {
		lm.releaseLocked(txnID, k)
	}
	delete(lm.waitFor, txnID)
	lm.broadcast()
}

// broadcast wakes every waiter. Caller holds lm.mu.
func (lm *lockManager) broadcast() {
	close(lm.changed)
	lm.changed = make(chan struct{})
}

func (lm *lockManager) fail(reason string) {
	if lm.onFail != nil {
		lm.onFail(reason)
	}
}

func (lm *lockManager) numLocks() int {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return len(lm.locks)
}

func toDuration(ms int64) time.Duration {
	if ms < 0 {
		return -1
	}
	return time.Duration(ms) * time.Millisecond
}
