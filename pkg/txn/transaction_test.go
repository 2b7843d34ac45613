package txn

import (
	"errors"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/dd0wney/cluso-txkv/pkg/engine"
)

func TestTransaction_PutGetBeforeCommit(t *testing.T) {
	_, eng, cleanup := setupTestEngine(t, nil)
	defer cleanup()

	tx := begin(t, eng, nil)
	defer tx.Close()

	if err := tx.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	got, err := tx.Get([]byte("k"))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	expectValue(t, got, "v")

	got, err = tx.Get([]byte("absent"))
	if err != nil || got != nil {
		t.Errorf("absent key: got (%q, %v), want (nil, nil)", got, err)
	}
}

func TestTransaction_NoDirtyReads(t *testing.T) {
	_, eng, cleanup := setupTestEngine(t, nil)
	defer cleanup()

	tx1 := begin(t, eng, nil)
	defer tx1.Close()
	tx1.Put([]byte("k1"), []byte("v1"))

	tx2 := begin(t, eng, nil)
	defer tx2.Close()
	got, err := tx2.Get([]byte("k1"))
	if err != nil {
		t.Fatalf("tx2 Get failed: %v", err)
	}
	if got != nil {
		t.Errorf("tx2 read uncommitted data: %q", got)
	}

	if err := tx1.Commit(); err != nil {
		t.Fatalf("tx1 Commit failed: %v", err)
	}

	tx3 := begin(t, eng, nil)
	defer tx3.Close()
	got, _ = tx3.Get([]byte("k1"))
	expectValue(t, got, "v1")
}

func TestTransaction_GetForUpdateScenario(t *testing.T) {
	e, eng, cleanup := setupTestEngine(t, nil)
	defer cleanup()

	tx1 := begin(t, eng, nil)
	tx1.Put([]byte("k1"), []byte("v1"))
	tx1.Put([]byte("k2"), []byte("v2"))
	if err := tx1.Commit(); err != nil {
		t.Fatalf("tx1 Commit failed: %v", err)
	}
	tx1.Close()

	tx2 := begin(t, eng, nil)
	defer tx2.Close()
	got, err := tx2.GetForUpdate([]byte("k1"))
	if err != nil {
		t.Fatalf("GetForUpdate failed: %v", err)
	}
	expectValue(t, got, "v1")

	err = e.Put(nil, nil, []byte("k1"), []byte("v2"))
	if !errors.Is(err, engine.ErrLockConflict) && !errors.Is(err, engine.ErrLockTimeout) {
		t.Fatalf("external write should fail while locked, got %v", err)
	}

	if err := tx2.Put([]byte("k1"), []byte("v3")); err != nil {
		t.Fatalf("tx2 Put failed: %v", err)
	}
	if err := tx2.Commit(); err != nil {
		t.Fatalf("tx2 Commit failed: %v", err)
	}

	got, _ = e.Get(nil, nil, []byte("k1"))
	expectValue(t, got, "v3")
}

func TestTransaction_LockedKeyNeverDoubleCommits(t *testing.T) {
	_, eng, cleanup := setupTestEngine(t, nil)
	defer cleanup()

	a := begin(t, eng, noWait())
	defer a.Close()
	b := begin(t, eng, noWait())
	defer b.Close()

	if _, err := b.GetForUpdate([]byte("k")); err != nil {
		t.Fatalf("b GetForUpdate failed: %v", err)
	}

	putErr := a.Put([]byte("k"), []byte("a"))
	var commitErr error
	if putErr == nil {
		commitErr = a.Commit()
	}
	if putErr == nil && commitErr == nil {
		t.Fatal("a wrote a key locked by b")
	}
	if !errors.Is(putErr, ErrLockConflict) {
		t.Errorf("Expected ErrLockConflict, got %v", putErr)
	}
}

func TestTransaction_LockTimeoutKinds(t *testing.T) {
	_, eng, cleanup := setupTestEngine(t, nil)
	defer cleanup()

	holder := begin(t, eng, nil)
	defer holder.Close()
	holder.Put([]byte("k"), []byte("v"))

	tests := []struct {
		name    string
		timeout int64
		want    error
	}{
		{"zero fails immediately", 0, ErrLockConflict},
		{"positive waits then times out", 25, ErrLockTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := begin(t, eng, &TransactionOptions{LockTimeout: tt.timeout})
			defer tx.Close()

			start := time.Now()
			_, err := tx.GetForUpdate([]byte("k"))
			if !errors.Is(err, tt.want) {
				t.Fatalf("Expected %v, got %v", tt.want, err)
			}
			if elapsed := time.Since(start); elapsed < time.Duration(tt.timeout)*time.Millisecond {
				t.Errorf("returned after %v, before the %dms timeout", elapsed, tt.timeout)
			}
			if tx.State() != StateOpen {
				t.Errorf("lock failure should leave the transaction open, got %v", tx.State())
			}
		})
	}

	t.Run("negative blocks until release", func(t *testing.T) {
		tx := begin(t, eng, &TransactionOptions{LockTimeout: -1})
		defer tx.Close()

		done := make(chan error, 1)
		go func() {
			_, err := tx.GetForUpdate([]byte("k"))
			done <- err
		}()

		select {
		case err := <-done:
			t.Fatalf("returned before release: %v", err)
		case <-time.After(50 * time.Millisecond):
		}

		holder.Rollback()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Expected lock after release, got %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("blocked GetForUpdate never returned")
		}
	})
}

func TestTransaction_NilOptionsUseEngineLockTimeout(t *testing.T) {
	tests := []struct {
		name    string
		timeout int64
		want    error
	}{
		{"zero fails immediately", 0, ErrLockConflict},
		{"positive waits then times out", 40, ErrLockTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, eng, cleanup := setupTestEngine(t, func(o *engine.Options) {
				o.TransactionLockTimeout = tt.timeout
			})
			defer cleanup()

			holder := begin(t, eng, nil)
			defer holder.Close()
			if _, err := holder.GetForUpdate([]byte("k")); err != nil {
				t.Fatalf("GetForUpdate failed: %v", err)
			}

			tx := begin(t, eng, nil)
			defer tx.Close()
			if tx.Name() == "" {
				t.Error("Expected a generated name with nil options")
			}

			start := time.Now()
			_, err := tx.GetForUpdate([]byte("k"))
			elapsed := time.Since(start)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Expected %v, got %v", tt.want, err)
			}
			if elapsed >= time.Duration(engine.DefaultLockTimeoutMs)*time.Millisecond {
				t.Errorf("waited %v, the built-in default instead of %dms", elapsed, tt.timeout)
			}
		})
	}
}

func TestTransaction_StateMachine(t *testing.T) {
	_, eng, cleanup := setupTestEngine(t, nil)
	defer cleanup()

	ops := map[string]func(tx *Transaction) error{
		"get":          func(tx *Transaction) error { _, err := tx.Get([]byte("k")); return err },
		"getForUpdate": func(tx *Transaction) error { _, err := tx.GetForUpdate([]byte("k")); return err },
		"put":          func(tx *Transaction) error { return tx.Put([]byte("k"), []byte("v")) },
		"merge":        func(tx *Transaction) error { return tx.Merge([]byte("k"), []byte("v")) },
		"delete":       func(tx *Transaction) error { return tx.Delete([]byte("k")) },
		"commit":       func(tx *Transaction) error { return tx.Commit() },
		"rollback":     func(tx *Transaction) error { return tx.Rollback() },
		"rollbackTo":   func(tx *Transaction) error { return tx.RollbackToSavepoint() },
		"setSnapshot":  func(tx *Transaction) error { return tx.SetSnapshot() },
		"snapshot":     func(tx *Transaction) error { _, err := tx.Snapshot(); return err },
		"iterator":     func(tx *Transaction) error { _, err := tx.Iterator(nil); return err },
	}

	finishers := map[string]func(tx *Transaction){
		"committed":   func(tx *Transaction) { tx.Commit() },
		"rolled back": func(tx *Transaction) { tx.Rollback() },
		"closed":      func(tx *Transaction) { tx.Close() },
	}

	for fname, finish := range finishers {
		for name, op := range ops {
			t.Run(fname+"/"+name, func(t *testing.T) {
				tx := begin(t, eng, nil)
				defer tx.Close()
				finish(tx)

				err := op(tx)
				if !errors.Is(err, ErrInvalidState) {
					t.Errorf("Expected ErrInvalidState, got %v", err)
				}
			})
		}
	}

	tx := begin(t, eng, nil)
	tx.Commit()
	tx.SetSavepoint()
	if tx.State() != StateCommitted {
		t.Errorf("SetSavepoint changed state to %v", tx.State())
	}
	tx.Close()
	tx.Close()
}

func TestTransaction_FailedCommitIsTerminal(t *testing.T) {
	e, eng, cleanup := setupTestEngine(t, nil)
	defer cleanup()

	e.Put(nil, nil, []byte("k"), []byte("v0"))

	tx := begin(t, eng, &TransactionOptions{SetSnapshot: true, LockTimeout: 100})
	defer tx.Close()

	e.Put(nil, nil, []byte("k"), []byte("external"))
	tx.Put([]byte("k"), []byte("mine"))

	err := tx.Commit()
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("Expected ErrConflict, got %v", err)
	}
	if !errors.Is(err, engine.ErrConflict) {
		t.Error("engine cause should stay reachable through errors.Is")
	}
	var txErr *Error
	if !errors.As(err, &txErr) || txErr.Kind != KindConflict || txErr.Op != "commit" {
		t.Errorf("unexpected error shape: %#v", err)
	}
	if tx.State() != StateRolledBack {
		t.Errorf("Expected RolledBack after failed commit, got %v", tx.State())
	}
	if e.NumLocks() != 0 {
		t.Errorf("failed commit left %d locks", e.NumLocks())
	}
	if !IsRetryable(err) {
		t.Error("conflicts should be retryable")
	}
}

func TestTransaction_DisjointCommitsUnion(t *testing.T) {
	e, eng, cleanup := setupTestEngine(t, nil)
	defer cleanup()

	a := begin(t, eng, nil)
	defer a.Close()
	b := begin(t, eng, nil)
	defer b.Close()

	a.Put([]byte("a1"), []byte("A"))
	b.Put([]byte("b1"), []byte("B"))
	a.Put([]byte("a2"), []byte("A"))

	if err := b.Commit(); err != nil {
		t.Fatalf("b Commit failed: %v", err)
	}
	if err := a.Commit(); err != nil {
		t.Fatalf("a Commit failed: %v", err)
	}

	for k, want := range map[string]string{"a1": "A", "a2": "A", "b1": "B"} {
		got, _ := e.Get(nil, nil, []byte(k))
		expectValue(t, got, want)
	}
}

func TestTransaction_Savepoint(t *testing.T) {
	_, eng, cleanup := setupTestEngine(t, nil)
	defer cleanup()

	tx := begin(t, eng, nil)
	defer tx.Close()

	if err := tx.RollbackToSavepoint(); !errors.Is(err, ErrNoSavepoint) {
		t.Errorf("Expected ErrNoSavepoint, got %v", err)
	}

	tx.Put([]byte("k1"), []byte("v1"))
	tx.SetSavepoint()
	tx.Put([]byte("k2"), []byte("v2"))
	tx.Put([]byte("k1"), []byte("changed"))
	if err := tx.RollbackToSavepoint(); err != nil {
		t.Fatalf("RollbackToSavepoint failed: %v", err)
	}

	got, _ := tx.Get([]byte("k1"))
	expectValue(t, got, "v1")
	if got, _ := tx.Get([]byte("k2")); got != nil {
		t.Errorf("k2 survived rollback to savepoint: %q", got)
	}
	if tx.State() != StateOpen {
		t.Errorf("rollback to savepoint should keep the transaction open, got %v", tx.State())
	}
}

func TestTransaction_SavepointReleasesLaterLocks(t *testing.T) {
	_, eng, cleanup := setupTestEngine(t, nil)
	defer cleanup()

	tx := begin(t, eng, noWait())
	defer tx.Close()
	tx.Put([]byte("early"), []byte("x"))
	tx.SetSavepoint()
	tx.Put([]byte("late"), []byte("x"))
	tx.RollbackToSavepoint()

	other := begin(t, eng, noWait())
	defer other.Close()
	if _, err := other.GetForUpdate([]byte("late")); err != nil {
		t.Errorf("lock taken after savepoint should be released, got %v", err)
	}
	if _, err := other.GetForUpdate([]byte("early")); !errors.Is(err, ErrLockConflict) {
		t.Errorf("lock taken before savepoint should be kept, got %v", err)
	}
}

func TestTransaction_CloseReleasesLocks(t *testing.T) {
	_, eng, cleanup := setupTestEngine(t, nil)
	defer cleanup()

	tx := begin(t, eng, noWait())
	tx.Put([]byte("k"), []byte("v"))
	tx.Close()

	if tx.State() != StateRolledBack {
		t.Errorf("Close of open transaction should roll back, got %v", tx.State())
	}

	other := begin(t, eng, noWait())
	defer other.Close()
	if _, err := other.GetForUpdate([]byte("k")); err != nil {
		t.Errorf("lock should be free after Close, got %v", err)
	}
}

func TestTransaction_DroppedHandleReleasedByGC(t *testing.T) {
	e, eng, cleanup := setupTestEngine(t, nil)
	defer cleanup()

	func() {
		tx := begin(t, eng, noWait())
		tx.Put([]byte("k"), []byte("v"))
	}()

	deadline := time.Now().Add(5 * time.Second)
	for e.NumLocks() > 0 && time.Now().Before(deadline) {
		runtime.GC()
		time.Sleep(10 * time.Millisecond)
	}
	if e.NumLocks() != 0 {
		t.Fatal("dropped transaction still holds its lock")
	}

	other := begin(t, eng, noWait())
	defer other.Close()
	if err := other.Put([]byte("k"), []byte("w")); err != nil {
		t.Errorf("lock should be acquirable after drop, got %v", err)
	}
}

func TestTransaction_HandleDestroyedExactlyOnce(t *testing.T) {
	_, base, cleanup := setupTestEngine(t, nil)
	defer cleanup()

	for _, finish := range []string{"commit", "rollback", "open", "failed"} {
		t.Run(finish, func(t *testing.T) {
			var destroyed atomic.Int32
			eng := countingEngine{Engine: base, destroyed: &destroyed}

			tx := begin(t, eng, nil)
			tx.Put([]byte(finish), []byte("v"))
			switch finish {
			case "commit":
				tx.Commit()
			case "rollback":
				tx.Rollback()
			case "failed":
				tx.RollbackToSavepoint()
			}
			tx.Close()
			tx.Close()

			if n := destroyed.Load(); n != 1 {
				t.Errorf("handle destroyed %d times, want 1", n)
			}
		})
	}
}

func TestTransaction_AllocationFailed(t *testing.T) {
	_, base, cleanup := setupTestEngine(t, func(o *engine.Options) { o.MaxActiveTransactions = 1 })
	defer cleanup()

	first := begin(t, base, nil)
	defer first.Close()

	_, err := Begin(base, nil, nil, nil)
	if !errors.Is(err, ErrAllocationFailed) {
		t.Fatalf("Expected ErrAllocationFailed, got %v", err)
	}
	if !errors.Is(err, engine.ErrTooManyTransactions) {
		t.Errorf("engine cause lost: %v", err)
	}

	var destroyed atomic.Int32
	failing := countingEngine{Engine: base, destroyed: &destroyed, failBegin: engine.ErrClosed}
	if _, err := Begin(failing, nil, nil, nil); !errors.Is(err, ErrAllocationFailed) {
		t.Errorf("Expected ErrAllocationFailed, got %v", err)
	}
}

func TestTransaction_Naming(t *testing.T) {
	_, eng, cleanup := setupTestEngine(t, nil)
	defer cleanup()

	named := begin(t, eng, &TransactionOptions{Name: "transfer", LockTimeout: 10})
	defer named.Close()
	if named.Name() != "transfer" {
		t.Errorf("Name = %q, want transfer", named.Name())
	}

	anon := begin(t, eng, nil)
	defer anon.Close()
	if _, err := uuid.Parse(anon.Name()); err != nil {
		t.Errorf("unnamed transaction should get a UUID, got %q", anon.Name())
	}
	if anon.ID() == named.ID() {
		t.Error("transactions share an id")
	}
}

func TestTransaction_MergeAndColumnFamilies(t *testing.T) {
	e, eng, cleanup := setupTestEngine(t, nil)
	defer cleanup()

	cf, err := e.CreateColumnFamily("counters")
	if err != nil {
		t.Fatalf("CreateColumnFamily failed: %v", err)
	}

	tx := begin(t, eng, nil)
	defer tx.Close()

	tx.PutCF(cf, []byte("k"), []byte("a"))
	tx.MergeCF(cf, []byte("k"), []byte("b"))
	tx.Put([]byte("k"), []byte("default"))

	got, _ := tx.GetCF(cf, []byte("k"))
	expectValue(t, got, "ab")
	got, _ = tx.GetCF(nil, []byte("k"))
	expectValue(t, got, "default")

	tx.DeleteCF(cf, []byte("k"))
	if got, _ := tx.GetCF(cf, []byte("k")); got != nil {
		t.Errorf("deleted key visible: %q", got)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
}

func TestTransaction_MergeWithoutOperator(t *testing.T) {
	_, eng, cleanup := setupTestEngine(t, func(o *engine.Options) { o.MergeOperator = nil })
	defer cleanup()

	tx := begin(t, eng, nil)
	defer tx.Close()

	err := tx.Merge([]byte("k"), []byte("v"))
	if !errors.Is(err, ErrEngine) || !errors.Is(err, engine.ErrMergeOperatorNotSet) {
		t.Errorf("Expected engine error wrapping ErrMergeOperatorNotSet, got %v", err)
	}
}

func TestTransaction_Iterator(t *testing.T) {
	e, eng, cleanup := setupTestEngine(t, nil)
	defer cleanup()

	e.Put(nil, nil, []byte("a"), []byte("1"))
	e.Put(nil, nil, []byte("c"), []byte("3"))

	tx := begin(t, eng, nil)
	defer tx.Close()
	tx.Put([]byte("b"), []byte("2"))
	tx.Delete([]byte("c"))

	it, err := tx.Iterator(nil)
	if err != nil {
		t.Fatalf("Iterator failed: %v", err)
	}
	defer it.Close()

	var keys []string
	for it.SeekToFirst(); it.Valid(); it.Next() {
		keys = append(keys, string(it.Key())+"="+string(it.Value()))
	}
	if len(keys) != 2 || keys[0] != "a=1" || keys[1] != "b=2" {
		t.Errorf("iteration = %v", keys)
	}
}
