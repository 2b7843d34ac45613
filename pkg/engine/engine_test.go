package engine

import (
	"errors"
	"path/filepath"
	"reflect"
	"testing"
)

func TestEngine_PutGetDelete(t *testing.T) {
	e, _, cleanup := setupTestEngine(t, nil)
	defer cleanup()

	if err := e.Put(nil, nil, []byte("k"), []byte("v")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	expectValue(t, mustGet(t, e, nil, "k"), "v")

	if err := e.Delete(nil, nil, []byte("k")); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if val := mustGet(t, e, nil, "k"); val != nil {
		t.Errorf("Expected nil after delete, got %q", val)
	}
	if val := mustGet(t, e, nil, "missing"); val != nil {
		t.Errorf("Expected nil for missing key, got %q", val)
	}
}

func TestEngine_Merge(t *testing.T) {
	e, _, cleanup := setupTestEngine(t, nil)
	defer cleanup()

	e.Put(nil, nil, []byte("k"), []byte("a"))
	e.Merge(nil, nil, []byte("k"), []byte("b"))
	e.Merge(nil, nil, []byte("k"), []byte("c"))
	expectValue(t, mustGet(t, e, nil, "k"), "abc")

	// second read is served from the merge cache
	expectValue(t, mustGet(t, e, nil, "k"), "abc")
	hits, _, size := e.MergeCacheStats()
	if hits == 0 || size != 1 {
		t.Errorf("Expected a merge cache hit, hits=%d size=%d", hits, size)
	}

	e.Merge(nil, nil, []byte("k"), []byte("d"))
	expectValue(t, mustGet(t, e, nil, "k"), "abcd")
}

func TestEngine_MergeWithoutOperator(t *testing.T) {
	e, _, cleanup := setupTestEngine(t, func(o *Options) { o.MergeOperator = nil })
	defer cleanup()

	err := e.Merge(nil, nil, []byte("k"), []byte("v"))
	if !errors.Is(err, ErrMergeOperatorNotSet) {
		t.Errorf("Expected ErrMergeOperatorNotSet, got %v", err)
	}
}

func TestEngine_Snapshot(t *testing.T) {
	e, _, cleanup := setupTestEngine(t, nil)
	defer cleanup()

	e.Put(nil, nil, []byte("k"), []byte("v1"))
	snap := e.GetSnapshot()
	e.Put(nil, nil, []byte("k"), []byte("v2"))

	val, err := e.Get(&ReadOptions{Snapshot: snap}, nil, []byte("k"))
	if err != nil {
		t.Fatalf("Get at snapshot failed: %v", err)
	}
	expectValue(t, val, "v1")
	expectValue(t, mustGet(t, e, nil, "k"), "v2")

	if e.NumLiveSnapshots() != 1 {
		t.Errorf("Expected 1 live snapshot, got %d", e.NumLiveSnapshots())
	}
	snap.Release()
	snap.Release()
	if e.NumLiveSnapshots() != 0 {
		t.Errorf("Expected 0 live snapshots, got %d", e.NumLiveSnapshots())
	}

	if _, err := e.Get(&ReadOptions{Snapshot: snap}, nil, []byte("k")); !errors.Is(err, ErrSnapshotReleased) {
		t.Errorf("Expected ErrSnapshotReleased, got %v", err)
	}
}

func TestEngine_CompactRespectsSnapshots(t *testing.T) {
	e, _, cleanup := setupTestEngine(t, nil)
	defer cleanup()

	e.Put(nil, nil, []byte("k"), []byte("v1"))
	e.Put(nil, nil, []byte("k"), []byte("v2"))
	snap := e.GetSnapshot()
	e.Put(nil, nil, []byte("k"), []byte("v3"))
	e.Put(nil, nil, []byte("k"), []byte("v4"))

	if removed := e.Compact(); removed != 1 {
		t.Errorf("Expected 1 version pruned below the snapshot, got %d", removed)
	}
	val, _ := e.Get(&ReadOptions{Snapshot: snap}, nil, []byte("k"))
	expectValue(t, val, "v2")

	snap.Release()
	if removed := e.Compact(); removed != 2 {
		t.Errorf("Expected 2 versions pruned after release, got %d", removed)
	}
	expectValue(t, mustGet(t, e, nil, "k"), "v4")
}

func TestEngine_ColumnFamilies(t *testing.T) {
	e, _, cleanup := setupTestEngine(t, nil)
	defer cleanup()

	users, err := e.CreateColumnFamily("users")
	if err != nil {
		t.Fatalf("CreateColumnFamily failed: %v", err)
	}
	if _, err := e.CreateColumnFamily("users"); !errors.Is(err, ErrColumnFamilyExists) {
		t.Errorf("Expected ErrColumnFamilyExists, got %v", err)
	}

	e.Put(nil, users, []byte("k"), []byte("in-users"))
	e.Put(nil, nil, []byte("k"), []byte("in-default"))
	expectValue(t, mustGet(t, e, users, "k"), "in-users")
	expectValue(t, mustGet(t, e, e.DefaultColumnFamily(), "k"), "in-default")

	if got := e.ColumnFamilies(); !reflect.DeepEqual(got, []string{"default", "users"}) {
		t.Errorf("ColumnFamilies = %v", got)
	}

	if err := e.DropColumnFamily(DefaultColumnFamilyName); !errors.Is(err, ErrInvalidColumnFamily) {
		t.Errorf("Expected ErrInvalidColumnFamily dropping default, got %v", err)
	}
	if err := e.DropColumnFamily("users"); err != nil {
		t.Fatalf("DropColumnFamily failed: %v", err)
	}
	if err := e.Put(nil, users, []byte("k"), []byte("x")); !errors.Is(err, ErrColumnFamilyDropped) {
		t.Errorf("Expected ErrColumnFamilyDropped, got %v", err)
	}
	if _, err := e.ColumnFamily("users"); !errors.Is(err, ErrColumnFamilyNotFound) {
		t.Errorf("Expected ErrColumnFamilyNotFound, got %v", err)
	}
}

func TestEngine_ReplayAfterReopen(t *testing.T) {
	e, dataDir, _ := setupTestEngine(t, nil)

	users, _ := e.CreateColumnFamily("users")
	temp, _ := e.CreateColumnFamily("temp")
	e.Put(&WriteOptions{Sync: true}, nil, []byte("a"), []byte("1"))
	e.Put(nil, users, []byte("alice"), []byte("admin"))
	e.Merge(nil, nil, []byte("a"), []byte("+"))
	e.Put(nil, temp, []byte("x"), []byte("y"))
	e.DropColumnFamily("temp")
	e.Put(&WriteOptions{DisableWAL: true}, nil, []byte("volatile"), []byte("v"))
	seq := e.LatestSequence()
	e.Close()

	opts := DefaultOptions()
	opts.MergeOperator = concatOperator
	reopened, err := Open(dataDir, opts)
	if err != nil {
		t.Fatalf("Failed to reopen: %v", err)
	}
	defer reopened.Close()

	expectValue(t, mustGet(t, reopened, nil, "a"), "1+")
	if val := mustGet(t, reopened, nil, "volatile"); val != nil {
		t.Errorf("Unlogged write survived reopen: %q", val)
	}

	cf, err := reopened.ColumnFamily("users")
	if err != nil {
		t.Fatalf("users column family lost: %v", err)
	}
	expectValue(t, mustGet(t, reopened, cf, "alice"), "admin")

	if _, err := reopened.ColumnFamily("temp"); err == nil {
		t.Error("dropped column family came back after reopen")
	}
	if reopened.LatestSequence() != seq-1 {
		t.Errorf("LatestSequence = %d, want %d", reopened.LatestSequence(), seq-1)
	}

	next, err := reopened.CreateColumnFamily("next")
	if err != nil {
		t.Fatalf("CreateColumnFamily after reopen: %v", err)
	}
	if next.ID() <= cf.ID() {
		t.Errorf("column family id reused: %d <= %d", next.ID(), cf.ID())
	}
}

func TestEngine_OpenFlags(t *testing.T) {
	dataDir := filepath.Join(t.TempDir(), "db")

	opts := DefaultOptions()
	opts.CreateIfMissing = false
	if _, err := Open(dataDir, opts); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	e, err := Open(dataDir, DefaultOptions())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	e.Close()

	opts = DefaultOptions()
	opts.ErrorIfExists = true
	if _, err := Open(dataDir, opts); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("Expected ErrAlreadyExists, got %v", err)
	}
}

func TestEngine_CompressedWAL(t *testing.T) {
	e, dataDir, _ := setupTestEngine(t, func(o *Options) { o.WALCompression = true })
	e.Put(nil, nil, []byte("k"), []byte("compressed"))
	e.Close()

	opts := DefaultOptions()
	opts.WALCompression = true
	reopened, err := Open(dataDir, opts)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	expectValue(t, mustGet(t, reopened, nil, "k"), "compressed")
}

func TestEngine_InMemory(t *testing.T) {
	e, err := Open("", nil)
	if err != nil {
		t.Fatalf("Open in memory: %v", err)
	}
	e.Put(nil, nil, []byte("k"), []byte("v"))
	expectValue(t, mustGet(t, e, nil, "k"), "v")
	e.Close()

	if err := e.Put(nil, nil, []byte("k"), []byte("v")); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}

func TestEngine_Checkpoint(t *testing.T) {
	e, _, cleanup := setupTestEngine(t, nil)
	defer cleanup()

	users, _ := e.CreateColumnFamily("users")
	e.Put(nil, nil, []byte("a"), []byte("1"))
	e.Merge(nil, nil, []byte("a"), []byte("2"))
	e.Put(nil, users, []byte("bob"), []byte("x"))
	e.Put(nil, nil, []byte("gone"), []byte("x"))
	e.Delete(nil, nil, []byte("gone"))

	cpDir := filepath.Join(t.TempDir(), "checkpoint")
	if err := e.CreateCheckpoint(cpDir); err != nil {
		t.Fatalf("CreateCheckpoint failed: %v", err)
	}
	if err := e.CreateCheckpoint(cpDir); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("Expected ErrAlreadyExists for existing checkpoint, got %v", err)
	}

	// writes after the checkpoint are not part of it
	e.Put(nil, nil, []byte("later"), []byte("x"))

	names, err := ListColumnFamilies(cpDir)
	if err != nil {
		t.Fatalf("ListColumnFamilies failed: %v", err)
	}
	if !reflect.DeepEqual(names, []string{"default", "users"}) {
		t.Errorf("ListColumnFamilies = %v", names)
	}

	cp, err := Open(cpDir, &Options{MergeOperator: concatOperator})
	if err != nil {
		t.Fatalf("Open checkpoint failed: %v", err)
	}
	defer cp.Close()

	expectValue(t, mustGet(t, cp, nil, "a"), "12")
	cpUsers, err := cp.ColumnFamily("users")
	if err != nil {
		t.Fatalf("users missing from checkpoint: %v", err)
	}
	expectValue(t, mustGet(t, cp, cpUsers, "bob"), "x")
	for _, k := range []string{"gone", "later"} {
		if val := mustGet(t, cp, nil, k); val != nil {
			t.Errorf("checkpoint should not contain %s, got %q", k, val)
		}
	}
}

func TestListColumnFamilies_Missing(t *testing.T) {
	if _, err := ListColumnFamilies(t.TempDir()); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestEngine_Iterator(t *testing.T) {
	e, _, cleanup := setupTestEngine(t, nil)
	defer cleanup()

	for _, k := range []string{"c", "a", "e", "b", "d"} {
		e.Put(nil, nil, []byte(k), []byte(k))
	}
	e.Delete(nil, nil, []byte("d"))

	it := e.NewIterator(nil, nil)
	defer it.Close()
	if got := collect(it); !reflect.DeepEqual(got, []string{"a=a", "b=b", "c=c", "e=e"}) {
		t.Errorf("iteration = %v", got)
	}

	it.Seek([]byte("bb"))
	expectValue(t, it.Key(), "c")
	it.SeekForPrev([]byte("bb"))
	expectValue(t, it.Key(), "b")
	it.Prev()
	expectValue(t, it.Key(), "a")
	it.Prev()
	if it.Valid() {
		t.Error("Expected iterator to be invalid before first key")
	}
	it.SeekToLast()
	expectValue(t, it.Key(), "e")

	bounded := e.NewIterator(&ReadOptions{IterateLowerBound: []byte("b"), IterateUpperBound: []byte("e")}, nil)
	if got := collect(bounded); !reflect.DeepEqual(got, []string{"b=b", "c=c"}) {
		t.Errorf("bounded iteration = %v", got)
	}
	if bounded.Err() != nil {
		t.Errorf("unexpected iterator error: %v", bounded.Err())
	}
}
