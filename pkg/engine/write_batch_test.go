package engine

import (
	"bytes"
	"errors"
	"testing"
)

func TestWriteBatch_EncodeDecode(t *testing.T) {
	cf := newColumnFamily(7, "users")

	b := NewWriteBatch()
	b.Put([]byte("a"), []byte("1"))
	b.MergeCF(cf, []byte("b"), []byte("2"))
	b.DeleteCF(cf, []byte("c"))
	b.PutCF(nil, []byte("d"), []byte{})

	seq, decoded, err := decodeWriteBatch(b.encode(42))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if seq != 42 {
		t.Errorf("seq = %d, want 42", seq)
	}
	if decoded.Count() != 4 {
		t.Fatalf("Count = %d, want 4", decoded.Count())
	}

	for i, rec := range decoded.records {
		orig := b.records[i]
		if rec.kind != orig.kind || rec.cfID != orig.cfID ||
			!bytes.Equal(rec.key, orig.key) || !bytes.Equal(rec.value, orig.value) {
			t.Errorf("record %d: got %+v, want %+v", i, rec, orig)
		}
	}
	if decoded.records[1].cfID != 7 {
		t.Errorf("Expected cf id 7, got %d", decoded.records[1].cfID)
	}
}

func TestWriteBatch_DecodeCorrupt(t *testing.T) {
	b := NewWriteBatch()
	b.Put([]byte("key"), []byte("value"))
	data := b.encode(1)

	for _, n := range []int{0, 5, 12, 20, len(data) - 1} {
		if _, _, err := decodeWriteBatch(data[:n]); !errors.Is(err, ErrCorruptBatch) {
			t.Errorf("decode of %d bytes: expected ErrCorruptBatch, got %v", n, err)
		}
	}

	bad := append([]byte(nil), data...)
	bad[12] = 9
	if _, _, err := decodeWriteBatch(bad); !errors.Is(err, ErrCorruptBatch) {
		t.Errorf("Expected ErrCorruptBatch for bad kind, got %v", err)
	}
}

func TestWriteBatch_CopiesInput(t *testing.T) {
	key := []byte("key")
	val := []byte("val")
	b := NewWriteBatch()
	b.Put(key, val)
	key[0], val[0] = 'X', 'X'

	if string(b.records[0].key) != "key" || string(b.records[0].value) != "val" {
		t.Errorf("batch aliased caller buffers: %+v", b.records[0])
	}
}

func TestWriteBatch_TruncateAndSize(t *testing.T) {
	b := NewWriteBatch()
	b.Put([]byte("ab"), []byte("cd"))
	b.Put([]byte("ef"), []byte("gh"))
	if b.Size() != 8 {
		t.Errorf("Size = %d, want 8", b.Size())
	}
	b.truncate(1)
	if b.Count() != 1 || b.Size() != 4 {
		t.Errorf("after truncate: count=%d size=%d", b.Count(), b.Size())
	}
	b.Clear()
	if b.Count() != 0 || b.Size() != 0 {
		t.Errorf("after clear: count=%d size=%d", b.Count(), b.Size())
	}
}
