package engine

import (
	"encoding/binary"
	"fmt"
)

type batchRecord struct {
	kind  valueKind
	cfID  uint32
	key   []byte
	value []byte
}

// WriteBatch collects writes that are applied atomically. Keys and values are
// copied on insertion.
type WriteBatch struct {
	records []batchRecord
	size    int
}

// NewWriteBatch creates an empty batch
func NewWriteBatch() *WriteBatch {
	return &WriteBatch{}
}

func cfID(cf *ColumnFamily) uint32 {
	if cf == nil {
		return defaultColumnFamilyID
	}
	return cf.id
}

func (b *WriteBatch) add(kind valueKind, id uint32, key, value []byte) {
	rec := batchRecord{
		kind: kind,
		cfID: id,
		key:  append([]byte(nil), key...),
	}
	if kind != kindDelete {
		rec.value = append([]byte{}, value...)
	}
	b.records = append(b.records, rec)
	b.size += len(key) + len(value)
}

// Put stores value under key in the default column family
func (b *WriteBatch) Put(key, value []byte) {
	b.add(kindPut, defaultColumnFamilyID, key, value)
}

// PutCF stores value under key in cf. A nil cf is the default column family.
func (b *WriteBatch) PutCF(cf *ColumnFamily, key, value []byte) {
	b.add(kindPut, cfID(cf), key, value)
}

// Merge records a merge operand for key in the default column family
func (b *WriteBatch) Merge(key, value []byte) {
	b.add(kindMerge, defaultColumnFamilyID, key, value)
}

// MergeCF records a merge operand for key in cf
func (b *WriteBatch) MergeCF(cf *ColumnFamily, key, value []byte) {
	b.add(kindMerge, cfID(cf), key, value)
}

// Delete removes key from the default column family
func (b *WriteBatch) Delete(key []byte) {
	b.add(kindDelete, defaultColumnFamilyID, key, nil)
}

// DeleteCF removes key from cf
func (b *WriteBatch) DeleteCF(cf *ColumnFamily, key []byte) {
	b.add(kindDelete, cfID(cf), key, nil)
}

// Count returns the number of records
func (b *WriteBatch) Count() int {
	return len(b.records)
}

// Size returns the key and value bytes held
func (b *WriteBatch) Size() int {
	return b.size
}

// Clear removes all records
func (b *WriteBatch) Clear() {
	b.records = nil
	b.size = 0
}

func (b *WriteBatch) truncate(n int) {
	for _, rec := range b.records[n:] {
		b.size -= len(rec.key) + len(rec.value)
	}
	b.records = b.records[:n]
}

func (b *WriteBatch) hasMerge() bool {
	for _, rec := range b.records {
		if rec.kind == kindMerge {
			return true
		}
	}
	return false
}

// encode serializes the batch with the sequence of its first record:
// [seq:8][count:4]{[kind:1][cf:4][klen:4][key][vlen:4][val]}
func (b *WriteBatch) encode(seq uint64) []byte {
	n := 12
	for _, rec := range b.records {
		n += 13 + len(rec.key) + len(rec.value)
	}

	buf := make([]byte, n)
	binary.LittleEndian.PutUint64(buf[0:8], seq)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(len(b.records)))

	off := 12
	for _, rec := range b.records {
		buf[off] = byte(rec.kind)
		binary.LittleEndian.PutUint32(buf[off+1:], rec.cfID)
		binary.LittleEndian.PutUint32(buf[off+5:], uint32(len(rec.key)))
		off += 9
		off += copy(buf[off:], rec.key)
		binary.LittleEndian.PutUint32(buf[off:], uint32(len(rec.value)))
		off += 4
		off += copy(buf[off:], rec.value)
	}
	return buf
}

func decodeWriteBatch(data []byte) (uint64, *WriteBatch, error) {
	if len(data) < 12 {
		return 0, nil, fmt.Errorf("%w: header truncated", ErrCorruptBatch)
	}
	seq := binary.LittleEndian.Uint64(data[0:8])
	count := binary.LittleEndian.Uint32(data[8:12])

	b := &WriteBatch{records: make([]batchRecord, 0, count)}
	off := 12
	for i := uint32(0); i < count; i++ {
		if len(data)-off < 9 {
			return 0, nil, fmt.Errorf("%w: record %d truncated", ErrCorruptBatch, i)
		}
		kind := valueKind(data[off])
		if kind < kindPut || kind > kindMerge {
			return 0, nil, fmt.Errorf("%w: record %d has kind %d", ErrCorruptBatch, i, kind)
		}
		id := binary.LittleEndian.Uint32(data[off+1:])
		klen := int(binary.LittleEndian.Uint32(data[off+5:]))
		off += 9
		if len(data)-off < klen+4 {
			return 0, nil, fmt.Errorf("%w: record %d key truncated", ErrCorruptBatch, i)
		}
		key := data[off : off+klen]
		off += klen
		vlen := int(binary.LittleEndian.Uint32(data[off:]))
		off += 4
		if len(data)-off < vlen {
			return 0, nil, fmt.Errorf("%w: record %d value truncated", ErrCorruptBatch, i)
		}
		b.add(kind, id, key, data[off:off+vlen])
		off += vlen
	}
	return seq, b, nil
}
