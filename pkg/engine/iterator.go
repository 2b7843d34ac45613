package engine

import (
	"bytes"
	"sort"
)

type kvPair struct {
	key   []byte
	value []byte
}

// Iterator walks a frozen, ordered view of one column family. The view is
// materialized when the iterator is created, so later writes are not seen.
type Iterator struct {
	pairs []kvPair
	pos   int
	err   error
}

func newIterator(pairs []kvPair) *Iterator {
	return &Iterator{pairs: pairs, pos: -1}
}

func newErrorIterator(err error) *Iterator {
	return &Iterator{pos: -1, err: err}
}

// Valid reports whether the iterator is positioned at an entry
func (it *Iterator) Valid() bool {
	return it.err == nil && it.pos >= 0 && it.pos < len(it.pairs)
}

// SeekToFirst positions at the smallest key
func (it *Iterator) SeekToFirst() {
	it.pos = 0
}

// SeekToLast positions at the largest key
func (it *Iterator) SeekToLast() {
	it.pos = len(it.pairs) - 1
}

// Seek positions at the first key >= target
func (it *Iterator) Seek(target []byte) {
	it.pos = sort.Search(len(it.pairs), func(i int) bool {
		return bytes.Compare(it.pairs[i].key, target) >= 0
	})
}

// SeekForPrev positions at the last key <= target
func (it *Iterator) SeekForPrev(target []byte) {
	it.pos = sort.Search(len(it.pairs), func(i int) bool {
		return bytes.Compare(it.pairs[i].key, target) > 0
	}) - 1
}

// Next advances to the next key
func (it *Iterator) Next() {
	if it.Valid() {
		it.pos++
	}
}

// Prev moves to the previous key
func (it *Iterator) Prev() {
	if it.Valid() {
		it.pos--
	}
}

// Key returns the current key, nil when not valid
func (it *Iterator) Key() []byte {
	if !it.Valid() {
		return nil
	}
	return it.pairs[it.pos].key
}

// Value returns the current value, nil when not valid
func (it *Iterator) Value() []byte {
	if !it.Valid() {
		return nil
	}
	return it.pairs[it.pos].value
}

// Err returns the error that stopped the iterator, if any
func (it *Iterator) Err() error {
	return it.err
}

// Close releases the view
func (it *Iterator) Close() {
	it.pairs = nil
	it.pos = -1
}

// overlay merges pending writes for the same column family into a committed
// view. pending maps each touched key to its ordered operations.
func overlay(mo MergeOperator, committed []kvPair, pending map[string][]operation, lower, upper []byte) ([]kvPair, error) {
	if len(pending) == 0 {
		return committed, nil
	}

	byKey := make(map[string]int, len(committed))
	for i, p := range committed {
		byKey[string(p.key)] = i
	}

	out := make([]kvPair, 0, len(committed)+len(pending))
	removed := make(map[int]bool)
	for k, ops := range pending {
		key := []byte(k)
		if lower != nil && bytes.Compare(key, lower) < 0 {
			continue
		}
		if upper != nil && bytes.Compare(key, upper) >= 0 {
			continue
		}

		var (
			base  []byte
			found bool
		)
		if i, ok := byKey[k]; ok {
			base, found = committed[i].value, true
			removed[i] = true
		}
		val, exists, err := foldOperations(mo, key, base, found, ops)
		if err != nil {
			return nil, err
		}
		if exists {
			out = append(out, kvPair{key: key, value: val})
		}
	}
	for i, p := range committed {
		if !removed[i] {
			out = append(out, p)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].key, out[j].key) < 0
	})
	return out, nil
}
