package engine

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/dd0wney/cluso-txkv/pkg/logging"
)

// DefaultColumnFamilyName is the column family every database has
const DefaultColumnFamilyName = "default"

const defaultColumnFamilyID uint32 = 0

// ColumnFamily is a separate keyspace inside one engine. Keys are kept in a
// map for point lookups and a sorted slice for iteration.
type ColumnFamily struct {
	id      uint32
	name    string
	dropped atomic.Bool

	mu   sync.RWMutex
	data map[string]*versionChain
	keys []string
}

func newColumnFamily(id uint32, name string) *ColumnFamily {
	return &ColumnFamily{
		id:   id,
		name: name,
		data: make(map[string]*versionChain),
		keys: make([]string, 0),
	}
}

// Name returns the column family name
func (cf *ColumnFamily) Name() string {
	return cf.name
}

// ID returns the column family id recorded in the log
func (cf *ColumnFamily) ID() uint32 {
	return cf.id
}

// Dropped reports whether the column family has been dropped
func (cf *ColumnFamily) Dropped() bool {
	return cf.dropped.Load()
}

// apply appends a committed version. Caller holds cf.mu for writing.
func (cf *ColumnFamily) apply(key []byte, v version) {
	k := string(key)
	chain, ok := cf.data[k]
	if !ok {
		chain = &versionChain{}
		cf.data[k] = chain
		i := sort.SearchStrings(cf.keys, k)
		cf.keys = append(cf.keys, "")
		copy(cf.keys[i+1:], cf.keys[i:])
		cf.keys[i] = k
	}
	chain.append(v)
}

// chain returns the version chain for key. Caller holds cf.mu.
func (cf *ColumnFamily) chain(key []byte) *versionChain {
	return cf.data[string(key)]
}

func (cf *ColumnFamily) newestSeq(key []byte) uint64 {
	cf.mu.RLock()
	defer cf.mu.RUnlock()
	return cf.chain(key).newestSeq()
}

// scan returns every key with a visible value at p within [lower, upper)
func (cf *ColumnFamily) scan(mo MergeOperator, p readPoint, lower, upper []byte) ([]kvPair, error) {
	cf.mu.RLock()
	defer cf.mu.RUnlock()
	seq := p.resolve()

	start := 0
	if lower != nil {
		start = sort.SearchStrings(cf.keys, string(lower))
	}

	pairs := make([]kvPair, 0)
	for _, k := range cf.keys[start:] {
		if upper != nil && k >= string(upper) {
			break
		}
		key := []byte(k)
		val, found, err := cf.data[k].read(mo, key, seq)
		if err != nil {
			return nil, newError("scan", cf, key, err)
		}
		if found {
			pairs = append(pairs, kvPair{key: key, value: val})
		}
	}
	return pairs, nil
}

// prune collapses versions at or below horizon in every chain. A chain whose
// merge operands fail to fold is left intact.
func (cf *ColumnFamily) prune(mo MergeOperator, horizon uint64, logger logging.Logger) int {
	cf.mu.Lock()
	defer cf.mu.Unlock()

	removed := 0
	for k, chain := range cf.data {
		n, err := chain.prune(mo, []byte(k), horizon)
		if err != nil {
			logger.Warn("prune skipped key",
				logging.ColumnFamily(cf.name),
				logging.Key([]byte(k)),
				logging.Seq(horizon),
				logging.Error(err))
			continue
		}
		removed += n
	}
	return removed
}

func (cf *ColumnFamily) numKeys() int {
	cf.mu.RLock()
	defer cf.mu.RUnlock()
	return len(cf.keys)
}
