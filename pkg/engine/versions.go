package engine

type valueKind uint8

const (
	kindPut valueKind = iota + 1
	kindDelete
	kindMerge
)

func (k valueKind) String() string {
	switch k {
	case kindPut:
		return "put"
	case kindDelete:
		return "delete"
	case kindMerge:
		return "merge"
	default:
		return "unknown"
	}
}

type version struct {
	seq   uint64
	kind  valueKind
	value []byte
}

// versionChain holds every retained version of one key, oldest first
type versionChain struct {
	versions []version
}

func (c *versionChain) append(v version) {
	c.versions = append(c.versions, v)
}

// newestSeq is the sequence of the latest committed version, 0 if none
func (c *versionChain) newestSeq() uint64 {
	if c == nil || len(c.versions) == 0 {
		return 0
	}
	return c.versions[len(c.versions)-1].seq
}

func (c *versionChain) newestKind() valueKind {
	return c.versions[len(c.versions)-1].kind
}

// visibleOps returns the operations needed to reconstruct the value at seq:
// the newest Put or Delete at or below seq and every later merge operand.
func (c *versionChain) visibleOps(seq uint64) []operation {
	end := len(c.versions)
	for end > 0 && c.versions[end-1].seq > seq {
		end--
	}
	start := end
	for start > 0 {
		start--
		if c.versions[start].kind != kindMerge {
			break
		}
	}
	ops := make([]operation, 0, end-start)
	for _, v := range c.versions[start:end] {
		ops = append(ops, operation{kind: v.kind, value: v.value})
	}
	return ops
}

// read returns the value visible at seq
func (c *versionChain) read(mo MergeOperator, key []byte, seq uint64) ([]byte, bool, error) {
	if c == nil {
		return nil, false, nil
	}
	ops := c.visibleOps(seq)
	if len(ops) == 0 {
		return nil, false, nil
	}
	return foldOperations(mo, key, nil, false, ops)
}

// prune collapses every version at or below horizon into a single Put or
// Delete carrying the newest of their sequence numbers. Later versions are
// untouched so snapshots above the horizon still read correctly.
func (c *versionChain) prune(mo MergeOperator, key []byte, horizon uint64) (int, error) {
	cut := 0
	for cut < len(c.versions) && c.versions[cut].seq <= horizon {
		cut++
	}
	if cut <= 1 && (cut == 0 || c.versions[0].kind != kindMerge) {
		return 0, nil
	}

	val, found, err := c.read(mo, key, horizon)
	if err != nil {
		return 0, err
	}

	collapsed := version{seq: c.versions[cut-1].seq, kind: kindDelete}
	if found {
		collapsed.kind = kindPut
		collapsed.value = val
	}

	rest := c.versions[cut:]
	versions := make([]version, 0, len(rest)+1)
	versions = append(versions, collapsed)
	versions = append(versions, rest...)
	removed := len(c.versions) - len(versions)
	c.versions = versions
	return removed, nil
}
