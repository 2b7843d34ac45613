package engine

// MergeOperator folds merge operands into a value. existing is nil when the
// key has no base value. Operands are passed oldest first.
type MergeOperator interface {
	Name() string
	FullMerge(key, existing []byte, operands [][]byte) ([]byte, error)
}

// MergeOperatorFunc adapts a function into a MergeOperator
type MergeOperatorFunc struct {
	OperatorName string
	Fn           func(key, existing []byte, operands [][]byte) ([]byte, error)
}

func (m MergeOperatorFunc) Name() string {
	return m.OperatorName
}

func (m MergeOperatorFunc) FullMerge(key, existing []byte, operands [][]byte) ([]byte, error) {
	return m.Fn(key, existing, operands)
}

// operation is one Put, Delete or Merge applied to a key in order
type operation struct {
	kind  valueKind
	value []byte
}

// foldOperations applies ops on top of a base value. Consecutive merge
// operands are collected and handed to the merge operator once.
func foldOperations(mo MergeOperator, key, base []byte, found bool, ops []operation) ([]byte, bool, error) {
	val := base
	var operands [][]byte

	for _, op := range ops {
		switch op.kind {
		case kindPut:
			val, found, operands = op.value, true, nil
		case kindDelete:
			val, found, operands = nil, false, nil
		case kindMerge:
			operands = append(operands, op.value)
		}
	}

	if len(operands) == 0 {
		return val, found, nil
	}
	if mo == nil {
		return nil, false, ErrMergeOperatorNotSet
	}

	var existing []byte
	if found {
		existing = val
	}
	merged, err := mo.FullMerge(key, existing, operands)
	if err != nil {
		return nil, false, err
	}
	return merged, true, nil
}
