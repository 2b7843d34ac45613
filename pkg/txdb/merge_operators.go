package txdb

import (
	"encoding/binary"
	"fmt"

	"github.com/dd0wney/cluso-txkv/pkg/engine"
)

// ConcatMerge appends operands to the existing value
var ConcatMerge engine.MergeOperator = engine.MergeOperatorFunc{
	OperatorName: "concat",
	Fn: func(key, existing []byte, operands [][]byte) ([]byte, error) {
		size := len(existing)
		for _, op := range operands {
			size += len(op)
		}
		out := make([]byte, 0, size)
		out = append(out, existing...)
		for _, op := range operands {
			out = append(out, op...)
		}
		return out, nil
	},
}

// Uint64AddMerge treats values and operands as little-endian uint64 counters
// and adds them, wrapping on overflow. A missing base counts as zero.
var Uint64AddMerge engine.MergeOperator = engine.MergeOperatorFunc{
	OperatorName: "uint64add",
	Fn: func(key, existing []byte, operands [][]byte) ([]byte, error) {
		var sum uint64
		if existing != nil {
			v, err := DecodeUint64(existing)
			if err != nil {
				return nil, fmt.Errorf("existing value: %w", err)
			}
			sum = v
		}
		for i, op := range operands {
			v, err := DecodeUint64(op)
			if err != nil {
				return nil, fmt.Errorf("operand %d: %w", i, err)
			}
			sum += v
		}
		return EncodeUint64(sum), nil
	},
}

// MergeOperatorByName resolves the names accepted in configuration files.
// The empty name returns nil.
func MergeOperatorByName(name string) (engine.MergeOperator, error) {
	switch name {
	case "":
		return nil, nil
	case ConcatMerge.Name():
		return ConcatMerge, nil
	case Uint64AddMerge.Name():
		return Uint64AddMerge, nil
	default:
		return nil, fmt.Errorf("unknown merge operator %q", name)
	}
}

// EncodeUint64 encodes v for Uint64AddMerge
func EncodeUint64(v uint64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, v)
	return buf
}

// DecodeUint64 decodes a value written by EncodeUint64
func DecodeUint64(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("uint64 value must be 8 bytes, got %d", len(b))
	}
	return binary.LittleEndian.Uint64(b), nil
}
