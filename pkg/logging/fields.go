package logging

import (
	"encoding/hex"
	"time"
	"unicode/utf8"
)

// Common field constructors
func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

func Int64(key string, value int64) Field {
	return Field{Key: key, Value: value}
}

func Uint64(key string, value uint64) Field {
	return Field{Key: key, Value: value}
}

func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value.String()}
}

func Error(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: nil}
	}
	return Field{Key: "error", Value: err.Error()}
}

func Any(key string, value any) Field {
	return Field{Key: key, Value: value}
}

func Component(name string) Field {
	return String("component", name)
}

func Operation(op string) Field {
	return String("operation", op)
}

func Latency(d time.Duration) Field {
	return Duration("latency", d)
}

func Count(n int) Field {
	return Int("count", n)
}

func Path(p string) Field {
	return String("path", p)
}

func TxnID(id uint64) Field {
	return Uint64("txn_id", id)
}

func TxnName(name string) Field {
	return String("txn_name", name)
}

func Seq(seq uint64) Field {
	return Uint64("seq", seq)
}

func ColumnFamily(name string) Field {
	return String("cf", name)
}

// Key renders a user key; non-UTF-8 keys are hex encoded and long keys are
// cut at 64 bytes.
func Key(k []byte) Field {
	const max = 64
	truncated := false
	if len(k) > max {
		k = k[:max]
		truncated = true
	}
	var s string
	if utf8.Valid(k) {
		s = string(k)
	} else {
		s = "0x" + hex.EncodeToString(k)
	}
	if truncated {
		s += "..."
	}
	return String("key", s)
}
