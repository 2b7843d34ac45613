package wal

import "github.com/dd0wney/cluso-txkv/pkg/logging"

// WALAppender is the interface for appending entries to a WAL.
type WALAppender interface {
	// Append appends a new entry and returns its LSN. The entry is flushed
	// to the OS before returning; with sync it is also fsynced.
	Append(opType OpType, data []byte, sync bool) (uint64, error)
}

// WALReader is the interface for reading entries from a WAL.
type WALReader interface {
	// Replay iterates through all intact WAL entries in order.
	Replay(handler func(*Entry) error) error
}

// WALManager is the interface for WAL lifecycle management.
type WALManager interface {
	// Truncate removes all entries from the WAL.
	Truncate() error
	Close() error
	GetCurrentLSN() uint64
	// Path returns the log file location
	Path() string
}

// WriteAheadLog is the complete interface for a Write-Ahead Log implementation.
type WriteAheadLog interface {
	WALAppender
	WALReader
	WALManager
}

var _ WriteAheadLog = (*WAL)(nil)
var _ WriteAheadLog = (*CompressedWAL)(nil)

// Open opens the log in dataDir, snappy-compressed or plain.
func Open(dataDir string, compressed bool, logger logging.Logger) (WriteAheadLog, error) {
	if compressed {
		return NewCompressedWAL(dataDir, logger)
	}
	return NewWAL(dataDir, logger)
}
