package wal

import (
	"fmt"

	"github.com/dd0wney/cluso-txkv/pkg/logging"
)

// FileName is the name of the uncompressed log inside a data directory
const FileName = "wal.log"

// WAL is a Write-Ahead Log storing payloads as given
type WAL struct {
	*logFile
}

// NewWAL opens or creates the log in dataDir and recovers its last LSN
func NewWAL(dataDir string, logger logging.Logger) (*WAL, error) {
	lf, err := openLogFile(dataDir, FileName, logging.OrNop(logger).With(logging.Component("wal")))
	if err != nil {
		return nil, err
	}

	w := &WAL{logFile: lf}
	entries, err := w.ReadAll()
	if err != nil {
		lf.file.Close()
		return nil, fmt.Errorf("failed to recover LSN: %w", err)
	}
	lf.lastLSN = lastLSN(entries)

	return w, nil
}

// Append appends a new entry to the WAL
func (w *WAL) Append(opType OpType, data []byte, sync bool) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.appendLocked(opType, data, sync)
}

// ReadAll reads all intact entries from the WAL
func (w *WAL) ReadAll() ([]*Entry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.readLocked()
}

// Replay hands every intact entry to handler in LSN order
func (w *WAL) Replay(handler func(*Entry) error) error {
	entries, err := w.ReadAll()
	if err != nil {
		return err
	}
	return replayEntries(entries, handler)
}

// Truncate removes all entries and resets the LSN
func (w *WAL) Truncate() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.resetLocked()
}
