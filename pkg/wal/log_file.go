package wal

import (
	"bufio"
	"errors"
	"fmt"
	"hash/crc32"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dd0wney/cluso-txkv/pkg/logging"
)

var errLSNExhausted = errors.New("WAL LSN space exhausted")

// logFile is the append-only file behind both log flavours. Payloads are
// written as given; callers encode them first. Methods ending in Locked
// expect mu to be held.
type logFile struct {
	mu      sync.Mutex
	file    *os.File
	writer  *bufio.Writer
	lastLSN uint64
	path    string
	logger  logging.Logger
}

func openLogFile(dataDir, name string, logger logging.Logger) (*logFile, error) {
	if err := EnsureDir(dataDir); err != nil {
		return nil, fmt.Errorf("failed to create WAL directory: %w", err)
	}

	path := filepath.Join(dataDir, name)
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAL file: %w", err)
	}

	return &logFile{
		file:   file,
		writer: bufio.NewWriter(file),
		path:   path,
		logger: logger,
	}, nil
}

// appendLocked writes one entry and flushes it to the OS. The LSN only
// advances once the entry is fully written.
func (l *logFile) appendLocked(opType OpType, payload []byte, sync bool) (uint64, error) {
	if l.lastLSN == math.MaxUint64 {
		return 0, errLSNExhausted
	}

	entry := Entry{
		LSN:       l.lastLSN + 1,
		OpType:    opType,
		Data:      payload,
		Checksum:  crc32.ChecksumIEEE(payload),
		Timestamp: time.Now().UnixNano(),
	}

	if err := writeEntry(l.writer, &entry); err != nil {
		return 0, fmt.Errorf("failed to write WAL entry: %w", err)
	}
	if err := l.writer.Flush(); err != nil {
		return 0, fmt.Errorf("failed to flush WAL: %w", err)
	}
	if sync {
		if err := l.file.Sync(); err != nil {
			return 0, fmt.Errorf("failed to sync WAL: %w", err)
		}
	}

	l.lastLSN = entry.LSN
	return entry.LSN, nil
}

// readLocked flushes buffered bytes and decodes the intact prefix of the file
func (l *logFile) readLocked() ([]*Entry, error) {
	if err := l.writer.Flush(); err != nil {
		return nil, fmt.Errorf("failed to flush WAL: %w", err)
	}
	return readEntries(l.path, l.logger)
}

// resetLocked swaps in an empty file and restarts LSNs at zero
func (l *logFile) resetLocked() error {
	if err := l.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush WAL before truncate: %w", err)
	}

	tmp := l.path + ".new"
	newFile, err := os.OpenFile(tmp, os.O_RDWR|os.O_CREATE|os.O_TRUNC|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to create new WAL file: %w", err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		newFile.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to rename WAL file: %w", err)
	}

	if err := l.file.Close(); err != nil {
		l.logger.Warn("failed to close old WAL file during truncate", logging.Error(err))
	}
	l.file = newFile
	l.writer = bufio.NewWriter(newFile)
	l.lastLSN = 0
	return nil
}

// GetCurrentLSN returns the LSN of the last appended entry
func (l *logFile) GetCurrentLSN() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastLSN
}

// Path returns the log file path
func (l *logFile) Path() string {
	return l.path
}

// Close flushes, syncs and closes the file
func (l *logFile) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.writer.Flush(); err != nil {
		return err
	}
	if err := l.file.Sync(); err != nil {
		return err
	}
	return l.file.Close()
}

func lastLSN(entries []*Entry) uint64 {
	if len(entries) == 0 {
		return 0
	}
	return entries[len(entries)-1].LSN
}

func replayEntries(entries []*Entry, handler func(*Entry) error) error {
	for _, entry := range entries {
		if err := handler(entry); err != nil {
			return fmt.Errorf("failed to replay entry LSN=%d (%s): %w", entry.LSN, entry.OpType, err)
		}
	}
	return nil
}
