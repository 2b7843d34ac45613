package wal

import (
	"fmt"

	"github.com/golang/snappy"

	"github.com/dd0wney/cluso-txkv/pkg/logging"
)

// CompressedFileName is the name of the snappy-compressed log
const CompressedFileName = "wal_compressed.log"

// CompressedWAL is a Write-Ahead Log with snappy compressed payloads. The
// checksum covers the compressed bytes.
type CompressedWAL struct {
	*logFile

	totalWrites       uint64
	bytesUncompressed uint64
	bytesCompressed   uint64
}

// CompressedWALStats holds compression statistics
type CompressedWALStats struct {
	TotalWrites       uint64
	BytesUncompressed uint64
	BytesCompressed   uint64
	CompressionRatio  float64 // compressed / uncompressed
}

// NewCompressedWAL opens or creates the compressed log in dataDir
func NewCompressedWAL(dataDir string, logger logging.Logger) (*CompressedWAL, error) {
	lf, err := openLogFile(dataDir, CompressedFileName,
		logging.OrNop(logger).With(logging.Component("wal"), logging.Bool("compressed", true)))
	if err != nil {
		return nil, err
	}

	w := &CompressedWAL{logFile: lf}
	entries, err := w.ReadAll()
	if err != nil {
		lf.file.Close()
		return nil, fmt.Errorf("failed to recover LSN: %w", err)
	}
	lf.lastLSN = lastLSN(entries)

	return w, nil
}

// Append compresses data and appends it to the log
func (w *CompressedWAL) Append(opType OpType, data []byte, sync bool) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	compressed := snappy.Encode(nil, data)
	lsn, err := w.appendLocked(opType, compressed, sync)
	if err != nil {
		return 0, err
	}

	w.totalWrites++
	w.bytesUncompressed += uint64(len(data))
	w.bytesCompressed += uint64(len(compressed))
	return lsn, nil
}

// ReadAll reads and decompresses all intact entries. An entry that fails to
// decompress ends recovery like a checksum mismatch does.
func (w *CompressedWAL) ReadAll() ([]*Entry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	entries, err := w.readLocked()
	if err != nil {
		return nil, err
	}

	for i, entry := range entries {
		decoded, err := snappy.Decode(nil, entry.Data)
		if err != nil {
			w.logger.Warn("WAL decompression failed, recovery stopped",
				logging.Uint64("lsn", entry.LSN), logging.Error(err))
			return entries[:i], nil
		}
		entry.Data = decoded
	}

	return entries, nil
}

// Replay hands every decompressed entry to handler in LSN order
func (w *CompressedWAL) Replay(handler func(*Entry) error) error {
	entries, err := w.ReadAll()
	if err != nil {
		return err
	}
	return replayEntries(entries, handler)
}

// Truncate removes all entries and resets statistics
func (w *CompressedWAL) Truncate() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.resetLocked(); err != nil {
		return err
	}
	w.totalWrites = 0
	w.bytesUncompressed = 0
	w.bytesCompressed = 0
	return nil
}

// GetStatistics returns compression statistics
func (w *CompressedWAL) GetStatistics() CompressedWALStats {
	w.mu.Lock()
	defer w.mu.Unlock()

	stats := CompressedWALStats{
		TotalWrites:       w.totalWrites,
		BytesUncompressed: w.bytesUncompressed,
		BytesCompressed:   w.bytesCompressed,
	}
	if w.bytesUncompressed > 0 {
		stats.CompressionRatio = float64(w.bytesCompressed) / float64(w.bytesUncompressed)
	}
	return stats
}
