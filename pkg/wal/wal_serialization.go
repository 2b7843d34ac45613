package wal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	"golang.org/x/exp/mmap"

	"github.com/dd0wney/cluso-txkv/pkg/logging"
)

// maxEntryDataLen bounds a single record so a corrupt length cannot make
// recovery allocate gigabytes.
const maxEntryDataLen = 256 << 20

var errEntryTooLarge = errors.New("wal entry exceeds maximum size")

// writeEntry writes a single entry.
// Format: [LSN:8][OpType:1][DataLen:4][Data:N][Checksum:4][Timestamp:8]
func writeEntry(w *bufio.Writer, entry *Entry) error {
	var header [entryHeaderSize]byte
	binary.LittleEndian.PutUint64(header[0:8], entry.LSN)
	header[8] = byte(entry.OpType)
	binary.LittleEndian.PutUint32(header[9:13], uint32(len(entry.Data)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}

	if _, err := w.Write(entry.Data); err != nil {
		return err
	}

	var trailer [entryTrailerSize]byte
	binary.LittleEndian.PutUint32(trailer[0:4], entry.Checksum)
	binary.LittleEndian.PutUint64(trailer[4:12], uint64(entry.Timestamp))
	_, err := w.Write(trailer[:])
	return err
}

// readEntry reads a single entry from the reader
func readEntry(reader *bufio.Reader) (*Entry, error) {
	var header [entryHeaderSize]byte
	if _, err := io.ReadFull(reader, header[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("torn header: %w", err)
		}
		return nil, err
	}

	entry := &Entry{
		LSN:    binary.LittleEndian.Uint64(header[0:8]),
		OpType: OpType(header[8]),
	}

	dataLen := binary.LittleEndian.Uint32(header[9:13])
	if dataLen > maxEntryDataLen {
		return nil, errEntryTooLarge
	}

	entry.Data = make([]byte, dataLen)
	if _, err := io.ReadFull(reader, entry.Data); err != nil {
		return nil, fmt.Errorf("torn data: %w", err)
	}

	var trailer [entryTrailerSize]byte
	if _, err := io.ReadFull(reader, trailer[:]); err != nil {
		return nil, fmt.Errorf("torn trailer: %w", err)
	}
	entry.Checksum = binary.LittleEndian.Uint32(trailer[0:4])
	entry.Timestamp = int64(binary.LittleEndian.Uint64(trailer[4:12]))

	return entry, nil
}

// readEntries maps the log file read-only and decodes every intact entry.
// Decoding stops at the first torn or corrupt record; what was read before
// it is returned without error so recovery can continue from a partial log.
func readEntries(path string, logger logging.Logger) ([]*Entry, error) {
	r, err := mmap.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to map WAL file: %w", err)
	}
	defer r.Close()

	reader := bufio.NewReader(io.NewSectionReader(r, 0, int64(r.Len())))
	entries := make([]*Entry, 0)

	for {
		entry, err := readEntry(reader)
		if err == io.EOF {
			break
		}
		if err != nil {
			logger.Warn("WAL corruption detected, recovery stopped",
				logging.Path(path), logging.Count(len(entries)), logging.Error(err))
			break
		}

		if crc32.ChecksumIEEE(entry.Data) != entry.Checksum {
			logger.Warn("WAL checksum mismatch, recovery stopped",
				logging.Path(path), logging.Uint64("lsn", entry.LSN), logging.Count(len(entries)))
			break
		}

		entries = append(entries, entry)
	}

	return entries, nil
}
