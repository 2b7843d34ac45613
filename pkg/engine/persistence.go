package engine

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/dd0wney/cluso-txkv/pkg/logging"
	"github.com/dd0wney/cluso-txkv/pkg/wal"
)

type replayStats struct {
	batches int
	records int
	cfOps   int
}

func encodeColumnFamily(cf *ColumnFamily) []byte {
	buf := make([]byte, 4+len(cf.name))
	binary.LittleEndian.PutUint32(buf, cf.id)
	copy(buf[4:], cf.name)
	return buf
}

func decodeColumnFamily(data []byte) (uint32, string, error) {
	if len(data) < 4 {
		return 0, "", fmt.Errorf("%w: column family record truncated", ErrCorruptBatch)
	}
	return binary.LittleEndian.Uint32(data), string(data[4:]), nil
}

// logColumnFamily records a create or drop. Caller holds commitMu.
func (e *Engine) logColumnFamily(op wal.OpType, cf *ColumnFamily) error {
	if e.log == nil {
		return nil
	}
	if _, err := e.log.Append(op, encodeColumnFamily(cf), true); err != nil {
		e.logger.Error("failed to log column family change",
			logging.ColumnFamily(cf.name), logging.String("op", op.String()), logging.Error(err))
		return fmt.Errorf("%s: %w: %w", op, ErrWALFailed, err)
	}
	return nil
}

// logBatch appends batch to the log unless logging is disabled. Caller holds commitMu.
func (e *Engine) logBatch(wo *WriteOptions, batch *WriteBatch, firstSeq uint64) error {
	if e.log == nil || wo.DisableWAL {
		return nil
	}
	data := batch.encode(firstSeq)
	if _, err := e.log.Append(wal.OpWriteBatch, data, wo.Sync); err != nil {
		e.logger.Error("failed to log write batch",
			logging.Seq(firstSeq), logging.Count(batch.Count()), logging.Error(err))
		return fmt.Errorf("append write batch: %w: %w", ErrWALFailed, err)
	}
	if e.opts.Metrics != nil {
		e.opts.Metrics.RecordWALWrite(len(data))
	}
	return nil
}

// replay rebuilds column families and committed versions from the log
func (e *Engine) replay() (replayStats, error) {
	var stats replayStats

	err := e.log.Replay(func(entry *wal.Entry) error {
		switch entry.OpType {
		case wal.OpCreateColumnFamily:
			id, name, err := decodeColumnFamily(entry.Data)
			if err != nil {
				return err
			}
			cf := newColumnFamily(id, name)
			e.cfs[id] = cf
			e.cfByName[name] = cf
			if id >= e.nextCFID {
				e.nextCFID = id + 1
			}
			stats.cfOps++

		case wal.OpDropColumnFamily:
			id, name, err := decodeColumnFamily(entry.Data)
			if err != nil {
				return err
			}
			if cf, ok := e.cfs[id]; ok {
				cf.dropped.Store(true)
				delete(e.cfs, id)
				delete(e.cfByName, name)
			}
			stats.cfOps++

		case wal.OpWriteBatch:
			first, batch, err := decodeWriteBatch(entry.Data)
			if err != nil {
				return err
			}
			for i, rec := range batch.records {
				cf, ok := e.cfs[rec.cfID]
				if !ok {
					continue
				}
				cf.apply(rec.key, version{seq: first + uint64(i), kind: rec.kind, value: rec.value})
			}
			if last := first + uint64(batch.Count()) - 1; batch.Count() > 0 && last > e.lastSeq.Load() {
				e.lastSeq.Store(last)
			}
			stats.batches++
			stats.records += batch.Count()

		default:
			e.logger.Warn("skipping unknown WAL entry",
				logging.Uint64("lsn", entry.LSN), logging.Int("op", int(entry.OpType)))
		}
		return nil
	})
	return stats, err
}

// openExistingLog opens whichever log file dir holds
func openExistingLog(dir string, logger logging.Logger) (wal.WriteAheadLog, error) {
	if !wal.Exists(dir) {
		return nil, fmt.Errorf("open %s: %w", dir, ErrNotFound)
	}
	compressed := wal.FileExists(filepath.Join(dir, wal.CompressedFileName))
	return wal.Open(dir, compressed, logger)
}

// ListColumnFamilies returns the column families recorded in the log at dir
func ListColumnFamilies(dir string) ([]string, error) {
	log, err := openExistingLog(dir, nil)
	if err != nil {
		return nil, err
	}
	defer log.Close()

	live := map[uint32]string{defaultColumnFamilyID: DefaultColumnFamilyName}
	err = log.Replay(func(entry *wal.Entry) error {
		switch entry.OpType {
		case wal.OpCreateColumnFamily, wal.OpDropColumnFamily:
			id, name, err := decodeColumnFamily(entry.Data)
			if err != nil {
				return err
			}
			if entry.OpType == wal.OpCreateColumnFamily {
				live[id] = name
			} else {
				delete(live, id)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(live))
	for _, name := range live {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// CreateCheckpoint writes the latest committed state of every column family
// into a fresh log in dir. The result opens like any other database.
func (e *Engine) CreateCheckpoint(dir string) error {
	if e.closed.Load() {
		return ErrClosed
	}
	if wal.Exists(dir) {
		return fmt.Errorf("checkpoint %s: %w", dir, ErrAlreadyExists)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("checkpoint %s: %w", dir, err)
	}

	snap := e.GetSnapshot()
	defer snap.Release()

	e.mu.RLock()
	cfs := make([]*ColumnFamily, 0, len(e.cfs))
	for _, cf := range e.cfs {
		cfs = append(cfs, cf)
	}
	e.mu.RUnlock()
	sort.Slice(cfs, func(i, j int) bool { return cfs[i].id < cfs[j].id })

	log, err := wal.Open(dir, e.opts.WALCompression, e.opts.Logger)
	if err != nil {
		return fmt.Errorf("checkpoint %s: %w", dir, err)
	}
	defer log.Close()

	batch := NewWriteBatch()
	for _, cf := range cfs {
		if cf.id != defaultColumnFamilyID {
			if _, err := log.Append(wal.OpCreateColumnFamily, encodeColumnFamily(cf), false); err != nil {
				return fmt.Errorf("checkpoint %s: %w", dir, err)
			}
		}
		pairs, err := cf.scan(e.opts.MergeOperator, readPoint{seq: snap.seq}, nil, nil)
		if err != nil {
			return fmt.Errorf("checkpoint %s: %w", dir, err)
		}
		for _, p := range pairs {
			batch.PutCF(cf, p.key, p.value)
		}
	}

	if batch.Count() > 0 {
		first := uint64(1)
		if snap.seq >= uint64(batch.Count()) {
			first = snap.seq - uint64(batch.Count()) + 1
		}
		if _, err := log.Append(wal.OpWriteBatch, batch.encode(first), true); err != nil {
			return fmt.Errorf("checkpoint %s: %w", dir, err)
		}
	}

	e.logger.Info("checkpoint created",
		logging.Path(dir), logging.Seq(snap.seq), logging.Count(batch.Count()))
	return nil
}
