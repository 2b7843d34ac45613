package shell

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dd0wney/cluso-txkv/pkg/engine"
	"github.com/dd0wney/cluso-txkv/pkg/logging"
	"github.com/dd0wney/cluso-txkv/pkg/txdb"
	"github.com/dd0wney/cluso-txkv/pkg/txn"
)

var (
	ErrTransactionActive   = errors.New("transaction already active")
	ErrNoTransaction       = errors.New("no active transaction")
	ErrNoSnapshot          = errors.New("no snapshot taken")
	ErrUnsupportedCommand  = errors.New("unsupported command")
	errColumnFamilyMissing = errors.New("column family required")
)

// Result is the outcome of one command. Rows are key/value or name/value
// pairs; Message is a one-line status.
type Result struct {
	Message string
	Rows    [][2]string
	Exit    bool
}

// String renders the result the way the REPL prints it
func (r *Result) String() string {
	var b strings.Builder
	for _, row := range r.Rows {
		fmt.Fprintf(&b, "%s = %s\n", row[0], row[1])
	}
	if r.Message != "" {
		b.WriteString(r.Message)
		b.WriteByte('\n')
	}
	return b.String()
}

// Session executes commands against one database. It owns at most one open
// transaction and one snapshot of it. Not safe for concurrent use.
type Session struct {
	db     *txdb.DB
	txOpts *txdb.TransactionOptions
	logger logging.Logger

	tx   *txn.Transaction
	snap *txn.Snapshot
	cf   *txdb.ColumnFamily
}

// NewSession starts a session using the default column family. txOpts may be nil.
func NewSession(db *txdb.DB, txOpts *txdb.TransactionOptions) *Session {
	if txOpts == nil {
		txOpts = db.DefaultTransactionOptions()
	}
	return &Session{
		db:     db,
		txOpts: txOpts,
		logger: db.Logger().With(logging.Component("shell")),
		cf:     db.DefaultColumnFamily(),
	}
}

// InTransaction reports whether a transaction is open
func (s *Session) InTransaction() bool {
	return s.tx != nil
}

// ColumnFamily returns the name of the column family commands target
func (s *Session) ColumnFamily() string {
	return s.cf.Name()
}

// Prompt returns the REPL prompt reflecting the session state
func (s *Session) Prompt() string {
	var b strings.Builder
	b.WriteString("txkv")
	if s.cf.Name() != engine.DefaultColumnFamilyName {
		b.WriteString(":" + s.cf.Name())
	}
	if s.tx != nil {
		b.WriteString("*")
	}
	b.WriteString("> ")
	return b.String()
}

// Exec parses and executes one line
func (s *Session) Exec(line string) (*Result, error) {
	cmd, err := Parse(line)
	if err != nil {
		return nil, err
	}
	return s.Execute(cmd)
}

// Execute runs a parsed command
func (s *Session) Execute(cmd *Command) (*Result, error) {
	switch cmd.Type {
	case CommandBegin:
		return s.begin(cmd.Snapshot)
	case CommandCommit:
		return s.finish(true)
	case CommandRollback:
		return s.finish(false)
	case CommandSavepoint:
		if s.tx == nil {
			return nil, ErrNoTransaction
		}
		s.tx.SetSavepoint()
		return ok(), nil
	case CommandRollbackTo:
		if s.tx == nil {
			return nil, ErrNoTransaction
		}
		if err := s.tx.RollbackToSavepoint(); err != nil {
			return nil, err
		}
		return ok(), nil
	case CommandSnapshot:
		return s.snapshot()

	case CommandGet:
		return s.get([]byte(cmd.Key))
	case CommandGetForUpdate:
		if s.tx == nil {
			return nil, ErrNoTransaction
		}
		val, err := s.tx.GetForUpdateCFOpt(s.cf, []byte(cmd.Key), txn.DefaultReadOptions(), !cmd.Shared)
		if err != nil {
			return nil, err
		}
		return valueResult(cmd.Key, val), nil
	case CommandPut, CommandMerge, CommandDelete:
		if err := s.write(cmd.Type, []byte(cmd.Key), cmd.Value); err != nil {
			return nil, err
		}
		return ok(), nil
	case CommandScan:
		return s.scan(cmd.Arg)
	case CommandSnapshotGet:
		if s.snap == nil {
			return nil, ErrNoSnapshot
		}
		val, err := s.snap.GetCF(s.cf, []byte(cmd.Key))
		if err != nil {
			return nil, err
		}
		return valueResult(cmd.Key, val), nil

	case CommandColumnFamily:
		return s.columnFamily(cmd.Arg, cmd.Name)
	case CommandCheckpoint:
		if err := s.db.CreateCheckpoint(cmd.Arg); err != nil {
			return nil, err
		}
		return &Result{Message: "OK (checkpoint written to " + cmd.Arg + ")"}, nil
	case CommandStats:
		return s.stats(), nil

	case CommandHelp:
		return &Result{Message: HelpText()}, nil
	case CommandExit:
		s.Close()
		return &Result{Message: "bye", Exit: true}, nil
	default:
		return nil, ErrUnsupportedCommand
	}
}

func (s *Session) begin(withSnapshot bool) (*Result, error) {
	if s.tx != nil {
		return nil, ErrTransactionActive
	}
	opts := *s.txOpts
	opts.SetSnapshot = withSnapshot
	tx, err := s.db.Transaction(nil, &opts)
	if err != nil {
		return nil, err
	}
	s.tx = tx
	s.logger.Debug("transaction started", logging.TxnName(tx.Name()))
	return &Result{Message: fmt.Sprintf("OK (tx %d started)", tx.ID())}, nil
}

func (s *Session) finish(commit bool) (*Result, error) {
	if s.tx == nil {
		return nil, ErrNoTransaction
	}
	tx := s.tx
	s.tx = nil
	s.releaseSnapshot()
	defer tx.Close()

	if commit {
		if err := tx.Commit(); err != nil {
			return nil, err
		}
		return ok(), nil
	}
	if err := tx.Rollback(); err != nil {
		return nil, err
	}
	return ok(), nil
}

func (s *Session) snapshot() (*Result, error) {
	if s.tx == nil {
		return nil, ErrNoTransaction
	}
	snap, err := s.tx.Snapshot()
	if err != nil {
		return nil, err
	}
	s.releaseSnapshot()
	s.snap = snap
	return &Result{Message: fmt.Sprintf("OK (snapshot at seq %d)", snap.Sequence())}, nil
}

func (s *Session) releaseSnapshot() {
	if s.snap != nil {
		s.snap.Release()
		s.snap = nil
	}
}

func (s *Session) get(key []byte) (*Result, error) {
	var val []byte
	var err error
	if s.tx != nil {
		val, err = s.tx.GetCF(s.cf, key)
	} else {
		val, err = s.db.GetCF(nil, s.cf, key)
	}
	if err != nil {
		return nil, err
	}
	return valueResult(string(key), val), nil
}

// write goes to the open transaction or, without one, straight to the database
func (s *Session) write(t CommandType, key, value []byte) error {
	if s.tx != nil {
		switch t {
		case CommandPut:
			return s.tx.PutCF(s.cf, key, value)
		case CommandMerge:
			return s.tx.MergeCF(s.cf, key, value)
		default:
			return s.tx.DeleteCF(s.cf, key)
		}
	}
	switch t {
	case CommandPut:
		return s.db.PutCF(nil, s.cf, key, value)
	case CommandMerge:
		return s.db.MergeCF(nil, s.cf, key, value)
	default:
		return s.db.DeleteCF(nil, s.cf, key)
	}
}

func (s *Session) scan(prefix string) (*Result, error) {
	ro := txn.DefaultReadOptions()
	if prefix != "" {
		ro.IterateLowerBound = []byte(prefix)
		ro.IterateUpperBound = prefixUpperBound([]byte(prefix))
	}

	var it *txdb.Iterator
	if s.tx != nil {
		var err error
		it, err = s.tx.IteratorCF(s.cf, ro)
		if err != nil {
			return nil, err
		}
	} else {
		it = s.db.IteratorCF(ro, s.cf)
	}
	defer it.Close()

	res := &Result{}
	for it.SeekToFirst(); it.Valid(); it.Next() {
		res.Rows = append(res.Rows, [2]string{string(it.Key()), string(it.Value())})
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	res.Message = fmt.Sprintf("(%d keys)", len(res.Rows))
	return res, nil
}

func (s *Session) columnFamily(sub, name string) (*Result, error) {
	switch sub {
	case CFList:
		res := &Result{}
		for _, n := range s.db.ColumnFamilies() {
			marker := ""
			if n == s.cf.Name() {
				marker = "*"
			}
			res.Rows = append(res.Rows, [2]string{n, marker})
		}
		return res, nil
	case CFCreate:
		if _, err := s.db.CreateColumnFamily(name); err != nil {
			return nil, err
		}
		return ok(), nil
	case CFDrop:
		if err := s.db.DropColumnFamily(name); err != nil {
			return nil, err
		}
		if name == s.cf.Name() {
			s.cf = s.db.DefaultColumnFamily()
		}
		return ok(), nil
	case CFUse:
		cf, err := s.db.ColumnFamily(name)
		if err != nil {
			return nil, err
		}
		s.cf = cf
		return ok(), nil
	default:
		return nil, errColumnFamilyMissing
	}
}

func (s *Session) stats() *Result {
	st := s.db.Stats()
	// refresh the exported gauges alongside the printed counters
	s.db.Metrics()
	return &Result{Rows: [][2]string{
		{"latest_sequence", strconv.FormatUint(st.LatestSequence, 10)},
		{"column_families", strconv.Itoa(st.ColumnFamilies)},
		{"active_transactions", strconv.Itoa(st.ActiveTransactions)},
		{"live_snapshots", strconv.Itoa(st.LiveSnapshots)},
		{"locks", strconv.Itoa(st.Locks)},
		{"merge_cache_hits", strconv.FormatInt(st.MergeCacheHits, 10)},
		{"merge_cache_misses", strconv.FormatInt(st.MergeCacheMisses, 10)},
		{"merge_cache_entries", strconv.Itoa(st.MergeCacheEntries)},
	}}
}

// Close rolls back any open transaction and releases the snapshot
func (s *Session) Close() {
	s.releaseSnapshot()
	if s.tx != nil {
		s.logger.Info("rolling back open transaction", logging.TxnName(s.tx.Name()))
		s.tx.Close()
		s.tx = nil
	}
}

func ok() *Result {
	return &Result{Message: "OK"}
}

func valueResult(key string, val []byte) *Result {
	if val == nil {
		return &Result{Message: "(nil)"}
	}
	return &Result{Rows: [][2]string{{key, string(val)}}}
}

// prefixUpperBound returns the smallest key greater than every key with
// the prefix, or nil when no such key exists
func prefixUpperBound(prefix []byte) []byte {
	upper := append([]byte(nil), prefix...)
	for i := len(upper) - 1; i >= 0; i-- {
		if upper[i] < 0xff {
			upper[i]++
			return upper[:i+1]
		}
	}
	return nil
}

// HelpText lists every command
func HelpText() string {
	var b strings.Builder
	b.WriteString("AVAILABLE COMMANDS\n")
	for _, t := range CommandOrder {
		meta := CommandRegistry[t]
		fmt.Fprintf(&b, "  %-32s %s\n", meta.Usage, meta.Description)
	}
	return strings.TrimRight(b.String(), "\n")
}
