// Package shell implements the line-oriented command language used by the
// txkv REPL and terminal UI.
package shell

// CommandType identifies a parsed command
type CommandType uint8

const (
	CommandBegin CommandType = iota
	CommandCommit
	CommandRollback
	CommandSavepoint
	CommandRollbackTo
	CommandSnapshot

	CommandGet
	CommandGetForUpdate
	CommandPut
	CommandMerge
	CommandDelete
	CommandScan
	CommandSnapshotGet

	CommandColumnFamily
	CommandCheckpoint
	CommandStats

	CommandHelp
	CommandExit
)

// Column family sub-commands
const (
	CFCreate = "CREATE"
	CFDrop   = "DROP"
	CFList   = "LIST"
	CFUse    = "USE"
)

// Command is one parsed line
type Command struct {
	Type  CommandType
	Key   string
	Value []byte

	// Arg holds the CF sub-command, a scan prefix or a checkpoint directory
	Arg  string
	Name string

	// Snapshot is set by BEGIN SNAPSHOT, Shared by GETFU k SHARED
	Snapshot bool
	Shared   bool
}

type CommandMeta struct {
	Name        string
	Usage       string
	Description string
}

// CommandOrder lists commands in the order HELP prints them
var CommandOrder = []CommandType{
	CommandBegin, CommandCommit, CommandRollback, CommandSavepoint, CommandRollbackTo,
	CommandGet, CommandGetForUpdate, CommandPut, CommandMerge, CommandDelete, CommandScan,
	CommandSnapshot, CommandSnapshotGet,
	CommandColumnFamily, CommandCheckpoint, CommandStats,
	CommandHelp, CommandExit,
}

var CommandRegistry = map[CommandType]CommandMeta{
	CommandBegin: {
		Name:        "BEGIN",
		Usage:       "BEGIN [SNAPSHOT]",
		Description: "Start a transaction, optionally pinning a snapshot",
	},
	CommandCommit: {
		Name:        "COMMIT",
		Usage:       "COMMIT",
		Description: "Commit the current transaction",
	},
	CommandRollback: {
		Name:        "ROLLBACK",
		Usage:       "ROLLBACK",
		Description: "Discard the current transaction",
	},
	CommandSavepoint: {
		Name:        "SAVEPOINT",
		Usage:       "SAVEPOINT",
		Description: "Mark a savepoint in the current transaction",
	},
	CommandRollbackTo: {
		Name:        "ROLLBACKTO",
		Usage:       "ROLLBACKTO",
		Description: "Undo writes since the most recent savepoint",
	},
	CommandGet: {
		Name:        "GET",
		Usage:       "GET <key>",
		Description: "Read a key",
	},
	CommandGetForUpdate: {
		Name:        "GETFU",
		Usage:       "GETFU <key> [SHARED]",
		Description: "Read a key and lock it until the transaction ends",
	},
	CommandPut: {
		Name:        "PUT",
		Usage:       "PUT <key> <value>",
		Description: "Write a key",
	},
	CommandMerge: {
		Name:        "MERGE",
		Usage:       "MERGE <key> <value>",
		Description: "Add a merge operand to a key",
	},
	CommandDelete: {
		Name:        "DEL",
		Usage:       "DEL <key>",
		Description: "Delete a key",
	},
	CommandScan: {
		Name:        "SCAN",
		Usage:       "SCAN [prefix]",
		Description: "List keys, optionally under a prefix",
	},
	CommandSnapshot: {
		Name:        "SNAPSHOT",
		Usage:       "SNAPSHOT",
		Description: "Take a read-only snapshot of the current transaction",
	},
	CommandSnapshotGet: {
		Name:        "SNAPGET",
		Usage:       "SNAPGET <key>",
		Description: "Read a key through the snapshot",
	},
	CommandColumnFamily: {
		Name:        "CF",
		Usage:       "CF CREATE|DROP|LIST|USE [name]",
		Description: "Manage column families",
	},
	CommandCheckpoint: {
		Name:        "CHECKPOINT",
		Usage:       "CHECKPOINT <dir>",
		Description: "Write a consistent copy of the database",
	},
	CommandStats: {
		Name:        "STATS",
		Usage:       "STATS",
		Description: "Show database counters",
	},
	CommandHelp: {
		Name:        "HELP",
		Usage:       "HELP",
		Description: "Show help message",
	},
	CommandExit: {
		Name:        "EXIT",
		Usage:       "EXIT",
		Description: "Exit the shell",
	},
}
