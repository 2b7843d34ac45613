package shell

import (
	"errors"
	"strings"
)

var (
	ErrInvalidCommand     = errors.New("invalid command")
	ErrInvalidKey         = errors.New("invalid key")
	ErrInvalidTokenCount  = errors.New("invalid number of tokens")
	ErrUnterminatedQuotes = errors.New("unterminated quoted string")
)

// Parse turns one input line into a Command. Keywords are case-insensitive;
// values containing spaces are written in single quotes.
func Parse(input string) (*Command, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return nil, ErrInvalidCommand
	}

	tokens, err := tokenize(trimmed)
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return nil, ErrInvalidCommand
	}

	keyword := strings.ToUpper(tokens[0])
	args := tokens[1:]

	switch keyword {
	case "BEGIN":
		switch {
		case len(args) == 0:
			return &Command{Type: CommandBegin}, nil
		case len(args) == 1 && strings.EqualFold(args[0], "SNAPSHOT"):
			return &Command{Type: CommandBegin, Snapshot: true}, nil
		default:
			return nil, ErrInvalidCommand
		}

	case "COMMIT":
		return bare(CommandCommit, args)
	case "ROLLBACK", "ABORT":
		return bare(CommandRollback, args)
	case "SAVEPOINT":
		return bare(CommandSavepoint, args)
	case "ROLLBACKTO":
		return bare(CommandRollbackTo, args)
	case "SNAPSHOT":
		return bare(CommandSnapshot, args)
	case "STATS":
		return bare(CommandStats, args)
	case "HELP":
		return bare(CommandHelp, args)
	case "EXIT", "QUIT":
		return bare(CommandExit, args)

	case "GET":
		return keyed(CommandGet, args)
	case "SNAPGET":
		return keyed(CommandSnapshotGet, args)
	case "DEL", "DELETE":
		return keyed(CommandDelete, args)

	case "GETFU":
		switch {
		case len(args) == 1:
			return keyed(CommandGetForUpdate, args)
		case len(args) == 2 && strings.EqualFold(args[1], "SHARED"):
			cmd, err := keyed(CommandGetForUpdate, args[:1])
			if err != nil {
				return nil, err
			}
			cmd.Shared = true
			return cmd, nil
		default:
			return nil, ErrInvalidTokenCount
		}

	case "PUT", "SET":
		return valued(CommandPut, args)
	case "MERGE":
		return valued(CommandMerge, args)

	case "SCAN":
		switch len(args) {
		case 0:
			return &Command{Type: CommandScan}, nil
		case 1:
			return &Command{Type: CommandScan, Arg: args[0]}, nil
		default:
			return nil, ErrInvalidTokenCount
		}

	case "CHECKPOINT":
		if len(args) != 1 {
			return nil, ErrInvalidTokenCount
		}
		return &Command{Type: CommandCheckpoint, Arg: args[0]}, nil

	case "CF":
		return parseColumnFamily(args)

	default:
		return nil, ErrInvalidCommand
	}
}

func parseColumnFamily(args []string) (*Command, error) {
	if len(args) == 0 {
		return nil, ErrInvalidTokenCount
	}
	sub := strings.ToUpper(args[0])
	switch sub {
	case CFList:
		if len(args) != 1 {
			return nil, ErrInvalidTokenCount
		}
		return &Command{Type: CommandColumnFamily, Arg: sub}, nil
	case CFCreate, CFDrop, CFUse:
		if len(args) != 2 {
			return nil, ErrInvalidTokenCount
		}
		return &Command{Type: CommandColumnFamily, Arg: sub, Name: args[1]}, nil
	default:
		return nil, ErrInvalidCommand
	}
}

func bare(t CommandType, args []string) (*Command, error) {
	if len(args) != 0 {
		return nil, ErrInvalidTokenCount
	}
	return &Command{Type: t}, nil
}

func keyed(t CommandType, args []string) (*Command, error) {
	if len(args) != 1 {
		return nil, ErrInvalidTokenCount
	}
	if args[0] == "" {
		return nil, ErrInvalidKey
	}
	return &Command{Type: t, Key: args[0]}, nil
}

func valued(t CommandType, args []string) (*Command, error) {
	if len(args) != 2 {
		return nil, ErrInvalidTokenCount
	}
	if args[0] == "" {
		return nil, ErrInvalidKey
	}
	return &Command{Type: t, Key: args[0], Value: []byte(args[1])}, nil
}

func tokenize(input string) ([]string, error) {
	var tokens []string
	var current strings.Builder

	inQuotes := false
	quoted := false

	flush := func() {
		if current.Len() > 0 || quoted {
			tokens = append(tokens, current.String())
		}
		current.Reset()
		quoted = false
	}

	for i := 0; i < len(input); i++ {
		c := input[i]

		switch c {
		case '\'':
			if inQuotes {
				inQuotes = false
				flush()
			} else {
				flush()
				inQuotes = true
				quoted = true
			}

		case ' ', '\t', '\n':
			if inQuotes {
				current.WriteByte(c)
				continue
			}
			flush()

		default:
			current.WriteByte(c)
		}
	}

	if inQuotes {
		return nil, ErrUnterminatedQuotes
	}
	flush()

	return tokens, nil
}
