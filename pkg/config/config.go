// Package config loads database configuration from YAML files.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dd0wney/cluso-txkv/pkg/engine"
	"github.com/dd0wney/cluso-txkv/pkg/logging"
	"github.com/dd0wney/cluso-txkv/pkg/txdb"
)

// Config is the on-disk configuration of a database
type Config struct {
	DataDir               string   `yaml:"data_dir"`
	CreateIfMissing       bool     `yaml:"create_if_missing"`
	ColumnFamilies        []string `yaml:"column_families" validate:"omitempty,unique,dive,cfname"`
	ConcurrencyMode       string   `yaml:"concurrency_mode" validate:"oneof=pessimistic optimistic"`
	LockTimeoutMs         int64    `yaml:"lock_timeout_ms" validate:"gte=-1"`
	DefaultLockTimeoutMs  int64    `yaml:"default_lock_timeout_ms" validate:"gte=-1"`
	DeadlockDetect        bool     `yaml:"deadlock_detect"`
	MaxNumLocks           int      `yaml:"max_num_locks" validate:"gte=-1"`
	MaxActiveTransactions int      `yaml:"max_active_transactions" validate:"gte=0"`
	MergeCacheSize        int      `yaml:"merge_cache_size" validate:"gte=0,lte=1048576"`
	WALCompression        bool     `yaml:"wal_compression"`
	DisableWAL            bool     `yaml:"disable_wal"`
	Sync                  bool     `yaml:"sync"`
	LogLevel              string   `yaml:"log_level" validate:"oneof=debug info warn error"`
	LogFormat             string   `yaml:"log_format" validate:"oneof=json text"`
	MergeOperator         string   `yaml:"merge_operator" validate:"omitempty,oneof=concat uint64add"`
	MetricsAddr           string   `yaml:"metrics_addr" validate:"omitempty,hostname_port"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		CreateIfMissing:      true,
		ConcurrencyMode:      "pessimistic",
		LockTimeoutMs:        engine.DefaultLockTimeoutMs,
		DefaultLockTimeoutMs: engine.DefaultLockTimeoutMs,
		MaxNumLocks:          -1,
		MergeCacheSize:       1024,
		LogLevel:             "info",
		LogFormat:            "json",
		MergeOperator:        "concat",
	}
}

// Parse decodes YAML on top of the defaults and validates the result
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads and parses the file at path
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// Validate checks field tags and cross-field rules
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return formatValidationError(err)
	}

	return newChecker("Config").
		When(c.DisableWAL, func(ch *checker) {
			if c.Sync {
				ch.Fail("Sync", "requires the write-ahead log")
			}
			if c.WALCompression {
				ch.Fail("WALCompression", "requires the write-ahead log")
			}
		}).
		When(c.MaxNumLocks > 0 && c.MaxActiveTransactions > c.MaxNumLocks, func(ch *checker) {
			ch.Fail("MaxActiveTransactions", "%d exceeds MaxNumLocks %d", c.MaxActiveTransactions, c.MaxNumLocks)
		}).
		Custom("MergeOperator", func() error {
			_, err := txdb.MergeOperatorByName(c.MergeOperator)
			return err
		}).
		Err()
}

// Logger builds the logger the configuration asks for
func (c *Config) Logger() logging.Logger {
	level := logging.ParseLevel(c.LogLevel)
	if c.LogFormat == "text" {
		return logging.NewTextLogger(os.Stderr, level)
	}
	return logging.NewJSONLogger(os.Stderr, level)
}

// Options converts the configuration into database options. logger may be nil.
func (c *Config) Options(logger logging.Logger) (*txdb.Options, error) {
	mo, err := txdb.MergeOperatorByName(c.MergeOperator)
	if err != nil {
		return nil, err
	}

	mode := engine.Pessimistic
	if c.ConcurrencyMode == "optimistic" {
		mode = engine.Optimistic
	}

	opts := txdb.DefaultOptions()
	opts.CreateIfMissing = c.CreateIfMissing
	opts.MergeOperator = mo
	opts.ConcurrencyMode = mode
	opts.TransactionLockTimeout = c.LockTimeoutMs
	opts.DefaultLockTimeout = c.DefaultLockTimeoutMs
	opts.MaxNumLocks = c.MaxNumLocks
	opts.MaxActiveTransactions = c.MaxActiveTransactions
	opts.MergeCacheSize = c.MergeCacheSize
	opts.WALCompression = c.WALCompression
	opts.DisableWAL = c.DisableWAL
	opts.SyncWrites = c.Sync
	opts.CreateMissingColumnFamilies = true
	opts.Logger = logger
	return opts, nil
}

// TransactionOptions returns the options for transactions begun by tools
// driven by this configuration
func (c *Config) TransactionOptions() *txdb.TransactionOptions {
	return &txdb.TransactionOptions{
		LockTimeout:    c.LockTimeoutMs,
		DeadlockDetect: c.DeadlockDetect,
	}
}

// Open opens the configured database with all configured column families
func (c *Config) Open(logger logging.Logger) (*txdb.DB, error) {
	opts, err := c.Options(logger)
	if err != nil {
		return nil, err
	}
	return txdb.OpenCF(c.DataDir, opts, c.ColumnFamilies...)
}
