// Package config provides functionality for managing configuration options
// of the ShareKeeper server using command-line flags, an optional JSON or
// YAML file and environment variables.
package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrNoSessionKey is returned by SessionKey when no key is configured.
var ErrNoSessionKey = errors.New("session key is required")

// Options holds the configuration values for the server.
type Options struct {
	// Addr is the wire protocol listening address (ip:port).
	Addr string `json:"address" yaml:"address"`

	// Peer is the address of the server that shares refreshes with this one.
	Peer string `json:"peer" yaml:"peer"`

	// Key is the session key as hex, with or without a 0x prefix.
	Key string `json:"key" yaml:"key"`

	// Sync enables a share refresh with Peer after every successful read.
	Sync bool `json:"sync" yaml:"sync"`

	// DatabaseDSN selects the Postgres backend when set.
	DatabaseDSN string `json:"database_dsn" yaml:"database_dsn"`

	// Snapshot is the snapshot file of the in-memory backend. Empty disables it.
	Snapshot string `json:"snapshot" yaml:"snapshot"`

	// SnapshotInterval is the period between snapshot writes.
	SnapshotInterval time.Duration `json:"snapshot_interval" yaml:"snapshot_interval"`

	// SnapshotPassphrase seals snapshot files when set.
	SnapshotPassphrase string `json:"snapshot_passphrase" yaml:"snapshot_passphrase"`

	// RateLimit caps accepted connections per second per remote IP; 0 disables it.
	RateLimit float64 `json:"rate_limit" yaml:"rate_limit"`

	// RateBurst is the per-IP connection burst.
	RateBurst int `json:"rate_burst" yaml:"rate_burst"`

	// StatusAddr enables the HTTP status API on this address when set.
	StatusAddr string `json:"status_address" yaml:"status_address"`

	// Timeout bounds the handshake and every received word.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `json:"log_level" yaml:"log_level"`

	// Config is the path to the config file.
	Config string `json:"-" yaml:"-"`
}

// SessionKey parses Key as a 32-bit hex value.
func (o *Options) SessionKey() (uint32, error) {
	s := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(o.Key)), "0x")
	if s == "" {
		return 0, ErrNoSessionKey
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("parse session key %q: %w", o.Key, err)
	}
	return uint32(v), nil
}

// Parse reads the process arguments and environment. It exits the process
// on invalid input.
func Parse() *Options {
	opts, err := ParseArgs(os.Args[1:])
	if err != nil {
		log.Fatalf("error while parsing configuration: %v", err)
	}
	return opts
}

// ParseArgs builds Options from args. Precedence, lowest first: defaults,
// config file, explicitly given flags, environment variables.
func ParseArgs(args []string) (*Options, error) {
	options := &Options{}
	fs := flag.NewFlagSet("sharekeeper-server", flag.ContinueOnError)
	fs.StringVar(&options.Addr, "a", "127.0.0.1:7001", "run on ip:port server")
	fs.StringVar(&options.Peer, "p", "", "refresh peer ip:port")
	fs.StringVar(&options.Key, "k", "", "session key (hex)")
	fs.BoolVar(&options.Sync, "s", false, "refresh shares with the peer after every read")
	fs.StringVar(&options.DatabaseDSN, "d", "", "db address")
	fs.StringVar(&options.Snapshot, "snapshot", "", "snapshot file for the in-memory store")
	fs.DurationVar(&options.SnapshotInterval, "snapshot-interval", 30*time.Second, "snapshot period")
	fs.StringVar(&options.SnapshotPassphrase, "snapshot-pass", "", "passphrase sealing the snapshot file")
	fs.Float64Var(&options.RateLimit, "rate", 0, "connections per second per remote IP (0 = unlimited)")
	fs.IntVar(&options.RateBurst, "burst", 10, "per-IP connection burst")
	fs.StringVar(&options.StatusAddr, "status", "", "status API ip:port (disabled when empty)")
	fs.DurationVar(&options.Timeout, "t", 2*time.Second, "network timeout")
	fs.StringVar(&options.LogLevel, "l", "info", "log level")
	fs.StringVar(&options.Config, "config", "", "path to config file")
	fs.StringVar(&options.Config, "c", "", "path to config file (shorthand)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	explicit := make(map[string]string)
	fs.Visit(func(f *flag.Flag) {
		explicit[f.Name] = f.Value.String()
	})

	if configPath := os.Getenv("CONFIG"); configPath != "" {
		options.Config = configPath
	}
	if options.Config != "" {
		if err := loadFile(options.Config, options); err != nil {
			return nil, err
		}
		for name, value := range explicit {
			if err := fs.Set(name, value); err != nil {
				return nil, fmt.Errorf("reapply flag -%s: %w", name, err)
			}
		}
	}

	if err := applyEnv(options); err != nil {
		return nil, err
	}
	if options.Timeout <= 0 {
		return nil, fmt.Errorf("timeout must be positive, got %s", options.Timeout)
	}
	if options.SnapshotInterval <= 0 {
		return nil, fmt.Errorf("snapshot interval must be positive, got %s", options.SnapshotInterval)
	}
	return options, nil
}

func loadFile(path string, options *Options) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("error while reading config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, options)
	default:
		err = unmarshalJSON(data, options)
	}
	if err != nil {
		return fmt.Errorf("error while parsing config file: %w", err)
	}
	return nil
}

// jsonDuration accepts either a time.ParseDuration string or a number of
// nanoseconds.
type jsonDuration time.Duration

func (d *jsonDuration) UnmarshalJSON(data []byte) error {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		*d = jsonDuration(value)
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		*d = jsonDuration(parsed)
	default:
		return fmt.Errorf("invalid duration %s", data)
	}
	return nil
}

func unmarshalJSON(data []byte, options *Options) error {
	type plain Options
	file := struct {
		*plain
		SnapshotInterval *jsonDuration `json:"snapshot_interval"`
		Timeout          *jsonDuration `json:"timeout"`
	}{plain: (*plain)(options)}

	if err := json.Unmarshal(data, &file); err != nil {
		return err
	}
	if file.SnapshotInterval != nil {
		options.SnapshotInterval = time.Duration(*file.SnapshotInterval)
	}
	if file.Timeout != nil {
		options.Timeout = time.Duration(*file.Timeout)
	}
	return nil
}

func applyEnv(options *Options) error {
	if v := os.Getenv("SERVER_ADDRESS"); v != "" {
		options.Addr = v
	}
	if v := os.Getenv("PEER_ADDRESS"); v != "" {
		options.Peer = v
	}
	if v := os.Getenv("SESSION_KEY"); v != "" {
		options.Key = v
	}
	if v := os.Getenv("SYNC"); v != "" {
		sync, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parse SYNC: %w", err)
		}
		options.Sync = sync
	}
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		options.DatabaseDSN = v
	}
	if v := os.Getenv("SNAPSHOT_PASSPHRASE"); v != "" {
		options.SnapshotPassphrase = v
	}
	if v := os.Getenv("STATUS_ADDRESS"); v != "" {
		options.StatusAddr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		options.LogLevel = v
	}
	return nil
}
