// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cinder Contributors

// Package config loads cinder's configuration from an optional YAML file
// and command-line flags.
package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/cinderhost/cinder/internal/bridge"
	"github.com/cinderhost/cinder/internal/xdg"
)

// Datastore backends.
const (
	DatastoreFile     = "file"
	DatastorePostgres = "postgres"
)

// Config is the resolved configuration.
type Config struct {
	Root           string        `koanf:"root"`
	TickRate       time.Duration `koanf:"tick-rate"`
	LogFormat      string        `koanf:"log-format"`
	LogLevel       string        `koanf:"log-level"`
	MetricsAddr    string        `koanf:"metrics-addr"`
	MaxInFlight    int           `koanf:"max-in-flight"`
	RequestTimeout time.Duration `koanf:"request-timeout"`
	Datastore      string        `koanf:"datastore"`
	DatabaseURL    string        `koanf:"database-url"`

	Policy bridge.PolicyConfig `koanf:",squash"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Root:           xdg.DataDir(),
		TickRate:       50 * time.Millisecond,
		LogFormat:      "json",
		LogLevel:       "info",
		MaxInFlight:    3,
		RequestTimeout: 30 * time.Second,
		Datastore:      DatastoreFile,
		Policy:         bridge.DefaultPolicyConfig(),
	}
}

// RegisterFlags adds one flag per key to flags. Flag defaults are the
// configuration defaults.
func RegisterFlags(flags *pflag.FlagSet) {
	d := Default()
	flags.String("root", d.Root, "server directory holding plugins/, data/ and logs/")
	flags.Duration("tick-rate", d.TickRate, "poll loop interval")
	flags.String("log-format", d.LogFormat, "log format (json or text)")
	flags.String("log-level", d.LogLevel, "minimum log level (debug, info, warn, error)")
	flags.String("metrics-addr", d.MetricsAddr, "metrics and health listen address (empty disables)")
	flags.Int("max-in-flight", d.MaxInFlight, "maximum concurrent plugin web requests")
	flags.Duration("request-timeout", d.RequestTimeout, "plugin web request timeout")
	flags.String("datastore", d.Datastore, "datafile backend (file or postgres)")
	flags.String("database-url", d.DatabaseURL, "PostgreSQL URL for the postgres datastore")
	flags.StringSlice("policy-deny", d.Policy.Deny, "type name patterns scripts may not resolve")
	flags.StringSlice("policy-allow-core", d.Policy.AllowCore, "standard library roots scripts may resolve")
	flags.StringSlice("policy-host-module", d.Policy.HostModules, "package prefixes belonging to the host")
}

// Load reads path, then applies flags. Unset flags only fill keys the file
// left out. An empty path means the default config file, which may be
// absent; an explicit path must exist. A nil flags uses RegisterFlags
// defaults.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	explicit := path != ""
	if !explicit {
		path = xdg.ConfigFile()
	}
	_, statErr := os.Stat(path)
	if explicit || !errors.Is(statErr, fs.ErrNotExist) {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.In("config").Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
		}
	}

	if flags == nil {
		flags = pflag.NewFlagSet("cinder", pflag.ContinueOnError)
		RegisterFlags(flags)
	}
	if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
		return nil, oops.In("config").Code("CONFIG_LOAD_FAILED").Wrap(err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.In("config").Code("CONFIG_INVALID").With("path", path).Wrap(err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges and combinations.
func (c *Config) Validate() error {
	invalid := func(key string, value any, msg string) error {
		return oops.In("config").Code("CONFIG_INVALID").With("key", key).With("value", value).Errorf("%s", msg)
	}
	switch {
	case c.Root == "":
		return invalid("root", c.Root, "root must be set")
	case c.TickRate <= 0:
		return invalid("tick-rate", c.TickRate.String(), "tick-rate must be positive")
	case c.LogFormat != "json" && c.LogFormat != "text":
		return invalid("log-format", c.LogFormat, "log-format must be json or text")
	case c.MaxInFlight < 1:
		return invalid("max-in-flight", c.MaxInFlight, "max-in-flight must be at least 1")
	case c.RequestTimeout <= 0:
		return invalid("request-timeout", c.RequestTimeout.String(), "request-timeout must be positive")
	case c.Datastore != DatastoreFile && c.Datastore != DatastorePostgres:
		return invalid("datastore", c.Datastore, "datastore must be file or postgres")
	case c.Datastore == DatastorePostgres && c.DatabaseURL == "":
		return invalid("database-url", "", "database-url is required for the postgres datastore")
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	if _, err := bridge.NewPolicy(c.Policy); err != nil {
		return oops.In("config").Code("CONFIG_INVALID").With("key", "policy-deny").Errorf("invalid policy: %v", err)
	}
	return nil
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, oops.In("config").Code("CONFIG_INVALID").With("key", "log-level").With("value", c.LogLevel).Wrap(err)
	}
	return level, nil
}

// PluginsDir is <root>/plugins.
func (c *Config) PluginsDir() string { return filepath.Join(c.Root, "plugins") }

// DataDir is <root>/data, used by the file datastore.
func (c *Config) DataDir() string { return filepath.Join(c.Root, "data") }

// LogsDir is <root>/logs.
func (c *Config) LogsDir() string { return filepath.Join(c.Root, "logs") }

// EnsureDirs creates the root subdirectories.
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{c.PluginsDir(), c.DataDir(), c.LogsDir()} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return oops.In("config").With("path", dir).Wrapf(err, "create directory")
		}
	}
	return nil
}
