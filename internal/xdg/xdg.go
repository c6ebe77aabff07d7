// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cinder Contributors

// Package xdg resolves the XDG Base Directory paths cinder uses by default.
package xdg

import (
	"os"
	"path/filepath"

	"github.com/samber/oops"
)

const appName = "cinder"

func dir(env string, fallback ...string) string {
	base := os.Getenv(env)
	if base == "" {
		base = filepath.Join(append([]string{os.Getenv("HOME")}, fallback...)...)
	}
	return filepath.Join(base, appName)
}

// ConfigDir returns $XDG_CONFIG_HOME/cinder, defaulting to ~/.config/cinder.
func ConfigDir() string {
	return dir("XDG_CONFIG_HOME", ".config")
}

// DataDir returns $XDG_DATA_HOME/cinder, defaulting to ~/.local/share/cinder.
// It is the default server root holding plugins/, data/ and logs/.
func DataDir() string {
	return dir("XDG_DATA_HOME", ".local", "share")
}

// ConfigFile returns the default configuration file path.
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// EnsureDir creates path and its parents with 0700 permissions.
func EnsureDir(path string) error {
	if err := os.MkdirAll(path, 0o700); err != nil {
		return oops.In("xdg").With("path", path).Wrapf(err, "create directory")
	}
	return nil
}
