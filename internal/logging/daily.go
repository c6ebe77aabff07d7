// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cinder Contributors

package logging

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/samber/oops"
)

// DailyFile is an io.Writer appending to <dir>/<prefix>_YYYY-MM-DD.log,
// switching files when the local date changes.
type DailyFile struct {
	dir    string
	prefix string
	now    func() time.Time

	mu   sync.Mutex
	day  string
	file *os.File
}

// DailyOption configures a DailyFile.
type DailyOption func(*DailyFile)

// WithNow replaces the clock used to pick the file, for tests.
func WithNow(now func() time.Time) DailyOption {
	return func(d *DailyFile) {
		d.now = now
	}
}

// NewDailyFile creates a writer for dir. Nothing is opened until the first
// Write.
func NewDailyFile(dir, prefix string, opts ...DailyOption) *DailyFile {
	d := &DailyFile{dir: dir, prefix: prefix, now: time.Now}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Path returns the file the next Write goes to.
func (d *DailyFile) Path() string {
	return d.pathFor(d.now().Format(time.DateOnly))
}

func (d *DailyFile) pathFor(day string) string {
	return filepath.Join(d.dir, d.prefix+"_"+day+".log")
}

func (d *DailyFile) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	day := d.now().Format(time.DateOnly)
	if d.file == nil || day != d.day {
		if err := d.rotate(day); err != nil {
			return 0, err
		}
	}
	n, err := d.file.Write(p)
	if err != nil {
		return n, oops.In("logging").With("path", d.file.Name()).Wrap(err)
	}
	return n, nil
}

func (d *DailyFile) rotate(day string) error {
	if d.file != nil {
		_ = d.file.Close()
		d.file = nil
	}
	if err := os.MkdirAll(d.dir, 0o750); err != nil {
		return oops.In("logging").With("dir", d.dir).Wrap(err)
	}
	path := d.pathFor(day)
	f, err := os.OpenFile(filepath.Clean(path), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return oops.In("logging").With("path", path).Wrap(err)
	}
	d.file = f
	d.day = day
	return nil
}

// Close closes the current file.
func (d *DailyFile) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file == nil {
		return nil
	}
	err := d.file.Close()
	d.file = nil
	if err != nil {
		return oops.In("logging").Wrap(err)
	}
	return nil
}
