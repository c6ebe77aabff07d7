// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cinder Contributors

package datafile

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/samber/oops"
)

const fileExt = ".txt"

// FileStore keeps each datafile as <dir>/<name>.txt.
type FileStore struct {
	dir string
}

// NewFileStore creates a store in dir. The directory is created on first save.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

func (s *FileStore) path(name string) string {
	return filepath.Join(s.dir, name+fileExt)
}

// Load implements Store.
func (s *FileStore) Load(_ context.Context, name string) (string, bool, error) {
	data, err := os.ReadFile(s.path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, oops.In("datafile").Code("DATAFILE_READ_FAILED").With("name", name).Wrap(err)
	}
	return string(data), true, nil
}

// Save implements Store.
func (s *FileStore) Save(_ context.Context, name, body string) error {
	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return oops.In("datafile").Code("DATAFILE_WRITE_FAILED").With("dir", s.dir).Wrap(err)
	}
	tmp, err := os.CreateTemp(s.dir, name+".*.tmp")
	if err != nil {
		return oops.In("datafile").Code("DATAFILE_WRITE_FAILED").With("name", name).Wrap(err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.WriteString(body); err != nil {
		_ = tmp.Close()
		return oops.In("datafile").Code("DATAFILE_WRITE_FAILED").With("name", name).Wrap(err)
	}
	if err := tmp.Close(); err != nil {
		return oops.In("datafile").Code("DATAFILE_WRITE_FAILED").With("name", name).Wrap(err)
	}
	if err := os.Rename(tmp.Name(), s.path(name)); err != nil {
		return oops.In("datafile").Code("DATAFILE_WRITE_FAILED").With("name", name).Wrap(err)
	}
	return nil
}

// List implements Store.
func (s *FileStore) List(_ context.Context, prefix string) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, oops.In("datafile").Code("DATAFILE_READ_FAILED").With("dir", s.dir).Wrap(err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != fileExt {
			continue
		}
		name := strings.TrimSuffix(e.Name(), fileExt)
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Remove implements Store.
func (s *FileStore) Remove(_ context.Context, name string) (bool, error) {
	err := os.Remove(s.path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, oops.In("datafile").Code("DATAFILE_WRITE_FAILED").With("name", name).Wrap(err)
	}
	return true, nil
}
