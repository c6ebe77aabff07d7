// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cinder Contributors

// Package datafile stores free-form text blobs for plugins under simple names.
package datafile

import (
	"context"
	"strings"
	"sync"

	"github.com/samber/oops"
)

// Store persists datafile bodies by name.
type Store interface {
	// Load returns the body of name; a missing datafile yields "" and false.
	Load(ctx context.Context, name string) (string, bool, error)
	Save(ctx context.Context, name, body string) error
	// List returns the names starting with prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
	// Remove deletes name and reports whether it existed.
	Remove(ctx context.Context, name string) (bool, error)
}

// ValidateName rejects names that could escape the datafile namespace.
func ValidateName(name string) error {
	if name == "" || strings.ContainsAny(name, `./\`) {
		return oops.In("datafile").Code("INVALID_DATAFILE_NAME").
			With("name", name).
			Errorf("invalid datafile name %q", name)
	}
	return nil
}

// Datafile is the in-memory text of one named datafile. Changes stay in
// memory until Save.
type Datafile struct {
	name    string
	store   Store
	mu      sync.Mutex
	text    string
	changed bool
}

// Name returns the datafile name.
func (d *Datafile) Name() string { return d.name }

// Text returns the current text.
func (d *Datafile) Text() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.text
}

// SetText replaces the text and marks the datafile changed.
func (d *Datafile) SetText(text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.text = text
	d.changed = true
}

// Changed reports whether there are unsaved changes.
func (d *Datafile) Changed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.changed
}

// Reload replaces the text with the stored body, discarding unsaved changes.
func (d *Datafile) Reload(ctx context.Context) error {
	body, _, err := d.store.Load(ctx, d.name)
	if err != nil {
		return oops.In("datafile").With("name", d.name).Wrap(err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.text = body
	d.changed = false
	return nil
}

// Save writes the text if it changed since the last save or reload.
func (d *Datafile) Save(ctx context.Context) error {
	d.mu.Lock()
	if !d.changed {
		d.mu.Unlock()
		return nil
	}
	text := d.text
	d.changed = false
	d.mu.Unlock()

	if err := d.store.Save(ctx, d.name, text); err != nil {
		d.mu.Lock()
		d.changed = true
		d.mu.Unlock()
		return oops.In("datafile").With("name", d.name).Wrap(err)
	}
	return nil
}

// Registry hands out one Datafile per name.
type Registry struct {
	store Store
	mu    sync.Mutex
	files map[string]*Datafile
}

// NewRegistry creates a registry backed by store.
func NewRegistry(store Store) *Registry {
	return &Registry{
		store: store,
		files: make(map[string]*Datafile),
	}
}

// Get returns the datafile called name. A datafile seen before is the same
// object, reloaded from the store.
func (r *Registry) Get(ctx context.Context, name string) (*Datafile, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	r.mu.Lock()
	d, ok := r.files[name]
	if !ok {
		d = &Datafile{name: name, store: r.store}
		r.files[name] = d
	}
	r.mu.Unlock()

	if err := d.Reload(ctx); err != nil {
		return nil, err
	}
	return d, nil
}

// List returns the stored datafile names starting with prefix.
func (r *Registry) List(ctx context.Context, prefix string) ([]string, error) {
	if strings.ContainsAny(prefix, `./\`) {
		return nil, ValidateName(prefix)
	}
	return r.store.List(ctx, prefix)
}

// Remove deletes name from the store and forgets the cached object.
func (r *Registry) Remove(ctx context.Context, name string) (bool, error) {
	if err := ValidateName(name); err != nil {
		return false, err
	}
	r.mu.Lock()
	delete(r.files, name)
	r.mu.Unlock()
	return r.store.Remove(ctx, name)
}

// SaveAll saves every changed datafile, returning the first error.
func (r *Registry) SaveAll(ctx context.Context) error {
	r.mu.Lock()
	files := make([]*Datafile, 0, len(r.files))
	for _, d := range r.files {
		files = append(files, d)
	}
	r.mu.Unlock()

	var first error
	for _, d := range files {
		if err := d.Save(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}
