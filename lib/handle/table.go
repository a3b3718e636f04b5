// Copyright 2026 The Svchub Authors
// SPDX-License-Identifier: Apache-2.0

package handle

import (
	"errors"
	"sync"

	"github.com/svchub/svchub/lib/idspace"
)

// ErrBadHandle is returned for ids that are unassigned or reserved
// but not yet settled.
var ErrBadHandle = errors.New("handle: no such handle")

// ErrExhausted is returned when the handle id space is saturated.
var ErrExhausted = errors.New("handle: handle space exhausted")

// Table is one context's handle namespace. Ids are the smallest free
// non-negative integers. Safe for concurrent use.
type Table struct {
	mu       sync.Mutex
	ids      *idspace.Space
	entries  map[int32]Resource
	reserved map[int32]struct{}
	closed   bool
}

// NewTable returns an empty handle table.
func NewTable() *Table {
	return &Table{
		ids:      idspace.New(0),
		entries:  make(map[int32]Resource),
		reserved: make(map[int32]struct{}),
	}
}

// Install assigns the smallest free id to r and returns it. The
// table takes ownership of r.
func (t *Table) Install(r Resource) (int32, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, ErrBadHandle
	}
	id, err := t.ids.Allocate()
	if err != nil {
		return 0, ErrExhausted
	}
	t.entries[id] = r
	return id, nil
}

// Get returns the resource at id. The table retains ownership; use
// Dup on the result to obtain an independent reference.
func (t *Table) Get(id int32) (Resource, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.entries[id]
	if !ok {
		return nil, ErrBadHandle
	}
	return r, nil
}

// Remove detaches the resource at id, frees the id, and returns the
// resource without closing it. Ownership passes to the caller.
func (t *Table) Remove(id int32) (Resource, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.entries[id]
	if !ok {
		return nil, ErrBadHandle
	}
	delete(t.entries, id)
	t.ids.Release(id)
	return r, nil
}

// Reserve claims the smallest free id without binding a resource.
// The id stays unusable until settled with Install or Discard. Used
// by in-flight transactions that must name the handle id before the
// transfer is committed.
func (t *Table) Reserve() (int32, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, ErrBadHandle
	}
	id, err := t.ids.Allocate()
	if err != nil {
		return 0, ErrExhausted
	}
	t.reserved[id] = struct{}{}
	return id, nil
}

// InstallReserved binds r to a previously reserved id.
func (t *Table) InstallReserved(id int32, r Resource) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.reserved[id]; !ok {
		return ErrBadHandle
	}
	delete(t.reserved, id)
	t.entries[id] = r
	return nil
}

// Discard releases a reservation without binding a resource.
func (t *Table) Discard(id int32) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.reserved[id]; !ok {
		return ErrBadHandle
	}
	delete(t.reserved, id)
	t.ids.Release(id)
	return nil
}

// Close closes every resource in the table and marks it unusable.
// Pending reservations are dropped; their later settlement fails
// with ErrBadHandle.
func (t *Table) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true

	var errs []error
	for id, r := range t.entries {
		if err := r.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(t.entries, id)
	}
	for id := range t.reserved {
		delete(t.reserved, id)
	}
	return errors.Join(errs...)
}

// Count returns the number of bound handles (reservations excluded).
func (t *Table) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
