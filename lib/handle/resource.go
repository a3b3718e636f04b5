// Copyright 2026 The Svchub Authors
// SPDX-License-Identifier: Apache-2.0

package handle

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Resource is a transferable reference to an underlying object.
type Resource interface {
	// Dup returns a new independent reference to the same underlying
	// object. Closing one reference does not affect the other.
	Dup() (Resource, error)

	// Close releases this reference.
	Close() error
}

// File is a Resource backed by an open file descriptor. NewFile
// adopts the descriptor: the File owns it and Close releases it.
type File struct {
	fd int
}

// NewFile adopts fd as a File resource.
func NewFile(fd int) *File {
	return &File{fd: fd}
}

// Fd returns the underlying descriptor. The File retains ownership.
func (f *File) Fd() int { return f.fd }

// Dup duplicates the descriptor with close-on-exec set, so handles
// never leak across an exec into unrelated programs.
func (f *File) Dup() (Resource, error) {
	duplicated, err := unix.FcntlInt(uintptr(f.fd), unix.F_DUPFD_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("duplicating fd %d: %w", f.fd, err)
	}
	return &File{fd: duplicated}, nil
}

// Close closes the descriptor.
func (f *File) Close() error {
	return unix.Close(f.fd)
}
