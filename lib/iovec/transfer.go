// Copyright 2026 The Svchub Authors
// SPDX-License-Identifier: Apache-2.0

package iovec

import "fmt"

// FaultError reports a transfer that stopped because a segment could
// not be accessed. Transferred is the exact number of bytes already
// moved before the fault; both cursors have advanced by that amount.
type FaultError struct {
	// Transferred is the prefix length moved before the fault.
	Transferred int

	// Source is true when the faulting segment was on the source
	// side of the transfer, false for the destination side.
	Source bool
}

func (e *FaultError) Error() string {
	side := "destination"
	if e.Source {
		side = "source"
	}
	return fmt.Sprintf("iovec: %s segment fault after %d bytes", side, e.Transferred)
}

// Transfer copies min(dst.Remaining(), src.Remaining()) bytes from
// src to dst, advancing both cursors. On a segment fault it returns
// the bytes moved so far and a *FaultError.
func Transfer(dst, src *Buffer) (int, error) {
	return TransferN(dst, src, -1)
}

// TransferN is Transfer with an additional byte limit. A negative
// limit means no limit beyond the buffers' remaining lengths.
func TransferN(dst, src *Buffer, limit int64) (int, error) {
	remaining := src.Remaining()
	if dst.Remaining() < remaining {
		remaining = dst.Remaining()
	}
	if limit >= 0 && limit < remaining {
		remaining = limit
	}

	moved := 0
	for int64(moved) < remaining {
		srcSegment, srcOffset := src.current()
		dstSegment, dstOffset := dst.current()

		n := srcSegment.Len() - srcOffset
		if left := dstSegment.Len() - dstOffset; left < n {
			n = left
		}
		if left := remaining - int64(moved); int64(n) > left {
			n = int(left)
		}

		srcBytes, err := srcSegment.Bytes()
		if err != nil {
			return moved, &FaultError{Transferred: moved, Source: true}
		}
		dstBytes, err := dstSegment.Bytes()
		if err != nil {
			return moved, &FaultError{Transferred: moved, Source: false}
		}

		copy(dstBytes[dstOffset:dstOffset+n], srcBytes[srcOffset:srcOffset+n])
		src.advance(int64(n))
		dst.advance(int64(n))
		moved += n
	}
	return moved, nil
}
