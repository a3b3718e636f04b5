// Copyright 2026 The Svchub Authors
// SPDX-License-Identifier: Apache-2.0

package iovec

import (
	"errors"
	"io"
)

// ErrSeekOutOfRange is returned by Seek when the resulting position
// would fall outside [0, Total()].
var ErrSeekOutOfRange = errors.New("iovec: seek out of range")

// Segment is one span of a scatter/gather buffer.
type Segment interface {
	// Len returns the declared length of the span in bytes.
	Len() int

	// Bytes returns the backing byte span. An error means the span
	// cannot be accessed (a fault); Transfer stops there and reports
	// the bytes already moved.
	Bytes() ([]byte, error)
}

// ByteSegment is a Segment backed by an ordinary byte slice. It
// never faults.
type ByteSegment []byte

// Len returns the slice length.
func (s ByteSegment) Len() int { return len(s) }

// Bytes returns the slice itself.
func (s ByteSegment) Bytes() ([]byte, error) { return s, nil }

// Bytes wraps plain byte slices as segments.
func Bytes(spans ...[]byte) []Segment {
	segments := make([]Segment, len(spans))
	for i, span := range spans {
		segments[i] = ByteSegment(span)
	}
	return segments
}

// Buffer is an ordered list of segments with a logical cursor. The
// cursor tracks the current segment, the offset within it, and the
// absolute position, so a transfer can stop mid-segment and resume.
//
// Buffer is not safe for concurrent use; callers serialize access
// (message buffers are guarded by their message's lock).
type Buffer struct {
	segments []Segment
	total    int64

	index    int   // current segment
	offset   int   // byte offset within the current segment
	position int64 // absolute logical offset
}

// New returns a Buffer over the given segments.
func New(segments ...Segment) *Buffer {
	b := &Buffer{segments: segments}
	for _, segment := range segments {
		b.total += int64(segment.Len())
	}
	return b
}

// Total returns the declared length of the whole buffer.
func (b *Buffer) Total() int64 { return b.total }

// Position returns the cursor's absolute offset.
func (b *Buffer) Position() int64 { return b.position }

// Remaining returns the number of bytes between the cursor and the
// end of the buffer.
func (b *Buffer) Remaining() int64 { return b.total - b.position }

// Seek repositions the cursor. Whence is io.SeekStart, io.SeekCurrent,
// or io.SeekEnd. The resulting position must lie within [0, Total()].
// Returns the new absolute position.
func (b *Buffer) Seek(offset int64, whence int) (int64, error) {
	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = b.position + offset
	case io.SeekEnd:
		target = b.total + offset
	default:
		return 0, ErrSeekOutOfRange
	}
	if target < 0 || target > b.total {
		return 0, ErrSeekOutOfRange
	}

	// Rewalk from the front. Buffers hold a handful of segments, so
	// a linear walk beats maintaining a prefix-sum table.
	b.index, b.offset, b.position = 0, 0, 0
	b.advance(target)
	return b.position, nil
}

// advance moves the cursor forward n bytes. n must not exceed
// Remaining().
func (b *Buffer) advance(n int64) {
	b.position += n
	for n > 0 {
		segment := b.segments[b.index]
		left := int64(segment.Len() - b.offset)
		if n < left {
			b.offset += int(n)
			return
		}
		n -= left
		b.index++
		b.offset = 0
	}
	b.skipEmpty()
}

// skipEmpty moves the cursor past zero-length segments so that
// current always lands on a span with bytes left (or the end).
func (b *Buffer) skipEmpty() {
	for b.index < len(b.segments) && b.offset >= b.segments[b.index].Len() {
		b.index++
		b.offset = 0
	}
}

// current returns the active segment and the offset within it. Only
// valid while Remaining() > 0.
func (b *Buffer) current() (Segment, int) {
	b.skipEmpty()
	return b.segments[b.index], b.offset
}
