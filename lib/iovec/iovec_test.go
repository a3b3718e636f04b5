// Copyright 2026 The Svchub Authors
// SPDX-License-Identifier: Apache-2.0

package iovec

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

// faultSegment fails every access, modeling an unreachable span.
type faultSegment int

func (s faultSegment) Len() int               { return int(s) }
func (s faultSegment) Bytes() ([]byte, error) { return nil, errors.New("unreachable span") }

func TestBufferTotals(t *testing.T) {
	t.Parallel()

	b := New(Bytes([]byte("abc"), nil, []byte("defgh"))...)
	if got := b.Total(); got != 8 {
		t.Errorf("Total = %d, want 8", got)
	}
	if got := b.Remaining(); got != 8 {
		t.Errorf("Remaining = %d, want 8", got)
	}
}

func TestSeek(t *testing.T) {
	t.Parallel()

	b := New(Bytes([]byte("abcd"), []byte("efgh"))...)

	pos, err := b.Seek(6, io.SeekStart)
	if err != nil {
		t.Fatalf("Seek: %v", err)
	}
	if pos != 6 {
		t.Errorf("Seek = %d, want 6", pos)
	}

	// The cursor lands mid second segment; a transfer picks up there.
	dst := make([]byte, 2)
	n, err := Transfer(New(Bytes(dst)...), b)
	if err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if n != 2 || !bytes.Equal(dst, []byte("gh")) {
		t.Errorf("Transfer after seek = %d %q, want 2 %q", n, dst, "gh")
	}

	if _, err := b.Seek(-2, io.SeekEnd); err != nil {
		t.Fatalf("SeekEnd: %v", err)
	}
	if got := b.Remaining(); got != 2 {
		t.Errorf("Remaining after SeekEnd(-2) = %d, want 2", got)
	}

	if _, err := b.Seek(-1, io.SeekStart); !errors.Is(err, ErrSeekOutOfRange) {
		t.Errorf("Seek(-1) = %v, want ErrSeekOutOfRange", err)
	}
	if _, err := b.Seek(1, io.SeekEnd); !errors.Is(err, ErrSeekOutOfRange) {
		t.Errorf("Seek past end = %v, want ErrSeekOutOfRange", err)
	}
}

func TestTransferMinOfTotals(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		src  [][]byte
		dst  []int // destination segment sizes
		want int
	}{
		{"dst shorter", [][]byte{[]byte("hello"), []byte("world")}, []int{3, 4}, 7},
		{"src shorter", [][]byte{[]byte("hi")}, []int{8, 8}, 2},
		{"equal uneven split", [][]byte{[]byte("abc"), []byte("defg")}, []int{1, 2, 4}, 7},
		{"empty src", nil, []int{4}, 0},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			src := New(Bytes(tt.src...)...)
			var flat []byte
			for _, span := range tt.src {
				flat = append(flat, span...)
			}

			dstSpans := make([][]byte, len(tt.dst))
			for i, size := range tt.dst {
				dstSpans[i] = make([]byte, size)
			}
			dst := New(Bytes(dstSpans...)...)

			n, err := Transfer(dst, src)
			if err != nil {
				t.Fatalf("Transfer: %v", err)
			}
			if n != tt.want {
				t.Errorf("Transfer = %d, want %d", n, tt.want)
			}

			var got []byte
			for _, span := range dstSpans {
				got = append(got, span...)
			}
			got = got[:n]
			if !bytes.Equal(got, flat[:n]) {
				t.Errorf("transferred bytes = %q, want %q", got, flat[:n])
			}
			if src.Position() != int64(n) || dst.Position() != int64(n) {
				t.Errorf("cursors = %d/%d, want %d", src.Position(), dst.Position(), n)
			}
		})
	}
}

func TestTransferN(t *testing.T) {
	t.Parallel()

	src := New(Bytes([]byte("abcdefgh"))...)
	dst := make([]byte, 8)
	n, err := TransferN(New(Bytes(dst)...), src, 3)
	if err != nil {
		t.Fatalf("TransferN: %v", err)
	}
	if n != 3 || !bytes.Equal(dst[:3], []byte("abc")) {
		t.Errorf("TransferN = %d %q, want 3 %q", n, dst[:3], "abc")
	}
	if got := src.Remaining(); got != 5 {
		t.Errorf("src.Remaining = %d, want 5", got)
	}
}

func TestTransferFaultReportsPrefix(t *testing.T) {
	t.Parallel()

	// Source faults in its second segment: exactly the first
	// segment's bytes move.
	src := New(ByteSegment("abcd"), faultSegment(4), ByteSegment("wxyz"))
	dst := make([]byte, 12)

	n, err := Transfer(New(Bytes(dst)...), src)
	if n != 4 {
		t.Errorf("Transfer = %d, want 4", n)
	}
	var fault *FaultError
	if !errors.As(err, &fault) {
		t.Fatalf("Transfer error = %v, want *FaultError", err)
	}
	if fault.Transferred != 4 || !fault.Source {
		t.Errorf("fault = %+v, want Transferred=4 Source=true", fault)
	}
	if !bytes.Equal(dst[:4], []byte("abcd")) {
		t.Errorf("prefix = %q, want %q", dst[:4], "abcd")
	}

	// Destination faults: attribution flips.
	src = New(ByteSegment("abcdefgh"))
	dstBuffer := New(ByteSegment(make([]byte, 2)), faultSegment(6))
	n, err = Transfer(dstBuffer, src)
	if n != 2 {
		t.Errorf("Transfer = %d, want 2", n)
	}
	if !errors.As(err, &fault) {
		t.Fatalf("Transfer error = %v, want *FaultError", err)
	}
	if fault.Transferred != 2 || fault.Source {
		t.Errorf("fault = %+v, want Transferred=2 Source=false", fault)
	}
}

func TestTransferResumesAcrossCalls(t *testing.T) {
	t.Parallel()

	src := New(Bytes([]byte("abcdefgh"))...)

	first := make([]byte, 3)
	if _, err := Transfer(New(Bytes(first)...), src); err != nil {
		t.Fatalf("first Transfer: %v", err)
	}
	second := make([]byte, 5)
	if _, err := Transfer(New(Bytes(second)...), src); err != nil {
		t.Fatalf("second Transfer: %v", err)
	}

	if !bytes.Equal(first, []byte("abc")) || !bytes.Equal(second, []byte("defgh")) {
		t.Errorf("resumed transfer = %q + %q, want %q + %q", first, second, "abc", "defgh")
	}
}
