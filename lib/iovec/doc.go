// Copyright 2026 The Svchub Authors
// SPDX-License-Identifier: Apache-2.0

// Package iovec implements scatter/gather byte buffers and the
// transfer primitive that copies between two of them.
//
// A Buffer is an ordered list of segments viewed as one logical byte
// range, with a cursor that survives partial transfers. Transfer
// copies min(remaining(dst), remaining(src)) bytes segment by
// segment; if any segment cannot be accessed it stops and reports
// the exact prefix length already moved, attributed to the side that
// faulted.
//
// Segments backed by plain byte slices never fault. The Segment
// interface exists so other backings (remote memory windows, test
// doubles) can participate in the same transfer path with the same
// partial-failure semantics.
package iovec
