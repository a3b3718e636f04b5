// Copyright 2026 The Svchub Authors
// SPDX-License-Identifier: Apache-2.0

package idspace

import (
	"container/heap"
	"errors"
	"fmt"
	"sync"
)

// ErrExhausted is returned by Allocate when every identifier up to
// the space's limit is assigned.
var ErrExhausted = errors.New("idspace: identifier space exhausted")

// Space allocates the smallest free non-negative identifier. The zero
// value is not usable; create a Space with New.
type Space struct {
	mu sync.Mutex

	// next is the lowest identifier never handed out. Identifiers
	// below next that are currently free sit in the free heap.
	next int32

	// free is a min-heap of released identifiers, with freeSet
	// mirroring its membership for O(1) double-release detection.
	free    intHeap
	freeSet map[int32]struct{}

	// limit is the first identifier that may not be allocated.
	limit int32
}

// New returns a Space issuing identifiers in [0, limit). A limit of
// zero means the full non-negative int32 range.
func New(limit int32) *Space {
	if limit <= 0 {
		limit = 1<<31 - 1
	}
	return &Space{limit: limit, freeSet: make(map[int32]struct{})}
}

// Allocate returns the smallest identifier not currently assigned.
func (s *Space) Allocate() (int32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.free) > 0 {
		id := heap.Pop(&s.free).(int32)
		delete(s.freeSet, id)
		return id, nil
	}
	if s.next >= s.limit {
		return 0, ErrExhausted
	}
	id := s.next
	s.next++
	return id, nil
}

// Release returns id to the free pool. The caller must guarantee no
// live reference still uses it. Releasing an identifier that was
// never allocated (or releasing one twice) panics: both indicate a
// bookkeeping bug that would otherwise surface as two objects sharing
// an id.
func (s *Space) Release(id int32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id < 0 || id >= s.next {
		panic(fmt.Sprintf("idspace: release of unallocated id %d", id))
	}
	if _, dup := s.freeSet[id]; dup {
		panic(fmt.Sprintf("idspace: double release of id %d", id))
	}
	heap.Push(&s.free, id)
	s.freeSet[id] = struct{}{}
}

// InUse reports how many identifiers are currently assigned.
func (s *Space) InUse() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int(s.next) - len(s.free)
}

// intHeap is a min-heap of int32 identifiers.
type intHeap []int32

func (h intHeap) Len() int           { return len(h) }
func (h intHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h intHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *intHeap) Push(x any)        { *h = append(*h, x.(int32)) }

func (h *intHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
