// Copyright 2026 The Svchub Authors
// SPDX-License-Identifier: Apache-2.0

package hub

import (
	"errors"
	"sync/atomic"

	"github.com/svchub/svchub/lib/handle"
)

// channelRef counts the live ChannelHandle wrappers over one
// channel. The channel detaches when the last wrapper closes.
type channelRef struct {
	ch   *Channel
	refs atomic.Int32
}

// ChannelHandle is a transferable reference to a channel, suitable
// for a handle table. Dup shares the underlying channel; the channel
// itself is closed once every duplicate has been closed.
type ChannelHandle struct {
	ref    *channelRef
	closed atomic.Bool
}

func newChannelHandle(ch *Channel) *ChannelHandle {
	ref := &channelRef{ch: ch}
	ref.refs.Store(1)
	return &ChannelHandle{ref: ref}
}

// channel returns the referenced channel, or nil after Close.
func (h *ChannelHandle) channel() *Channel {
	if h.closed.Load() {
		return nil
	}
	return h.ref.ch
}

// Channel returns the channel this handle references, for sending on
// it directly. Returns nil once the handle has been closed.
func (h *ChannelHandle) Channel() *Channel { return h.channel() }

// Dup returns an additional reference to the same channel.
func (h *ChannelHandle) Dup() (handle.Resource, error) {
	if h.closed.Load() {
		return nil, errors.New("hub: channel handle is closed")
	}
	h.ref.refs.Add(1)
	return &ChannelHandle{ref: h.ref}, nil
}

// Close drops this reference. The last Close detaches the channel.
func (h *ChannelHandle) Close() error {
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}
	if h.ref.refs.Add(-1) == 0 {
		return h.ref.ch.Close()
	}
	return nil
}

// closeSilently drops the reference without a detach notice. Staged
// installs that roll back never delivered an attach, so their
// teardown must not fabricate the matching detach.
func (h *ChannelHandle) closeSilently() error {
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}
	if h.ref.refs.Add(-1) == 0 {
		return h.ref.ch.close(false)
	}
	return nil
}

// discardResource releases a resource whose staged install rolled
// back.
func discardResource(r handle.Resource) {
	if ch, ok := r.(*ChannelHandle); ok {
		ch.closeSilently()
		return
	}
	r.Close()
}
