// Copyright 2026 The Svchub Authors
// SPDX-License-Identifier: Apache-2.0

package hub

import (
	"os"

	"golang.org/x/sys/unix"
)

// Events is a readiness bitmask.
type Events uint32

const (
	// EventIn means work is ready to dequeue (service side) or input
	// is available (channel side, set by the service).
	EventIn Events = 1 << iota

	// EventOut means the channel is writable, as published by the
	// service through ModifyChannelEvents.
	EventOut

	// EventError is an application-defined error condition published
	// by the service.
	EventError

	// EventHangup means the service or channel has been torn down.
	EventHangup
)

// Reserved operation codes. The engine delivers these for channel
// lifecycle notifications; ordinary sends must not use them, so a
// client cannot spoof an attach or detach.
const (
	// OpAttach is delivered when a channel attaches to a service
	// configured for attach notification.
	OpAttach int32 = -1

	// OpDetach is delivered when a channel detaches from a service
	// configured for detach notification.
	OpDetach int32 = -2
)

// Peer identifies the execution context behind a channel. It is
// captured at attach time and stamped on every message and impulse
// the channel sends.
type Peer struct {
	PID int
	TID int
	UID uint32
	GID uint32
}

// SelfPeer returns the Peer for the calling thread.
func SelfPeer() Peer {
	return Peer{
		PID: os.Getpid(),
		TID: unix.Gettid(),
		UID: uint32(unix.Geteuid()),
		GID: uint32(unix.Getegid()),
	}
}

// Kind discriminates what a Receive call returned.
type Kind int

const (
	// KindMessage is a request/reply transaction, now active.
	KindMessage Kind = iota + 1

	// KindImpulse is a one-way notification, consumed by this
	// receive.
	KindImpulse
)

// Delivery is the result of a Receive call: either an activated
// message described by Message, or a consumed Impulse.
type Delivery struct {
	Kind    Kind
	Message MessageInfo
	Impulse *Impulse
}

// MessageInfo is the receiver-visible metadata of an active message.
// Buffer and handle contents are accessed separately, by id.
type MessageInfo struct {
	// ID addresses the message in subsequent operations.
	ID int32

	// Channel is the sending channel's id. It remains set after the
	// channel detaches; check Detached.
	Channel int32

	// Op is the caller-defined operation code, or OpAttach/OpDetach
	// for lifecycle notifications.
	Op int32

	// Peer is the sender's identity.
	Peer Peer

	// SendLen and RecvLen are the declared byte lengths of the
	// sender's send and receive vectors.
	SendLen int64
	RecvLen int64

	// HandleCount is the number of handles the sender attached.
	HandleCount int

	// Detached is true when the sending channel has been removed
	// while this message was in flight.
	Detached bool

	// ServiceContext and ChannelContext are the opaque tokens set
	// via SetContext on the service and sending channel.
	ServiceContext any
	ChannelContext any
}
