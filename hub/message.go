// Copyright 2026 The Svchub Authors
// SPDX-License-Identifier: Apache-2.0

package hub

import (
	"sync"
	"sync/atomic"

	"github.com/svchub/svchub/lib/handle"
	"github.com/svchub/svchub/lib/iovec"
)

// messageState tracks where a message sits in its life cycle.
// Guarded by the owning service's mutex.
type messageState int

const (
	statePending messageState = iota + 1
	stateActive
	stateDone
)

// messageNoID marks a message whose id has not been assigned yet.
const messageNoID int32 = -1

// message is one synchronous transaction. The service mutex guards
// state, detached, and queue membership; the message's own mutex
// guards buffers, handles, and completion fields; refs is the only
// field read without any lock.
type message struct {
	svc     *Service
	id      int32
	channel int32
	op      int32
	peer    Peer

	// senderHandles is the sending context's handle table, the
	// target for push-handle and reply-with-handle installs. Nil for
	// sender-less notifications.
	senderHandles *handle.Table

	// noSender marks internally generated notifications that no
	// goroutine waits on (detach notices).
	noSender bool

	// refs counts the independent owners: the sender's wait and the
	// service's queue. The message is freed when both have dropped.
	refs atomic.Int32

	// state and detached are guarded by svc.mu.
	state    messageState
	detached bool

	mu          sync.Mutex
	send        *iovec.Buffer
	recv        *iovec.Buffer
	handles     []handle.Resource
	staged      []stagedHandle
	completed   bool
	interrupted bool
	status      int32
	failure     error

	// done is closed at completion, resuming the sender.
	done chan struct{}
}

// stagedHandle is a handle install deferred until completion. The id
// is reserved in the target table up front so the receiver can name
// it; the resource binds on successful completion and the
// reservation is dropped (and the resource closed) otherwise.
type stagedHandle struct {
	table    *handle.Table
	id       int32
	resource handle.Resource
}

func newMessage(svc *Service, channelID, op int32, peer Peer, senderHandles *handle.Table,
	send, recv []iovec.Segment, resources []handle.Resource) *message {
	m := &message{
		svc:           svc,
		id:            messageNoID,
		channel:       channelID,
		op:            op,
		peer:          peer,
		senderHandles: senderHandles,
		send:          iovec.New(send...),
		recv:          iovec.New(recv...),
		handles:       resources,
		done:          make(chan struct{}),
	}
	// Sender wait plus queue ownership.
	m.refs.Store(2)
	return m
}

// newNotification builds a sender-less lifecycle notice. Only the
// queue owns it.
func newNotification(svc *Service, channelID, op int32, peer Peer) *message {
	m := &message{
		svc:      svc,
		id:       messageNoID,
		channel:  channelID,
		op:       op,
		peer:     peer,
		noSender: true,
		send:     iovec.New(),
		recv:     iovec.New(),
		done:     make(chan struct{}),
	}
	m.refs.Store(1)
	return m
}

// ref takes an additional reference.
func (m *message) ref() { m.refs.Add(1) }

// put drops one reference. The last drop releases the message id and
// closes any handles the sender attached that were never fetched.
func (m *message) put() {
	if m.refs.Add(-1) != 0 {
		return
	}
	if m.id != messageNoID {
		m.svc.messageIDs.Release(m.id)
	}
	for _, r := range m.handles {
		r.Close()
	}
	m.handles = nil
}
