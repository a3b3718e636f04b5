// Copyright 2026 The Svchub Authors
// SPDX-License-Identifier: Apache-2.0

package hub

import (
	"context"
	"time"

	"github.com/svchub/svchub/lib/handle"
	"github.com/svchub/svchub/lib/iovec"
)

// Channel is one client's attachment to a Service. All fields are
// guarded by the owning service's mutex; the channel holds only a
// weak back-reference (the service outlives its channels, channels
// never keep a dead service alive).
type Channel struct {
	svc  *Service
	id   int32
	peer Peer

	// handles is the attaching context's handle table. Installs from
	// reply-with-handle, push-handle, and push-channel land here.
	handles *handle.Table

	events   Events
	pollers  []chan struct{}
	canceled bool
	context  any
}

// ID returns the channel's id within its service.
func (c *Channel) ID() int32 { return c.id }

// Peer returns the identity captured at attach time.
func (c *Channel) Peer() Peer { return c.peer }

// SetContext attaches an opaque token to the channel. It is
// reported in the ChannelContext field of every subsequent delivery
// from this channel.
func (c *Channel) SetContext(v any) {
	c.svc.mu.Lock()
	defer c.svc.mu.Unlock()
	c.context = v
}

// Context returns the token set with SetContext.
func (c *Channel) Context() any {
	c.svc.mu.Lock()
	defer c.svc.mu.Unlock()
	return c.context
}

// Send performs a synchronous transaction: enqueue, wake one
// receiver, and block until the service completes the message. The
// returned status is the receiver's reply code (or a staged handle
// id for reply-with-handle).
//
// Cancelling ctx aborts the wait with ErrInterrupted; the message
// itself stays live and is still delivered and completed normally.
// The service takes ownership of resources once the send is
// enqueued; on a validation error, ownership stays with the caller.
func (c *Channel) Send(ctx context.Context, op int32, send, recv []iovec.Segment, resources []handle.Resource) (int32, error) {
	if op == OpAttach || op == OpDetach {
		return 0, ErrInvalidArgument
	}
	return c.send(ctx, op, send, recv, resources, true)
}

// SendImpulse enqueues a one-way notification. It never blocks on a
// reply. The payload is copied inline and must not exceed
// MaxImpulsePayload bytes.
func (c *Channel) SendImpulse(op int32, payload []byte) error {
	if op == OpAttach || op == OpDetach {
		return ErrInvalidArgument
	}
	if len(payload) > MaxImpulsePayload {
		return ErrInvalidArgument
	}

	s := c.svc
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.canceled || c.canceled {
		return ErrCanceled
	}

	impulse := &Impulse{
		Channel: c.id,
		Op:      op,
		Peer:    c.peer,
		length:  len(payload),
	}
	copy(impulse.payload[:], payload)
	s.pending = append(s.pending, pendingEntry{impulse: impulse})
	s.notifyReadableLocked()
	return nil
}

// Poll reports the channel's readiness mask, blocking until it is
// non-zero or the timeout expires. A zero timeout queries the
// current mask; a negative timeout waits without bound. EventHangup
// is reported once the channel or its service is torn down.
func (c *Channel) Poll(ctx context.Context, timeout time.Duration) (Events, error) {
	s := c.svc

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timeoutCh = s.clk.After(timeout)
	}
	expired := false

	for {
		s.mu.Lock()
		mask := c.events
		if c.canceled || s.canceled {
			mask |= EventHangup
		}
		if mask != 0 || timeout == 0 || expired {
			s.mu.Unlock()
			return mask, nil
		}
		waiter := make(chan struct{}, 1)
		c.pollers = append(c.pollers, waiter)
		s.mu.Unlock()

		select {
		case <-waiter:
		case <-timeoutCh:
			expired = true
		case <-ctx.Done():
			s.mu.Lock()
			c.pollers = removeWaiter(c.pollers, waiter)
			s.mu.Unlock()
			return 0, ErrInterrupted
		}
	}
}

// Close detaches the channel from its service. Messages still in
// flight become detached but stay valid for the service to finish;
// if the service is configured for detach notification, a
// best-effort sender-less OpDetach message is enqueued. Close always
// succeeds and is idempotent.
func (c *Channel) Close() error {
	return c.close(true)
}

func (c *Channel) close(notify bool) error {
	s := c.svc
	s.mu.Lock()
	if c.canceled {
		s.mu.Unlock()
		return nil
	}
	c.canceled = true
	delete(s.channels, c.id)

	for _, m := range s.messages {
		if m.channel == c.id {
			m.detached = true
		}
	}

	if notify && s.detachNotify && !s.canceled {
		// Best effort: a saturated id space drops the notice rather
		// than failing the detach.
		notice := newNotification(s, c.id, OpDetach, c.peer)
		notice.detached = true
		if id, err := s.messageIDs.Allocate(); err == nil {
			notice.id = id
			notice.state = statePending
			s.messages[id] = notice
			s.pending = append(s.pending, pendingEntry{msg: notice})
			s.notifyReadableLocked()
		}
	}

	c.events |= EventHangup
	s.wakeChannelPollersLocked(c)
	s.channelIDs.Release(c.id)
	s.mu.Unlock()

	s.logger.Debug("channel detached", "service", s.name, "channel", c.id)
	return nil
}
