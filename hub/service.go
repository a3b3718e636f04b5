// Copyright 2026 The Svchub Authors
// SPDX-License-Identifier: Apache-2.0

package hub

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/svchub/svchub/lib/clock"
	"github.com/svchub/svchub/lib/handle"
	"github.com/svchub/svchub/lib/idspace"
	"github.com/svchub/svchub/lib/iovec"
)

// pendingEntry is one slot in the shared FIFO: a message or an
// impulse, never both.
type pendingEntry struct {
	msg     *message
	impulse *Impulse
}

// Service is a named endpoint receiving transactions and impulses
// from attached channels. All collection state is guarded by mu.
type Service struct {
	name   string
	logger *slog.Logger
	clk    clock.Clock

	attachNotify bool
	detachNotify bool

	// handles is the service side's own handle table, the
	// destination for get-handle fetches.
	handles *handle.Table

	channelIDs *idspace.Space
	messageIDs *idspace.Space

	mu       sync.Mutex
	canceled bool
	context  any
	channels map[int32]*Channel

	// messages holds every live pending or active message by id.
	messages map[int32]*message

	// pending is the single FIFO shared by messages and impulses.
	pending []pendingEntry

	// receivers are blocked Receive calls, woken one per enqueue in
	// arrival order.
	receivers []chan struct{}

	// pollers are blocked service-readiness Poll calls, all woken on
	// any readiness change.
	pollers []chan struct{}
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service's logger. The default discards.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithClock sets the clock used for receive and poll timeouts. The
// default is clock.Real(). Tests inject clock.Fake.
func WithClock(c clock.Clock) Option {
	return func(s *Service) { s.clk = c }
}

// WithoutAttachNotification disables the synchronous OpAttach
// message normally delivered when a channel attaches.
func WithoutAttachNotification() Option {
	return func(s *Service) { s.attachNotify = false }
}

// WithoutDetachNotification disables the best-effort OpDetach
// message normally delivered when a channel detaches.
func WithoutDetachNotification() Option {
	return func(s *Service) { s.detachNotify = false }
}

// New creates a live Service with empty collections and fresh id
// allocators. Attach and detach notifications are enabled by
// default.
func New(name string, options ...Option) *Service {
	s := &Service{
		name:         name,
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		clk:          clock.Real(),
		attachNotify: true,
		detachNotify: true,
		handles:      handle.NewTable(),
		channelIDs:   idspace.New(0),
		messageIDs:   idspace.New(0),
		channels:     make(map[int32]*Channel),
		messages:     make(map[int32]*message),
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// Name returns the service's endpoint name.
func (s *Service) Name() string { return s.name }

// Handles returns the service side's handle table, where get-handle
// fetches land.
func (s *Service) Handles() *handle.Table { return s.handles }

// SetContext attaches an opaque token reported in the
// ServiceContext field of every delivery.
func (s *Service) SetContext(v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.context = v
}

// Context returns the token set with SetContext.
func (s *Service) Context() any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.context
}

// SetChannelContext sets the context token of a live channel from
// the service side.
func (s *Service) SetChannelContext(channelID int32, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[channelID]
	if !ok {
		return ErrInvalidArgument
	}
	ch.context = v
	return nil
}

// Attach connects a new client to the service. When the service has
// attach notification enabled, a zero-length OpAttach transaction is
// sent on the new channel before Attach returns; the wait is
// uninterruptible, and a negative completion status rejects the
// attach and removes the channel.
//
// handles is the attaching context's handle table; reply-with-handle
// and push-handle installs for this channel's messages land there.
func (s *Service) Attach(peer Peer, handles *handle.Table) (*Channel, error) {
	return s.attach(peer, handles, s.attachNotify)
}

func (s *Service) attach(peer Peer, handles *handle.Table, notify bool) (*Channel, error) {
	s.mu.Lock()
	if s.canceled {
		s.mu.Unlock()
		return nil, ErrCanceled
	}
	id, err := s.channelIDs.Allocate()
	if err != nil {
		s.mu.Unlock()
		return nil, ErrResourceExhausted
	}
	ch := &Channel{svc: s, id: id, peer: peer, handles: handles}
	s.channels[id] = ch
	s.mu.Unlock()

	if notify {
		status, err := ch.send(context.Background(), OpAttach, nil, nil, nil, false)
		if err != nil {
			ch.close(false)
			return nil, err
		}
		if status < 0 {
			ch.close(false)
			return nil, fmt.Errorf("%w: status %d", ErrAttachRejected, status)
		}
	}

	s.logger.Debug("channel attached", "service", s.name, "channel", id)
	return ch, nil
}

// send is the transaction core shared by Send, attach notification,
// and the transport front-end.
func (c *Channel) send(ctx context.Context, op int32, send, recv []iovec.Segment, resources []handle.Resource, interruptible bool) (int32, error) {
	s := c.svc

	s.mu.Lock()
	if s.canceled || c.canceled {
		s.mu.Unlock()
		return 0, ErrCanceled
	}
	id, err := s.messageIDs.Allocate()
	if err != nil {
		s.mu.Unlock()
		return 0, ErrResourceExhausted
	}
	m := newMessage(s, c.id, op, c.peer, c.handles, send, recv, resources)
	m.id = id
	m.state = statePending
	s.messages[id] = m
	s.pending = append(s.pending, pendingEntry{msg: m})
	s.notifyReadableLocked()
	s.mu.Unlock()

	if interruptible {
		select {
		case <-m.done:
		case <-ctx.Done():
			m.mu.Lock()
			if !m.completed {
				m.interrupted = true
				m.mu.Unlock()
				m.put()
				return 0, ErrInterrupted
			}
			// Completion won the race; fall through and report it.
			m.mu.Unlock()
		}
	} else {
		<-m.done
	}

	m.mu.Lock()
	status, failure := m.status, m.failure
	m.mu.Unlock()
	m.put()
	return status, failure
}

// Receive dequeues the oldest pending message or impulse. Messages
// are promoted to active and described by the returned
// MessageInfo; impulses are consumed outright.
//
// A zero timeout is a non-blocking poll returning ErrTimeout when
// the queue is empty; a negative timeout waits without bound.
// Cancelling ctx aborts the wait with ErrInterrupted. Once the
// service is canceled and drained, Receive returns ErrCanceled.
func (s *Service) Receive(ctx context.Context, timeout time.Duration) (*Delivery, error) {
	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timeoutCh = s.clk.After(timeout)
	}
	finalPass := timeout == 0

	for {
		s.mu.Lock()
		if len(s.pending) > 0 {
			entry := s.pending[0]
			s.pending = s.pending[1:]
			if entry.impulse != nil {
				s.mu.Unlock()
				return &Delivery{Kind: KindImpulse, Impulse: entry.impulse}, nil
			}
			m := entry.msg
			m.state = stateActive
			delivery := &Delivery{Kind: KindMessage, Message: s.messageInfoLocked(m)}
			s.mu.Unlock()
			return delivery, nil
		}
		if s.canceled {
			s.mu.Unlock()
			return nil, ErrCanceled
		}
		if finalPass {
			s.mu.Unlock()
			return nil, ErrTimeout
		}
		waiter := make(chan struct{}, 1)
		s.receivers = append(s.receivers, waiter)
		s.mu.Unlock()

		select {
		case <-waiter:
		case <-timeoutCh:
			s.unregisterReceiver(waiter)
			// One more non-blocking look at the queue, so a wakeup
			// racing the timeout is not lost.
			finalPass = true
		case <-ctx.Done():
			s.unregisterReceiver(waiter)
			return nil, ErrInterrupted
		}
	}
}

// messageInfoLocked snapshots receiver-visible metadata. Caller
// holds s.mu.
func (s *Service) messageInfoLocked(m *message) MessageInfo {
	info := MessageInfo{
		ID:             m.id,
		Channel:        m.channel,
		Op:             m.op,
		Peer:           m.peer,
		SendLen:        m.send.Total(),
		RecvLen:        m.recv.Total(),
		HandleCount:    len(m.handles),
		Detached:       m.detached,
		ServiceContext: s.context,
	}
	if !m.detached {
		if ch, ok := s.channels[m.channel]; ok {
			info.ChannelContext = ch.context
		}
	}
	return info
}

// Poll reports the service's readiness, blocking until the mask is
// non-zero or the timeout expires. EventIn means the shared FIFO is
// non-empty; EventHangup means the service is canceled.
func (s *Service) Poll(ctx context.Context, timeout time.Duration) (Events, error) {
	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timeoutCh = s.clk.After(timeout)
	}
	expired := false

	for {
		s.mu.Lock()
		var mask Events
		if len(s.pending) > 0 {
			mask |= EventIn
		}
		if s.canceled {
			mask |= EventHangup
		}
		if mask != 0 || timeout == 0 || expired {
			s.mu.Unlock()
			return mask, nil
		}
		waiter := make(chan struct{}, 1)
		s.pollers = append(s.pollers, waiter)
		s.mu.Unlock()

		select {
		case <-waiter:
		case <-timeoutCh:
			expired = true
		case <-ctx.Done():
			s.mu.Lock()
			s.pollers = removeWaiter(s.pollers, waiter)
			s.mu.Unlock()
			return 0, ErrInterrupted
		}
	}
}

// Cancel tears the service down: future sends fail with ErrCanceled,
// queued impulses are discarded, every pending and active message is
// force-completed with ErrCanceled (waking its sender), channels are
// hung up, and all blocked receivers and pollers are woken. Cancel
// is idempotent; a second call does nothing and reports ErrCanceled.
func (s *Service) Cancel() error {
	s.mu.Lock()
	if s.canceled {
		s.mu.Unlock()
		return ErrCanceled
	}
	s.canceled = true

	var doomed []*message
	for _, entry := range s.pending {
		if entry.msg != nil {
			doomed = append(doomed, entry.msg)
		}
	}
	s.pending = nil
	for _, m := range s.messages {
		if m.state == stateActive {
			doomed = append(doomed, m)
		}
	}
	var finishers []func()
	for _, m := range doomed {
		finishers = append(finishers, s.completeLocked(m, 0, ErrCanceled))
	}

	for _, ch := range s.channels {
		ch.canceled = true
		ch.events |= EventHangup
		s.wakeChannelPollersLocked(ch)
	}

	for _, waiter := range s.receivers {
		waiter <- struct{}{}
	}
	s.receivers = nil
	s.wakeServicePollersLocked()
	s.mu.Unlock()

	for _, finish := range finishers {
		finish()
	}

	s.logger.Debug("service canceled", "service", s.name)
	return nil
}

// notifyReadableLocked wakes exactly one blocked receiver, plus all
// readiness pollers. Caller holds s.mu.
func (s *Service) notifyReadableLocked() {
	if len(s.receivers) > 0 {
		waiter := s.receivers[0]
		s.receivers = s.receivers[1:]
		waiter <- struct{}{}
	}
	s.wakeServicePollersLocked()
}

// unregisterReceiver removes a waiter that timed out or was
// interrupted. If the waiter had already been woken, the wakeup is
// passed on so the enqueue that chose it is not lost.
func (s *Service) unregisterReceiver(waiter chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, w := range s.receivers {
		if w == waiter {
			s.receivers = append(s.receivers[:i], s.receivers[i+1:]...)
			return
		}
	}
	if len(s.pending) > 0 {
		s.notifyReadableLocked()
	}
}

func (s *Service) wakeServicePollersLocked() {
	for _, waiter := range s.pollers {
		waiter <- struct{}{}
	}
	s.pollers = nil
}

func (s *Service) wakeChannelPollersLocked(c *Channel) {
	for _, waiter := range c.pollers {
		waiter <- struct{}{}
	}
	c.pollers = nil
}

// removeWaiter deletes one waiter from a poller list.
func removeWaiter(waiters []chan struct{}, target chan struct{}) []chan struct{} {
	for i, w := range waiters {
		if w == target {
			return append(waiters[:i], waiters[i+1:]...)
		}
	}
	return waiters
}

// completeLocked detaches a message from the service's collections
// and marks it completed. Caller holds s.mu. The returned function
// settles staged handle installs and wakes the sender; run it after
// releasing s.mu, since rolling back a staged channel handle
// re-enters the service to detach the channel.
func (s *Service) completeLocked(m *message, status int32, failure error) func() {
	if m.state == statePending {
		for i, entry := range s.pending {
			if entry.msg == m {
				s.pending = append(s.pending[:i], s.pending[i+1:]...)
				break
			}
		}
	}
	m.state = stateDone
	delete(s.messages, m.id)

	m.mu.Lock()
	m.completed = true
	m.status = status
	m.failure = failure
	// Staged installs commit only on a successful completion that
	// the sender will observe. An interrupted sender never learns
	// the handle ids, so the reservations are dropped instead of
	// leaking into its table.
	commit := failure == nil && status >= 0 && !m.interrupted
	staged := m.staged
	m.staged = nil
	m.mu.Unlock()

	return func() {
		for _, stage := range staged {
			if commit {
				if err := stage.table.InstallReserved(stage.id, stage.resource); err != nil {
					discardResource(stage.resource)
				}
			} else {
				stage.table.Discard(stage.id)
				discardResource(stage.resource)
			}
		}
		close(m.done)
		m.put()
	}
}
