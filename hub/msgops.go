// Copyright 2026 The Svchub Authors
// SPDX-License-Identifier: Apache-2.0

package hub

import (
	"github.com/svchub/svchub/lib/handle"
	"github.com/svchub/svchub/lib/iovec"
)

// BufferKind selects which of a message's two vectors an operation
// addresses.
type BufferKind int

const (
	// SendBuffer is the sender's outgoing payload, read by the
	// service.
	SendBuffer BufferKind = iota + 1

	// RecvBuffer is the sender's reply space, written by the service.
	RecvBuffer
)

// lookupActive resolves an active message id, taking a reference the
// caller must drop with put.
func (s *Service) lookupActive(id int32) (*message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok || m.state != stateActive {
		return nil, ErrInvalidArgument
	}
	m.ref()
	return m, nil
}

// Reply completes an active message with the given status, waking
// the sender. A negative status reports failure and rolls back any
// staged handle installs. A message can be completed once; later
// attempts return ErrInvalidArgument.
func (s *Service) Reply(id int32, status int32) error {
	s.mu.Lock()
	m, ok := s.messages[id]
	if !ok || m.state != stateActive {
		s.mu.Unlock()
		return ErrInvalidArgument
	}
	finish := s.completeLocked(m, status, nil)
	s.mu.Unlock()
	finish()
	return nil
}

// ReplyWithHandle completes an active message, installing r in the
// sender's handle table. The sender observes the new handle id as
// the completion status. The engine takes ownership of r; if the
// install cannot commit, r is closed.
func (s *Service) ReplyWithHandle(id int32, r handle.Resource) (int32, error) {
	s.mu.Lock()
	m, ok := s.messages[id]
	if !ok || m.state != stateActive || m.senderHandles == nil {
		s.mu.Unlock()
		return 0, ErrInvalidArgument
	}
	handleID, err := m.senderHandles.Reserve()
	if err != nil {
		s.mu.Unlock()
		return 0, ErrResourceExhausted
	}
	m.mu.Lock()
	m.staged = append(m.staged, stagedHandle{table: m.senderHandles, id: handleID, resource: r})
	m.mu.Unlock()
	finish := s.completeLocked(m, handleID, nil)
	s.mu.Unlock()
	finish()
	return handleID, nil
}

// ReadMessage copies bytes from the message's send vector, starting
// at its current read position, into dst. It returns the number of
// bytes moved, which is short only when the vector is exhausted or a
// segment faults. A fault is reported as a *FaultError with Remote
// set when the sender's segment was the one that failed.
func (s *Service) ReadMessage(id int32, dst []iovec.Segment) (int, error) {
	m, err := s.lookupActive(id)
	if err != nil {
		return 0, err
	}
	defer m.put()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.completed {
		return 0, ErrInvalidArgument
	}
	n, err := iovec.Transfer(iovec.New(dst...), m.send)
	if fault, ok := err.(*iovec.FaultError); ok {
		return n, &FaultError{Transferred: fault.Transferred, Remote: fault.Source}
	}
	return n, err
}

// WriteMessage copies bytes from src into the message's receive
// vector at its current write position. The sender sees the data
// once the message completes with a non-negative status.
func (s *Service) WriteMessage(id int32, src []iovec.Segment) (int, error) {
	m, err := s.lookupActive(id)
	if err != nil {
		return 0, err
	}
	defer m.put()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.completed {
		return 0, ErrInvalidArgument
	}
	n, err := iovec.Transfer(m.recv, iovec.New(src...))
	if fault, ok := err.(*iovec.FaultError); ok {
		return n, &FaultError{Transferred: fault.Transferred, Remote: !fault.Source}
	}
	return n, err
}

// SeekMessage repositions the read or write cursor of an active
// message's vector, following the io.Seek* whence conventions. It
// returns the new absolute offset. Seeking outside the vector
// returns ErrInvalidArgument and leaves the cursor in place.
func (s *Service) SeekMessage(id int32, buffer BufferKind, offset int64, whence int) (int64, error) {
	m, err := s.lookupActive(id)
	if err != nil {
		return 0, err
	}
	defer m.put()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.completed {
		return 0, ErrInvalidArgument
	}
	var buf *iovec.Buffer
	switch buffer {
	case SendBuffer:
		buf = m.send
	case RecvBuffer:
		buf = m.recv
	default:
		return 0, ErrInvalidArgument
	}
	pos, err := buf.Seek(offset, whence)
	if err != nil {
		return 0, ErrInvalidArgument
	}
	return pos, nil
}

// CopyBetweenMessages moves up to limit bytes from the send vector
// of one active message to the receive vector of another, advancing
// both cursors. A negative limit copies until either vector is
// exhausted. The two ids must be distinct.
func (s *Service) CopyBetweenMessages(srcID, dstID int32, limit int64) (int, error) {
	if srcID == dstID {
		return 0, ErrInvalidArgument
	}
	src, err := s.lookupActive(srcID)
	if err != nil {
		return 0, err
	}
	defer src.put()
	dst, err := s.lookupActive(dstID)
	if err != nil {
		return 0, err
	}
	defer dst.put()

	// Distinct messages; lock in id order so concurrent copies in
	// both directions cannot deadlock.
	first, second := src, dst
	if second.id < first.id {
		first, second = second, first
	}
	first.mu.Lock()
	defer first.mu.Unlock()
	second.mu.Lock()
	defer second.mu.Unlock()

	if src.completed || dst.completed {
		return 0, ErrInvalidArgument
	}
	n, err := iovec.TransferN(dst.recv, src.send, limit)
	if fault, ok := err.(*iovec.FaultError); ok {
		return n, &FaultError{Transferred: fault.Transferred, Remote: true}
	}
	return n, err
}

// PushHandle stages an install of r into the sender's handle table.
// The returned id is reserved immediately so the service can report
// it in the reply payload, but the resource binds only when the
// message later completes with a non-negative status; otherwise the
// reservation is dropped and r is closed. The engine takes ownership
// of r.
func (s *Service) PushHandle(id int32, r handle.Resource) (int32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok || m.state != stateActive {
		return 0, ErrInvalidArgument
	}
	if m.senderHandles == nil {
		return 0, ErrInvalidArgument
	}
	handleID, err := m.senderHandles.Reserve()
	if err != nil {
		return 0, ErrResourceExhausted
	}
	m.mu.Lock()
	m.staged = append(m.staged, stagedHandle{table: m.senderHandles, id: handleID, resource: r})
	m.mu.Unlock()
	return handleID, nil
}

// GetHandle duplicates the index-th handle the sender attached to
// the message and installs the duplicate in the service's own table,
// returning its id there. The sender's original is unaffected.
func (s *Service) GetHandle(id int32, index int) (int32, error) {
	m, err := s.lookupActive(id)
	if err != nil {
		return 0, err
	}
	defer m.put()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.completed {
		return 0, ErrInvalidArgument
	}
	if index < 0 || index >= len(m.handles) {
		return 0, ErrInvalidArgument
	}
	dup, err := m.handles[index].Dup()
	if err != nil {
		return 0, err
	}
	handleID, err := s.handles.Install(dup)
	if err != nil {
		dup.Close()
		return 0, ErrResourceExhausted
	}
	return handleID, nil
}

// PushChannel attaches the message's sender to target as a new
// channel and stages a handle to that channel in the sender's table.
// No attach notification is delivered on target. It returns the
// staged handle id and the new channel's id on target; like
// PushHandle, the install commits only on successful completion, and
// a rollback detaches the channel again.
func (s *Service) PushChannel(id int32, target *Service) (int32, int32, error) {
	s.mu.Lock()
	m, ok := s.messages[id]
	if !ok || m.state != stateActive {
		s.mu.Unlock()
		return 0, 0, ErrInvalidArgument
	}
	if m.senderHandles == nil {
		s.mu.Unlock()
		return 0, 0, ErrInvalidArgument
	}
	m.ref()
	peer := m.peer
	senderHandles := m.senderHandles
	s.mu.Unlock()
	defer m.put()

	ch, err := target.attach(peer, senderHandles, false)
	if err != nil {
		return 0, 0, err
	}
	handleID, err := senderHandles.Reserve()
	if err != nil {
		ch.close(false)
		return 0, 0, ErrResourceExhausted
	}

	m.mu.Lock()
	if m.completed {
		m.mu.Unlock()
		senderHandles.Discard(handleID)
		ch.close(false)
		return 0, 0, ErrInvalidArgument
	}
	m.staged = append(m.staged, stagedHandle{table: senderHandles, id: handleID, resource: newChannelHandle(ch)})
	m.mu.Unlock()
	return handleID, ch.id, nil
}

// CheckChannel verifies that the index-th handle the sender attached
// to the message is a channel handle for target, returning the
// channel's id and context token. A handle of any other kind, or for
// a different service, fails with ErrInvalidArgument.
func (s *Service) CheckChannel(id int32, index int, target *Service) (int32, any, error) {
	m, err := s.lookupActive(id)
	if err != nil {
		return 0, nil, err
	}
	defer m.put()

	m.mu.Lock()
	if m.completed || index < 0 || index >= len(m.handles) {
		m.mu.Unlock()
		return 0, nil, ErrInvalidArgument
	}
	ch, ok := m.handles[index].(*ChannelHandle)
	m.mu.Unlock()
	if !ok {
		return 0, nil, ErrInvalidArgument
	}
	channel := ch.channel()
	if channel == nil || channel.svc != target {
		return 0, nil, ErrInvalidArgument
	}

	target.mu.Lock()
	defer target.mu.Unlock()
	if _, live := target.channels[channel.id]; !live {
		return 0, nil, ErrInvalidArgument
	}
	return channel.id, channel.context, nil
}

// CloseChannel detaches one of the service's channels from the
// service side. No detach notification is delivered; the service is
// the party closing.
func (s *Service) CloseChannel(channelID int32) error {
	s.mu.Lock()
	ch, ok := s.channels[channelID]
	s.mu.Unlock()
	if !ok {
		return ErrInvalidArgument
	}
	return ch.close(false)
}

// ModifyChannelEvents clears then sets bits in a channel's published
// readiness mask, waking the channel's pollers, and returns the new
// mask.
func (s *Service) ModifyChannelEvents(channelID int32, clear, set Events) (Events, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[channelID]
	if !ok {
		return 0, ErrInvalidArgument
	}
	ch.events = ch.events&^clear | set
	s.wakeChannelPollersLocked(ch)
	return ch.events, nil
}
