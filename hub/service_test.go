// Copyright 2026 The Svchub Authors
// SPDX-License-Identifier: Apache-2.0

package hub

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/svchub/svchub/lib/clock"
	"github.com/svchub/svchub/lib/handle"
	"github.com/svchub/svchub/lib/iovec"
	"github.com/svchub/svchub/lib/testutil"
)

// quiet returns a service with lifecycle notifications disabled, so
// tests that do not exercise them see only their own traffic.
func quiet(name string, options ...Option) *Service {
	base := []Option{WithoutAttachNotification(), WithoutDetachNotification()}
	return New(name, append(base, options...)...)
}

func mustAttach(t *testing.T, s *Service) *Channel {
	t.Helper()
	ch, err := s.Attach(SelfPeer(), handle.NewTable())
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	return ch
}

func mustReceive(t *testing.T, s *Service) *Delivery {
	t.Helper()
	d, err := s.Receive(context.Background(), -1)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	return d
}

type sendResult struct {
	status int32
	err    error
}

func TestTransactionRoundTrip(t *testing.T) {
	t.Parallel()
	s := quiet("echo")
	ch := mustAttach(t, s)

	reply := make([]byte, 8)
	results := make(chan sendResult, 1)
	go func() {
		status, err := ch.Send(context.Background(), 42,
			iovec.Bytes([]byte("ping")), iovec.Bytes(reply), nil)
		results <- sendResult{status, err}
	}()

	d := mustReceive(t, s)
	if d.Kind != KindMessage {
		t.Fatalf("Kind = %v, want KindMessage", d.Kind)
	}
	info := d.Message
	if info.Op != 42 {
		t.Errorf("Op = %d, want 42", info.Op)
	}
	if info.SendLen != 4 || info.RecvLen != 8 {
		t.Errorf("lengths = (%d, %d), want (4, 8)", info.SendLen, info.RecvLen)
	}
	if info.Peer.PID == 0 {
		t.Error("Peer.PID is zero")
	}

	payload := make([]byte, 4)
	n, err := s.ReadMessage(info.ID, iovec.Bytes(payload))
	if err != nil || n != 4 {
		t.Fatalf("ReadMessage = (%d, %v), want (4, nil)", n, err)
	}
	if string(payload) != "ping" {
		t.Errorf("payload = %q, want %q", payload, "ping")
	}
	if n, err := s.WriteMessage(info.ID, iovec.Bytes([]byte("pong"))); err != nil || n != 4 {
		t.Fatalf("WriteMessage = (%d, %v), want (4, nil)", n, err)
	}
	if err := s.Reply(info.ID, 7); err != nil {
		t.Fatalf("Reply: %v", err)
	}

	result := testutil.RequireReceive(t, results, 5*time.Second, "waiting for sender")
	if result.err != nil {
		t.Fatalf("Send: %v", result.err)
	}
	if result.status != 7 {
		t.Errorf("status = %d, want 7", result.status)
	}
	if !bytes.Equal(reply[:4], []byte("pong")) {
		t.Errorf("reply = %q, want %q prefix", reply, "pong")
	}
}

func TestMessageIDsReused(t *testing.T) {
	t.Parallel()
	s := quiet("ids")
	ch := mustAttach(t, s)

	for i := 0; i < 3; i++ {
		done := make(chan sendResult, 1)
		go func() {
			status, err := ch.Send(context.Background(), 1, nil, nil, nil)
			done <- sendResult{status, err}
		}()
		d := mustReceive(t, s)
		if d.Message.ID != 0 {
			t.Fatalf("round %d: ID = %d, want 0", i, d.Message.ID)
		}
		if err := s.Reply(d.Message.ID, 0); err != nil {
			t.Fatalf("Reply: %v", err)
		}
		result := testutil.RequireReceive(t, done, 5*time.Second, "waiting for sender")
		if result.err != nil {
			t.Fatalf("Send: %v", result.err)
		}
	}
}

func TestReservedOpsRejected(t *testing.T) {
	t.Parallel()
	s := quiet("reserved")
	ch := mustAttach(t, s)

	if _, err := ch.Send(context.Background(), OpAttach, nil, nil, nil); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Send(OpAttach) = %v, want ErrInvalidArgument", err)
	}
	if err := ch.SendImpulse(OpDetach, nil); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("SendImpulse(OpDetach) = %v, want ErrInvalidArgument", err)
	}
}

func TestImpulse(t *testing.T) {
	t.Parallel()
	s := quiet("impulse")
	ch := mustAttach(t, s)

	if err := ch.SendImpulse(9, []byte("knock")); err != nil {
		t.Fatalf("SendImpulse: %v", err)
	}
	d := mustReceive(t, s)
	if d.Kind != KindImpulse {
		t.Fatalf("Kind = %v, want KindImpulse", d.Kind)
	}
	if d.Impulse.Op != 9 {
		t.Errorf("Op = %d, want 9", d.Impulse.Op)
	}
	if got := string(d.Impulse.Payload()); got != "knock" {
		t.Errorf("Payload = %q, want %q", got, "knock")
	}
	if d.Impulse.Channel != ch.ID() {
		t.Errorf("Channel = %d, want %d", d.Impulse.Channel, ch.ID())
	}

	oversized := make([]byte, MaxImpulsePayload+1)
	if err := ch.SendImpulse(9, oversized); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("oversized SendImpulse = %v, want ErrInvalidArgument", err)
	}
}

func TestSharedQueueOrdering(t *testing.T) {
	t.Parallel()
	s := quiet("fifo")
	ch1 := mustAttach(t, s)
	ch2 := mustAttach(t, s)

	// Impulses from different channels land in one queue in arrival
	// order.
	for i, c := range []*Channel{ch1, ch2, ch1} {
		if err := c.SendImpulse(int32(i), nil); err != nil {
			t.Fatalf("SendImpulse %d: %v", i, err)
		}
	}
	for i, want := range []int32{ch1.ID(), ch2.ID(), ch1.ID()} {
		d := mustReceive(t, s)
		if d.Kind != KindImpulse || d.Impulse.Channel != want || d.Impulse.Op != int32(i) {
			t.Fatalf("delivery %d = (%v, ch %d, op %d), want impulse ch %d op %d",
				i, d.Kind, d.Impulse.Channel, d.Impulse.Op, want, i)
		}
	}

	// A queued message is delivered before an impulse enqueued after
	// it.
	results := make(chan sendResult, 1)
	go func() {
		status, err := ch1.Send(context.Background(), 50, nil, nil, nil)
		results <- sendResult{status, err}
	}()
	if _, err := s.Poll(context.Background(), -1); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if err := ch2.SendImpulse(51, nil); err != nil {
		t.Fatalf("SendImpulse: %v", err)
	}

	first := mustReceive(t, s)
	if first.Kind != KindMessage || first.Message.Op != 50 {
		t.Fatalf("first delivery = %v op %d, want message op 50", first.Kind, first.Message.Op)
	}
	second := mustReceive(t, s)
	if second.Kind != KindImpulse || second.Impulse.Op != 51 {
		t.Fatalf("second delivery = %v, want impulse op 51", second.Kind)
	}
	if err := s.Reply(first.Message.ID, 0); err != nil {
		t.Fatalf("Reply: %v", err)
	}
	testutil.RequireReceive(t, results, 5*time.Second, "waiting for sender")
}

func TestReceiveZeroTimeout(t *testing.T) {
	t.Parallel()
	s := quiet("empty")
	if _, err := s.Receive(context.Background(), 0); !errors.Is(err, ErrTimeout) {
		t.Errorf("Receive = %v, want ErrTimeout", err)
	}
}

func TestReceiveTimeout(t *testing.T) {
	t.Parallel()
	clk := clock.Fake(time.Unix(1000, 0))
	s := quiet("timeout", WithClock(clk))

	errs := make(chan error, 1)
	go func() {
		_, err := s.Receive(context.Background(), 5*time.Second)
		errs <- err
	}()

	clk.WaitForTimers(1)
	testutil.RequireNoReceive(t, errs, 50*time.Millisecond, "receive returned before the deadline")
	clk.Advance(5 * time.Second)
	if err := testutil.RequireReceive(t, errs, 5*time.Second, "waiting for receive"); !errors.Is(err, ErrTimeout) {
		t.Errorf("Receive = %v, want ErrTimeout", err)
	}
}

func TestReceiveInterrupted(t *testing.T) {
	t.Parallel()
	s := quiet("interrupt-receive")
	ctx, cancel := context.WithCancel(context.Background())

	errs := make(chan error, 1)
	go func() {
		_, err := s.Receive(ctx, -1)
		errs <- err
	}()

	cancel()
	if err := testutil.RequireReceive(t, errs, 5*time.Second, "waiting for receive"); !errors.Is(err, ErrInterrupted) {
		t.Errorf("Receive = %v, want ErrInterrupted", err)
	}
}

func TestDoubleReply(t *testing.T) {
	t.Parallel()
	s := quiet("double")
	ch := mustAttach(t, s)

	results := make(chan sendResult, 1)
	go func() {
		status, err := ch.Send(context.Background(), 1, nil, nil, nil)
		results <- sendResult{status, err}
	}()

	d := mustReceive(t, s)
	if err := s.Reply(d.Message.ID, 3); err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if err := s.Reply(d.Message.ID, 4); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("second Reply = %v, want ErrInvalidArgument", err)
	}
	if _, err := s.ReadMessage(d.Message.ID, nil); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("ReadMessage after reply = %v, want ErrInvalidArgument", err)
	}

	result := testutil.RequireReceive(t, results, 5*time.Second, "waiting for sender")
	if result.err != nil || result.status != 3 {
		t.Errorf("Send = (%d, %v), want (3, nil)", result.status, result.err)
	}
}

func TestSendInterrupted(t *testing.T) {
	t.Parallel()
	s := quiet("interrupt-send")
	ch := mustAttach(t, s)

	ctx, cancel := context.WithCancel(context.Background())
	results := make(chan sendResult, 1)
	go func() {
		status, err := ch.Send(ctx, 5, iovec.Bytes([]byte("data")), nil, nil)
		results <- sendResult{status, err}
	}()

	// Take the message active first, so the interrupt happens while
	// the service is working on it.
	d := mustReceive(t, s)
	cancel()
	result := testutil.RequireReceive(t, results, 5*time.Second, "waiting for sender")
	if !errors.Is(result.err, ErrInterrupted) {
		t.Fatalf("Send = %v, want ErrInterrupted", result.err)
	}

	// The message stays live: the service can still read it and
	// reply without error.
	payload := make([]byte, 4)
	if n, err := s.ReadMessage(d.Message.ID, iovec.Bytes(payload)); err != nil || n != 4 {
		t.Fatalf("ReadMessage = (%d, %v), want (4, nil)", n, err)
	}
	if string(payload) != "data" {
		t.Errorf("payload = %q, want %q", payload, "data")
	}
	if err := s.Reply(d.Message.ID, 0); err != nil {
		t.Errorf("Reply after interrupt: %v", err)
	}
}

func TestCancel(t *testing.T) {
	t.Parallel()
	s := quiet("cancel")
	ch := mustAttach(t, s)

	if err := ch.SendImpulse(1, nil); err != nil {
		t.Fatalf("SendImpulse: %v", err)
	}
	senderErrs := make(chan error, 1)
	go func() {
		_, err := ch.Send(context.Background(), 2, nil, nil, nil)
		senderErrs <- err
	}()
	receiverErrs := make(chan error, 1)
	go func() {
		for {
			d, err := s.Receive(context.Background(), -1)
			if err != nil {
				receiverErrs <- err
				return
			}
			// Leave the message active; Cancel must finish it.
			_ = d
		}
	}()

	// Wait until both the message and the impulse are in, then tear
	// down.
	for {
		s.mu.Lock()
		m := s.messages[0]
		quiescent := len(s.messages) == 1 && m != nil && m.state == stateActive
		s.mu.Unlock()
		if quiescent {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if err := s.Cancel(); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	if err := testutil.RequireReceive(t, senderErrs, 5*time.Second, "waiting for sender"); !errors.Is(err, ErrCanceled) {
		t.Errorf("Send = %v, want ErrCanceled", err)
	}
	if err := testutil.RequireReceive(t, receiverErrs, 5*time.Second, "waiting for receiver"); !errors.Is(err, ErrCanceled) {
		t.Errorf("Receive = %v, want ErrCanceled", err)
	}

	// Idempotent: the second call reports ErrCanceled and does no
	// work.
	if err := s.Cancel(); !errors.Is(err, ErrCanceled) {
		t.Errorf("second Cancel = %v, want ErrCanceled", err)
	}
	if _, err := ch.Send(context.Background(), 3, nil, nil, nil); !errors.Is(err, ErrCanceled) {
		t.Errorf("Send after cancel = %v, want ErrCanceled", err)
	}
	if err := ch.SendImpulse(3, nil); !errors.Is(err, ErrCanceled) {
		t.Errorf("SendImpulse after cancel = %v, want ErrCanceled", err)
	}
	if _, err := s.Attach(SelfPeer(), handle.NewTable()); !errors.Is(err, ErrCanceled) {
		t.Errorf("Attach after cancel = %v, want ErrCanceled", err)
	}
}

func TestCancelDiscardsQueuedImpulses(t *testing.T) {
	t.Parallel()
	s := quiet("discard")
	ch := mustAttach(t, s)
	if err := ch.SendImpulse(1, nil); err != nil {
		t.Fatalf("SendImpulse: %v", err)
	}
	if err := s.Cancel(); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if _, err := s.Receive(context.Background(), -1); !errors.Is(err, ErrCanceled) {
		t.Errorf("Receive = %v, want ErrCanceled", err)
	}
}

func TestAttachNotification(t *testing.T) {
	t.Parallel()
	s := New("attach", WithoutDetachNotification())

	type attachResult struct {
		ch  *Channel
		err error
	}
	results := make(chan attachResult, 1)
	go func() {
		ch, err := s.Attach(SelfPeer(), handle.NewTable())
		results <- attachResult{ch, err}
	}()

	d := mustReceive(t, s)
	if d.Kind != KindMessage || d.Message.Op != OpAttach {
		t.Fatalf("delivery = %v op %d, want message op OpAttach", d.Kind, d.Message.Op)
	}
	if err := s.Reply(d.Message.ID, 0); err != nil {
		t.Fatalf("Reply: %v", err)
	}
	result := testutil.RequireReceive(t, results, 5*time.Second, "waiting for attach")
	if result.err != nil {
		t.Fatalf("Attach: %v", result.err)
	}

	// A negative status refuses the channel.
	go func() {
		ch, err := s.Attach(SelfPeer(), handle.NewTable())
		results <- attachResult{ch, err}
	}()
	d = mustReceive(t, s)
	if err := s.Reply(d.Message.ID, -13); err != nil {
		t.Fatalf("Reply: %v", err)
	}
	result = testutil.RequireReceive(t, results, 5*time.Second, "waiting for rejected attach")
	if !errors.Is(result.err, ErrAttachRejected) {
		t.Fatalf("Attach = %v, want ErrAttachRejected", result.err)
	}
	s.mu.Lock()
	live := len(s.channels)
	s.mu.Unlock()
	if live != 1 {
		t.Errorf("live channels = %d, want 1", live)
	}
}

func TestDetachNotification(t *testing.T) {
	t.Parallel()
	s := New("detach", WithoutAttachNotification())
	ch := mustAttach(t, s)
	ch.SetContext("token")

	if err := ch.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := ch.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	d := mustReceive(t, s)
	if d.Kind != KindMessage || d.Message.Op != OpDetach {
		t.Fatalf("delivery = %v op %d, want message op OpDetach", d.Kind, d.Message.Op)
	}
	if !d.Message.Detached {
		t.Error("Detached = false, want true")
	}
	if d.Message.ChannelContext != nil {
		t.Errorf("ChannelContext = %v, want nil for a detached notice", d.Message.ChannelContext)
	}
	if err := s.Reply(d.Message.ID, 0); err != nil {
		t.Errorf("Reply to notice: %v", err)
	}

	// Exactly one notice per detach.
	if _, err := s.Receive(context.Background(), 0); !errors.Is(err, ErrTimeout) {
		t.Errorf("extra delivery after detach, Receive = %v, want ErrTimeout", err)
	}
}

func TestDetachWhileMessageActive(t *testing.T) {
	t.Parallel()
	s := quiet("detach-active")
	ch := mustAttach(t, s)
	ch.SetContext("ctx")

	results := make(chan sendResult, 1)
	go func() {
		status, err := ch.Send(context.Background(), 8, nil, nil, nil)
		results <- sendResult{status, err}
	}()
	d := mustReceive(t, s)
	if d.Message.ChannelContext != "ctx" {
		t.Errorf("ChannelContext = %v, want %q", d.Message.ChannelContext, "ctx")
	}

	if err := ch.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// The sender is still blocked; the service finishes the orphaned
	// message normally.
	if err := s.Reply(d.Message.ID, 21); err != nil {
		t.Fatalf("Reply after detach: %v", err)
	}
	result := testutil.RequireReceive(t, results, 5*time.Second, "waiting for sender")
	if result.err != nil || result.status != 21 {
		t.Errorf("Send = (%d, %v), want (21, nil)", result.status, result.err)
	}
}

func TestServiceContexts(t *testing.T) {
	t.Parallel()
	s := quiet("contexts")
	s.SetContext("svc")
	ch := mustAttach(t, s)
	if err := s.SetChannelContext(ch.ID(), "chan"); err != nil {
		t.Fatalf("SetChannelContext: %v", err)
	}
	if got := ch.Context(); got != "chan" {
		t.Errorf("Context = %v, want %q", got, "chan")
	}

	results := make(chan sendResult, 1)
	go func() {
		status, err := ch.Send(context.Background(), 1, nil, nil, nil)
		results <- sendResult{status, err}
	}()
	d := mustReceive(t, s)
	if d.Message.ServiceContext != "svc" || d.Message.ChannelContext != "chan" {
		t.Errorf("contexts = (%v, %v), want (svc, chan)",
			d.Message.ServiceContext, d.Message.ChannelContext)
	}
	s.Reply(d.Message.ID, 0)
	testutil.RequireReceive(t, results, 5*time.Second, "waiting for sender")

	if err := s.SetChannelContext(99, "x"); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("SetChannelContext(99) = %v, want ErrInvalidArgument", err)
	}
}

func TestConcurrentTraffic(t *testing.T) {
	t.Parallel()
	s := quiet("stress")

	const workers = 4
	var serving sync.WaitGroup
	for i := 0; i < workers; i++ {
		serving.Add(1)
		go func() {
			defer serving.Done()
			for {
				d, err := s.Receive(context.Background(), -1)
				if err != nil {
					return
				}
				if d.Kind != KindMessage {
					continue
				}
				buf := make([]byte, d.Message.SendLen)
				if _, err := s.ReadMessage(d.Message.ID, iovec.Bytes(buf)); err != nil {
					continue
				}
				s.WriteMessage(d.Message.ID, iovec.Bytes(buf))
				s.Reply(d.Message.ID, d.Message.Op)
			}
		}()
	}

	const senders = 8
	const rounds = 50
	var sending sync.WaitGroup
	errs := make(chan error, senders)
	for i := 0; i < senders; i++ {
		sending.Add(1)
		go func(id int) {
			defer sending.Done()
			ch, err := s.Attach(SelfPeer(), handle.NewTable())
			if err != nil {
				errs <- err
				return
			}
			defer ch.Close()
			for round := 0; round < rounds; round++ {
				op := int32(id*rounds + round)
				payload := []byte{byte(id), byte(round)}
				reply := make([]byte, 2)
				status, err := ch.Send(context.Background(), op,
					iovec.Bytes(payload), iovec.Bytes(reply), nil)
				if err != nil {
					errs <- err
					return
				}
				if status != op || !bytes.Equal(reply, payload) {
					errs <- errors.New("echo mismatch")
					return
				}
				if round%10 == 0 {
					if err := ch.SendImpulse(op, payload); err != nil {
						errs <- err
						return
					}
				}
			}
		}(i)
	}

	sending.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("sender: %v", err)
	}
	s.Cancel()
	serving.Wait()

	// Every sender and worker has returned, so both references on
	// every message have been dropped and every id released.
	s.mu.Lock()
	live := len(s.messages)
	queued := len(s.pending)
	s.mu.Unlock()
	if live != 0 || queued != 0 {
		t.Errorf("after cancel: %d live messages, %d queued entries, want none", live, queued)
	}
	if n := s.messageIDs.InUse(); n != 0 {
		t.Errorf("message ids still in use = %d, want 0", n)
	}
}
