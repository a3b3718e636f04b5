// Copyright 2026 The Svchub Authors
// SPDX-License-Identifier: Apache-2.0

package hub

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument covers malformed requests: unknown message
	// ids, operations on messages that are no longer active, reserved
	// operation codes, oversized impulse payloads, bad handle indexes.
	ErrInvalidArgument = errors.New("hub: invalid argument")

	// ErrCanceled means the target service or channel is no longer
	// live. Blocked senders and receivers are woken with it when a
	// service is torn down.
	ErrCanceled = errors.New("hub: canceled")

	// ErrInterrupted means a sender's wait was aborted externally.
	// The message itself is unaffected and will still be delivered
	// and completed.
	ErrInterrupted = errors.New("hub: interrupted")

	// ErrTimeout means a bounded receive or poll found nothing
	// within its window. A zero-timeout receive returns it
	// immediately when the queue is empty.
	ErrTimeout = errors.New("hub: timed out")

	// ErrResourceExhausted means an id space (channels, messages,
	// handles) is saturated.
	ErrResourceExhausted = errors.New("hub: resource exhausted")

	// ErrAttachRejected means the service's receiver completed the
	// attach notification with a negative status, refusing the new
	// channel.
	ErrAttachRejected = errors.New("hub: attach rejected")
)

// FaultError reports a buffer transfer that stopped because a
// segment could not be accessed. Only the one transfer is affected;
// the message and service remain usable.
type FaultError struct {
	// Transferred is the exact number of bytes moved before the
	// fault.
	Transferred int

	// Remote is true when the faulting segment belonged to the
	// message's own buffers (the sender's memory), false when it was
	// the receiver-local side.
	Remote bool
}

func (e *FaultError) Error() string {
	side := "local"
	if e.Remote {
		side = "remote"
	}
	return fmt.Sprintf("hub: %s buffer fault after %d bytes", side, e.Transferred)
}

// AsFault returns the FaultError inside err, if any.
func AsFault(err error) (*FaultError, bool) {
	var fault *FaultError
	ok := errors.As(err, &fault)
	return fault, ok
}
