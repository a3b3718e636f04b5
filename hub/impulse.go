// Copyright 2026 The Svchub Authors
// SPDX-License-Identifier: Apache-2.0

package hub

// MaxImpulsePayload is the inline payload capacity of an impulse.
const MaxImpulsePayload = 32

// Impulse is a one-way notification. It carries a small inline
// payload, is never replied to, and is consumed by exactly one
// receive (or discarded when the service is canceled first).
type Impulse struct {
	// Channel is the sending channel's id.
	Channel int32

	// Op is the caller-defined operation code.
	Op int32

	// Peer is the sender's identity.
	Peer Peer

	payload [MaxImpulsePayload]byte
	length  int
}

// Payload returns the inline payload.
func (im *Impulse) Payload() []byte {
	return im.payload[:im.length]
}
