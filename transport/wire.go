// Copyright 2026 The Svchub Authors
// SPDX-License-Identifier: Apache-2.0

package transport

// Wire actions. Each connection carries exactly one.
const (
	// ActionSend performs a synchronous transaction and returns the
	// completion status and reply payload.
	ActionSend = "send"

	// ActionImpulse delivers a one-way notification. The response
	// only acknowledges the enqueue.
	ActionImpulse = "impulse"
)

// Request is the envelope a client writes after connecting. Payload
// is a frame (see EncodeFrame); HandleCount says how many file
// descriptors ride along as SCM_RIGHTS ancillary data on the same
// write.
type Request struct {
	Action  string `cbor:"action"`
	Service string `cbor:"service"`
	Op      int32  `cbor:"op"`
	Payload []byte `cbor:"payload,omitempty"`

	// RecvLen is the reply space the sender offers, in bytes. Only
	// meaningful for ActionSend.
	RecvLen int64 `cbor:"recv_len,omitempty"`

	HandleCount int `cbor:"handle_count,omitempty"`
}

// Response is the envelope the server writes back. Payload holds the
// framed reply bytes for ActionSend.
type Response struct {
	OK      bool   `cbor:"ok"`
	Error   string `cbor:"error,omitempty"`
	Status  int32  `cbor:"status,omitempty"`
	Payload []byte `cbor:"payload,omitempty"`
}
