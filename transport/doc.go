// Copyright 2026 The Svchub Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport exposes hub services to other processes over a
// Unix domain socket.
//
// Each connection carries one CBOR request and one CBOR response.
// Message payloads travel inside compressed, checksummed frames;
// file descriptors cross the socket boundary as SCM_RIGHTS ancillary
// data and surface as handle table entries on the far side. The
// sender's identity is taken from the socket's peer credentials, not
// from the request.
package transport
