// Copyright 2026 The Svchub Authors
// SPDX-License-Identifier: Apache-2.0

// Package handle moves OS-level resources between execution contexts.
//
// A Resource is anything that can be duplicated and closed: an open
// file descriptor (File), or a messaging channel wrapped by the hub
// package. A Table is one context's handle namespace, mapping dense
// small-integer ids to resources.
//
// Tables support a two-phase install used by the message completion
// path: Reserve claims an id immediately (so the sender-visible id is
// known while the transaction is still in flight), then Install or
// Discard settles the reservation when the transaction completes or
// fails.
package handle
