// Copyright 2026 The Svchub Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers.
//
// [RequireReceive], [RequireSend], and [RequireClosed] wrap channel
// operations in timeouts so a broken synchronization path fails the
// test instead of hanging it. [SocketDir] creates a short temporary
// directory for Unix domain sockets, which are limited to 108-byte
// paths and so cannot live under deeply nested test temp dirs.
package testutil
