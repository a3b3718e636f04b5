// Copyright 2026 The Svchub Authors
// SPDX-License-Identifier: Apache-2.0

// Package idspace allocates dense small-integer identifiers.
//
// A Space hands out the smallest non-negative integer not currently
// assigned, and takes released identifiers back for reuse. Channel
// ids, message ids, and handle ids each live in their own Space so
// the namespaces stay independent.
//
// A Space is safe for concurrent use. Allocate and Release are
// O(log n) in the number of released-but-unreused identifiers.
package idspace
