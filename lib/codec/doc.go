// Copyright 2026 The Svchub Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec wraps CBOR encoding with a fixed configuration so
// every producer emits identical bytes for identical data.
//
// Encoding uses Core Deterministic Encoding (RFC 8949 §4.2); decoding
// accepts standard CBOR and ignores unknown fields for forward
// compatibility. Consumers import this package rather than the CBOR
// library directly, so the configuration cannot drift between
// callers.
package codec
