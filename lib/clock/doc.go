// Copyright 2026 The Svchub Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time so that timeout behavior is testable.
//
// Production code injects Real(); tests inject Fake(initial) and
// advance it deterministically. Anything in this module that waits on
// wall time (receive timeouts, poll timeouts) goes through a Clock
// rather than the time package directly.
package clock
