// Copyright 2026 The Svchub Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Clock is the time surface this module uses. Real() backs it with
// the time package; Fake() gives tests deterministic control.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time once d
	// has elapsed. A non-positive d delivers immediately.
	After(d time.Duration) <-chan time.Time

	// AfterFunc waits for d, then calls f. The returned Timer can
	// cancel the pending call with Stop; its C field is nil, matching
	// time.AfterFunc.
	AfterFunc(d time.Duration, f func()) *Timer

	// Sleep pauses the calling goroutine for at least d.
	Sleep(d time.Duration)
}

// Timer is a scheduled event created by AfterFunc.
type Timer struct {
	// C is nil for AfterFunc timers.
	C <-chan time.Time

	stopFunc  func() bool
	resetFunc func(time.Duration) bool
}

// Stop prevents the timer from firing. Returns true if the call
// stopped it, false if it already fired or was stopped.
func (t *Timer) Stop() bool { return t.stopFunc() }

// Reset reschedules the timer to fire after d. Returns true if the
// timer was still active.
func (t *Timer) Reset(d time.Duration) bool { return t.resetFunc(d) }
