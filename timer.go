// Copyright (c) 2026 The evnet Authors.
// This package is licensed under a MIT license that can be found in the LICENSE file.

package evnet

import (
	"sync/atomic"
)

// TimerCallback is the function a timer runs at expiration.
type TimerCallback func()

var timerSequence int64

// Timer is a single timer entry: a callback, an absolute expiration and an
// optional repeat interval in seconds. Sequence numbers are allocated
// monotonically and never reused, so (expiration, sequence) orders timers
// totally.
type Timer struct {
	callback   TimerCallback
	expiration Timestamp
	interval   float64
	repeat     bool
	sequence   int64
	heapIndex  int
}

// NewTimer returns a Timer firing at when, repeating every interval seconds
// when interval is greater than zero.
func NewTimer(cb TimerCallback, when Timestamp, interval float64) *Timer {
	return &Timer{
		callback:   cb,
		expiration: when,
		interval:   interval,
		repeat:     interval > 0,
		sequence:   atomic.AddInt64(&timerSequence, 1),
		heapIndex:  -1,
	}
}

// Run invokes the callback.
func (t *Timer) Run() {
	t.callback()
}

// Expiration returns the absolute expiration time.
func (t *Timer) Expiration() Timestamp { return t.expiration }

// Repeat reports whether the timer repeats.
func (t *Timer) Repeat() bool { return t.repeat }

// Sequence returns the timer's allocation number.
func (t *Timer) Sequence() int64 { return t.sequence }

// Restart moves a repeating timer's expiration past now; a one-shot timer
// becomes invalid.
func (t *Timer) Restart(now Timestamp) {
	if t.repeat {
		t.expiration = now.Add(t.interval)
	} else {
		t.expiration = 0
	}
}

// TimerID identifies a timer for cancellation.
type TimerID struct {
	timer    *Timer
	sequence int64
}
