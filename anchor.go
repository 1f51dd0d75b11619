// Copyright (c) 2026 The evnet Authors.
// This package is licensed under a MIT license that can be found in the LICENSE file.

package evnet

import (
	"sync/atomic"
)

// Anchor guards callback delivery against the destruction of an external
// owner. A Channel tied to an Anchor delivers no callbacks once the Anchor
// has been dropped, so an owner that is torn down while events are still in
// flight never sees a late callback. The zero Anchor is live.
type Anchor struct {
	dropped int32
}

// Drop marks the anchor dead. Safe to call from any thread and more than once.
func (a *Anchor) Drop() {
	atomic.StoreInt32(&a.dropped, 1)
}

// Dropped reports whether the anchor has been dropped.
func (a *Anchor) Dropped() bool {
	return atomic.LoadInt32(&a.dropped) != 0
}
