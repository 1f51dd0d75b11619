// Copyright (c) 2026 The evnet Authors.
// This package is licensed under a MIT license that can be found in the LICENSE file.

//go:build linux
// +build linux

package evnet

import (
	"container/heap"

	"golang.org/x/sys/unix"
)

// timerHeap orders timers by (expiration, sequence).
type timerHeap []*Timer

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].expiration != h[j].expiration {
		return h[i].expiration < h[j].expiration
	}
	return h[i].sequence < h[j].sequence
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}

func (h *timerHeap) Push(x interface{}) {
	t := x.(*Timer)
	t.heapIndex = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.heapIndex = -1
	*h = old[:n-1]
	return t
}

// timerQueue is the ordered timer set of one EventLoop, exposed to the loop
// as a single readable timerfd. addTimer and cancel are thread-safe; the rest
// runs on the loop thread only.
type timerQueue struct {
	loop           *EventLoop
	timerfd        int
	timerfdChannel *Channel
	timers         timerHeap
	activeTimers   map[int64]*Timer

	callingExpiredTimers bool
	cancelingTimers      map[int64]bool
}

func newTimerQueue(loop *EventLoop) *timerQueue {
	fd := createTimerfd()
	q := &timerQueue{
		loop:            loop,
		timerfd:         fd,
		activeTimers:    make(map[int64]*Timer),
		cancelingTimers: make(map[int64]bool),
	}
	q.timerfdChannel = NewChannel(loop, fd)
	q.timerfdChannel.SetReadCallback(q.handleRead)
	q.timerfdChannel.EnableReading()
	return q
}

func (q *timerQueue) close() {
	q.timerfdChannel.DisableAll()
	q.timerfdChannel.Remove()
	unix.Close(q.timerfd)
}

// addTimer may be called from any thread.
func (q *timerQueue) addTimer(cb TimerCallback, when Timestamp, interval float64) TimerID {
	t := NewTimer(cb, when, interval)
	q.loop.RunInLoop(func() {
		q.addTimerInLoop(t)
	})
	return TimerID{timer: t, sequence: t.sequence}
}

// cancel may be called from any thread.
func (q *timerQueue) cancel(id TimerID) {
	q.loop.RunInLoop(func() {
		q.cancelInLoop(id)
	})
}

func (q *timerQueue) addTimerInLoop(t *Timer) {
	q.loop.AssertInLoopThread()
	if q.insert(t) {
		resetTimerfd(q.timerfd, t.expiration)
	}
}

func (q *timerQueue) cancelInLoop(id TimerID) {
	q.loop.AssertInLoopThread()
	if t, ok := q.activeTimers[id.sequence]; ok && t == id.timer {
		heap.Remove(&q.timers, t.heapIndex)
		delete(q.activeTimers, id.sequence)
	} else if q.callingExpiredTimers {
		// The timer is cancelling itself from its own callback; suppress
		// the re-insert of a repeating timer.
		q.cancelingTimers[id.sequence] = true
	}
}

func (q *timerQueue) handleRead(Timestamp) {
	q.loop.AssertInLoopThread()
	readTimerfd(q.timerfd)
	now := Now()
	expired := q.getExpired(now)

	q.callingExpiredTimers = true
	q.cancelingTimers = make(map[int64]bool)
	for _, t := range expired {
		t.Run()
	}
	q.callingExpiredTimers = false

	q.reset(expired, now)
}

// getExpired pops every timer due at or before now.
func (q *timerQueue) getExpired(now Timestamp) []*Timer {
	var expired []*Timer
	for len(q.timers) > 0 && !q.timers[0].expiration.After(now) {
		t := heap.Pop(&q.timers).(*Timer)
		delete(q.activeTimers, t.sequence)
		expired = append(expired, t)
	}
	return expired
}

func (q *timerQueue) reset(expired []*Timer, now Timestamp) {
	for _, t := range expired {
		if t.repeat && !q.cancelingTimers[t.sequence] {
			t.Restart(now)
			q.insert(t)
		}
	}
	if len(q.timers) > 0 {
		if next := q.timers[0].expiration; next.Valid() {
			resetTimerfd(q.timerfd, next)
		}
	}
}

// insert reports whether the earliest expiration changed.
func (q *timerQueue) insert(t *Timer) bool {
	earliestChanged := len(q.timers) == 0 || t.expiration.Before(q.timers[0].expiration)
	heap.Push(&q.timers, t)
	q.activeTimers[t.sequence] = t
	return earliestChanged
}

func createTimerfd() int {
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_NONBLOCK|unix.TFD_CLOEXEC)
	if err != nil {
		logger.Fatal().Err(err).Msg("evnet: timerfd_create")
	}
	return fd
}

func readTimerfd(fd int) {
	var buf [8]byte
	n, err := unix.Read(fd, buf[:])
	if n != 8 {
		logger.Error().Err(err).Int("fd", fd).Int("n", n).Msg("evnet: timerfd read")
	}
}

func resetTimerfd(fd int, expiration Timestamp) {
	var newValue unix.ItimerSpec
	newValue.Value = timespecFromNow(expiration)
	if err := unix.TimerfdSettime(fd, 0, &newValue, nil); err != nil {
		logger.Error().Err(err).Int("fd", fd).Msg("evnet: timerfd_settime")
	}
}

func timespecFromNow(when Timestamp) unix.Timespec {
	micro := when.Microseconds() - Now().Microseconds()
	if micro < 100 {
		micro = 100
	}
	return unix.NsecToTimespec(micro * 1000)
}
