// Copyright (c) 2026 The evnet Authors.
// This package is licensed under a MIT license that can be found in the LICENSE file.

//go:build linux
// +build linux

package evnet

import (
	"encoding/binary"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"
	"golang.org/x/sys/unix"
)

// pollTimeMs bounds an otherwise idle poller wait.
const pollTimeMs = 10 * 1000

// Functor is a task funneled onto a loop's thread.
type Functor func()

var (
	loopsMu sync.Mutex
	loops   = make(map[int]*EventLoop)
)

// CurrentLoop returns the EventLoop of the calling thread, or nil. Meaningful
// only on a goroutine pinned with runtime.LockOSThread.
func CurrentLoop() *EventLoop {
	loopsMu.Lock()
	l := loops[unix.Gettid()]
	loopsMu.Unlock()
	return l
}

// EventLoop is a single-threaded reactor: it owns a poller, a timer queue and
// an eventfd wakeup channel, and drives the channels registered with it. One
// thread hosts at most one EventLoop; NewEventLoop pins the calling goroutine
// to its OS thread and registers the loop for that thread, so every later
// IsInLoopThread check is an exact thread identity test.
type EventLoop struct {
	threadID  int
	looping   bool
	quitFlag  int32
	iteration int64

	eventHandling        bool
	currentActiveChannel *Channel
	activeChannels       []*Channel

	poller         Poller
	timerQueue     *timerQueue
	wakeupFd       int
	wakeupChannel  *Channel
	pollReturnTime Timestamp

	mu                     sync.Mutex
	pendingFunctors        *queue.Queue
	callingPendingFunctors int32
}

// NewEventLoop creates an EventLoop owned by the calling goroutine's OS
// thread. The goroutine stays locked to its thread until Close. Creating a
// second loop on the same thread is fatal.
func NewEventLoop() *EventLoop {
	runtime.LockOSThread()
	tid := unix.Gettid()
	loopsMu.Lock()
	if other := loops[tid]; other != nil {
		loopsMu.Unlock()
		logger.Fatal().Int("tid", tid).Msg("evnet: another EventLoop exists in this thread")
	}
	l := &EventLoop{
		threadID:        tid,
		pendingFunctors: queue.New(),
	}
	loops[tid] = l
	loopsMu.Unlock()
	logger.Debug().Int("tid", tid).Msg("evnet: EventLoop created")
	l.poller = newDefaultPoller(l)
	l.timerQueue = newTimerQueue(l)
	l.wakeupFd = createEventfd()
	l.wakeupChannel = NewChannel(l, l.wakeupFd)
	l.wakeupChannel.SetReadCallback(l.handleWakeup)
	l.wakeupChannel.EnableReading()
	return l
}

// Close releases the loop's file descriptors and unregisters the thread
// marker. The loop must not be running, and Close must be called on the
// owning thread.
func (l *EventLoop) Close() error {
	l.AssertInLoopThread()
	if l.looping {
		logger.Fatal().Int("tid", l.threadID).Msg("evnet: close of a running EventLoop")
	}
	l.wakeupChannel.DisableAll()
	l.wakeupChannel.Remove()
	unix.Close(l.wakeupFd)
	l.timerQueue.close()
	err := l.poller.Close()
	loopsMu.Lock()
	delete(loops, l.threadID)
	loopsMu.Unlock()
	runtime.UnlockOSThread()
	return err
}

// Loop runs the reactor until Quit. Must be called on the owning thread, and
// only once at a time.
func (l *EventLoop) Loop() {
	l.AssertInLoopThread()
	if l.looping {
		logger.Fatal().Int("tid", l.threadID).Msg("evnet: EventLoop is already looping")
	}
	l.looping = true
	atomic.StoreInt32(&l.quitFlag, 0)
	logger.Debug().Int("tid", l.threadID).Msg("evnet: EventLoop start looping")
	for atomic.LoadInt32(&l.quitFlag) == 0 {
		l.activeChannels = l.activeChannels[:0]
		l.pollReturnTime = l.poller.Poll(pollTimeMs, &l.activeChannels)
		l.iteration++
		l.eventHandling = true
		for _, c := range l.activeChannels {
			l.currentActiveChannel = c
			c.HandleEvent(l.pollReturnTime)
		}
		l.currentActiveChannel = nil
		l.eventHandling = false
		l.doPendingFunctors()
	}
	logger.Debug().Int("tid", l.threadID).Msg("evnet: EventLoop stop looping")
	l.looping = false
}

// Quit ends the loop at the next iteration boundary. Safe to call from any
// thread; an off-thread quit wakes the poller so the loop returns promptly.
// An in-progress callback is never aborted.
func (l *EventLoop) Quit() {
	atomic.StoreInt32(&l.quitFlag, 1)
	if !l.IsInLoopThread() {
		l.wakeup()
	}
}

// RunInLoop runs f on the loop thread: synchronously in place when the caller
// already is the loop thread, queued plus wakeup otherwise. Cross-thread
// submissions from one thread run in submission order.
func (l *EventLoop) RunInLoop(f Functor) {
	if l.IsInLoopThread() {
		f()
	} else {
		l.QueueInLoop(f)
	}
}

// QueueInLoop appends f to the pending functors, even when called on the loop
// thread. The wakeup fires when the caller is off-thread or when the loop is
// currently draining pending functors, so a functor queueing more work always
// forces a fresh iteration.
func (l *EventLoop) QueueInLoop(f Functor) {
	l.mu.Lock()
	l.pendingFunctors.Add(f)
	l.mu.Unlock()
	if !l.IsInLoopThread() || atomic.LoadInt32(&l.callingPendingFunctors) != 0 {
		l.wakeup()
	}
}

// QueueSize returns the number of queued functors.
func (l *EventLoop) QueueSize() int {
	l.mu.Lock()
	n := l.pendingFunctors.Length()
	l.mu.Unlock()
	return n
}

// The pending list is swapped out under the lock and run without it, so a
// functor may safely queue more functors.
func (l *EventLoop) doPendingFunctors() {
	var functors []Functor
	atomic.StoreInt32(&l.callingPendingFunctors, 1)
	l.mu.Lock()
	for l.pendingFunctors.Length() > 0 {
		functors = append(functors, l.pendingFunctors.Remove().(Functor))
	}
	l.mu.Unlock()
	for _, f := range functors {
		f()
	}
	atomic.StoreInt32(&l.callingPendingFunctors, 0)
}

// RunAt schedules cb at the absolute time. Thread-safe.
func (l *EventLoop) RunAt(when Timestamp, cb TimerCallback) TimerID {
	return l.timerQueue.addTimer(cb, when, 0)
}

// RunAfter schedules cb after delay seconds. Thread-safe.
func (l *EventLoop) RunAfter(delay float64, cb TimerCallback) TimerID {
	return l.RunAt(Now().Add(delay), cb)
}

// RunEvery schedules cb every interval seconds. Thread-safe.
func (l *EventLoop) RunEvery(interval float64, cb TimerCallback) TimerID {
	return l.timerQueue.addTimer(cb, Now().Add(interval), interval)
}

// Cancel cancels a timer. Cancelling a repeating timer from its own callback
// suppresses the re-insert; a cancelled one-shot never fires. Thread-safe.
func (l *EventLoop) Cancel(id TimerID) {
	l.timerQueue.cancel(id)
}

// UpdateChannel pushes a channel's interest to the poller. Called by Channel
// only.
func (l *EventLoop) UpdateChannel(c *Channel) {
	if c.OwnerLoop() != l {
		logger.Fatal().Int("fd", c.Fd()).Msg("evnet: update of a channel owned by another loop")
	}
	l.AssertInLoopThread()
	l.poller.UpdateChannel(c)
}

// RemoveChannel deregisters a channel from the poller. Called by Channel only.
func (l *EventLoop) RemoveChannel(c *Channel) {
	if c.OwnerLoop() != l {
		logger.Fatal().Int("fd", c.Fd()).Msg("evnet: remove of a channel owned by another loop")
	}
	l.AssertInLoopThread()
	if l.eventHandling && l.currentActiveChannel != c {
		for _, active := range l.activeChannels {
			if active == c {
				logger.Fatal().Int("fd", c.Fd()).Msg("evnet: remove of an active channel from another channel's callback")
			}
		}
	}
	l.poller.RemoveChannel(c)
}

// HasChannel reports whether the channel is registered with this loop.
func (l *EventLoop) HasChannel(c *Channel) bool {
	if c.OwnerLoop() != l {
		logger.Fatal().Int("fd", c.Fd()).Msg("evnet: query of a channel owned by another loop")
	}
	l.AssertInLoopThread()
	return l.poller.HasChannel(c)
}

// PollReturnTime returns the time the poller last returned.
func (l *EventLoop) PollReturnTime() Timestamp {
	return l.pollReturnTime
}

// Iteration returns the loop iteration counter.
func (l *EventLoop) Iteration() int64 {
	return l.iteration
}

// EventHandling reports whether the loop is dispatching active channels.
func (l *EventLoop) EventHandling() bool {
	return l.eventHandling
}

// IsInLoopThread reports whether the caller runs on the loop's thread. The
// loop goroutine is locked to its thread, so no other goroutine can observe
// that thread id while the loop is alive.
func (l *EventLoop) IsInLoopThread() bool {
	return unix.Gettid() == l.threadID
}

// AssertInLoopThread aborts when the caller is not on the loop's thread.
// Cross-thread misuse is the principal source of corruption in a reactor.
func (l *EventLoop) AssertInLoopThread() {
	if !l.IsInLoopThread() {
		logger.Fatal().Int("loop_tid", l.threadID).Int("tid", unix.Gettid()).Msg("evnet: EventLoop was created in another thread")
	}
}

func (l *EventLoop) wakeup() {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], 1)
	n, err := unix.Write(l.wakeupFd, buf[:])
	if n != 8 {
		logger.Error().Err(err).Int("n", n).Msg("evnet: wakeup write")
	}
}

func (l *EventLoop) handleWakeup(Timestamp) {
	var buf [8]byte
	n, err := unix.Read(l.wakeupFd, buf[:])
	if n != 8 {
		logger.Error().Err(err).Int("n", n).Msg("evnet: wakeup read")
	}
}

func createEventfd() int {
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		logger.Fatal().Err(err).Msg("evnet: eventfd")
	}
	return fd
}
