// Copyright (c) 2026 The evnet Authors.
// This package is licensed under a MIT license that can be found in the LICENSE file.

//go:build linux
// +build linux

package evnet

import (
	"sync"
)

// ThreadInitCallback runs on the new thread with its loop already valid,
// before the loop starts. It is the place to register channels that must live
// on that loop.
type ThreadInitCallback func(*EventLoop)

// EventLoopThread hosts one EventLoop on a dedicated OS thread. The loop
// pointer is published only after the loop is fully constructed.
type EventLoopThread struct {
	mu       sync.Mutex
	cond     *sync.Cond
	loop     *EventLoop
	started  bool
	exiting  bool
	done     chan struct{}
	callback ThreadInitCallback
}

// NewEventLoopThread returns an EventLoopThread with an optional init
// callback. No thread is created until StartLoop.
func NewEventLoopThread(cb ThreadInitCallback) *EventLoopThread {
	t := &EventLoopThread{
		done:     make(chan struct{}),
		callback: cb,
	}
	t.cond = sync.NewCond(&t.mu)
	return t
}

// StartLoop spawns the loop thread, blocks until its EventLoop is
// constructed, and returns the loop. The pointer stays stable for the
// lifetime of the EventLoopThread.
func (t *EventLoopThread) StartLoop() *EventLoop {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		logger.Fatal().Msg("evnet: EventLoopThread started twice")
	}
	t.started = true
	t.mu.Unlock()

	go t.threadFunc()

	t.mu.Lock()
	for t.loop == nil {
		t.cond.Wait()
	}
	loop := t.loop
	t.mu.Unlock()
	return loop
}

func (t *EventLoopThread) threadFunc() {
	defer close(t.done)
	defer func() {
		if e := recover(); e != nil {
			logger.Fatal().Interface("reason", e).Msg("evnet: event loop thread crashed")
		}
	}()
	loop := NewEventLoop()
	if t.callback != nil {
		t.callback(loop)
	}
	t.mu.Lock()
	t.loop = loop
	t.cond.Signal()
	t.mu.Unlock()

	loop.Loop()

	t.mu.Lock()
	t.loop = nil
	t.mu.Unlock()
	loop.Close()
}

// Close quits the hosted loop and joins the thread. Closing before StartLoop
// is a no-op. Not 100% race-free against a concurrent StartLoop; callers keep
// the two on one thread.
func (t *EventLoopThread) Close() {
	t.mu.Lock()
	t.exiting = true
	loop := t.loop
	started := t.started
	t.mu.Unlock()
	if loop != nil {
		loop.Quit()
	}
	if started {
		<-t.done
	}
}
