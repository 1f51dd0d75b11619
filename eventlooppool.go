// Copyright (c) 2026 The evnet Authors.
// This package is licensed under a MIT license that can be found in the LICENSE file.

//go:build linux
// +build linux

package evnet

import (
	"strconv"
)

// EventLoopPool owns a set of EventLoopThreads and hands out their loops
// round-robin. With zero threads every GetNextLoop returns the base loop.
type EventLoopPool struct {
	baseLoop *EventLoop
	started  bool
	numLoops int
	next     int
	threads  []*EventLoopThread
	loops    []*EventLoop
}

// NewEventLoopPool returns a pool of numLoops loop threads on top of the
// base loop.
func NewEventLoopPool(baseLoop *EventLoop, numLoops int) *EventLoopPool {
	return &EventLoopPool{baseLoop: baseLoop, numLoops: numLoops}
}

// Start spawns the loop threads. Must be called on the base loop's thread,
// once.
func (p *EventLoopPool) Start(cb ThreadInitCallback) {
	p.baseLoop.AssertInLoopThread()
	if p.started {
		logger.Fatal().Msg("evnet: EventLoopPool started twice")
	}
	p.started = true
	for i := 0; i < p.numLoops; i++ {
		t := NewEventLoopThread(cb)
		p.threads = append(p.threads, t)
		p.loops = append(p.loops, t.StartLoop())
	}
	if p.numLoops == 0 && cb != nil {
		cb(p.baseLoop)
	}
	logger.Debug().Str("loops", strconv.Itoa(p.numLoops)).Msg("evnet: EventLoopPool started")
}

// GetNextLoop returns the next loop round-robin, or the base loop when the
// pool is empty. Must be called on the base loop's thread.
func (p *EventLoopPool) GetNextLoop() *EventLoop {
	p.baseLoop.AssertInLoopThread()
	if !p.started {
		logger.Fatal().Msg("evnet: EventLoopPool not started")
	}
	loop := p.baseLoop
	if len(p.loops) > 0 {
		loop = p.loops[p.next]
		p.next = (p.next + 1) % len(p.loops)
	}
	return loop
}

// GetAllLoops returns every loop of the pool, or the base loop alone when the
// pool is empty.
func (p *EventLoopPool) GetAllLoops() []*EventLoop {
	p.baseLoop.AssertInLoopThread()
	if len(p.loops) == 0 {
		return []*EventLoop{p.baseLoop}
	}
	return p.loops
}

// Close quits and joins every loop thread.
func (p *EventLoopPool) Close() {
	for _, t := range p.threads {
		t.Close()
	}
}
