// Copyright (c) 2026 The evnet Authors.
// This package is licensed under a MIT license that can be found in the LICENSE file.

//go:build linux
// +build linux

package evnet

import (
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func TestChannelInterestMask(t *testing.T) {
	loop := NewEventLoop()
	defer loop.Close()
	p := make([]int, 2)
	if err := unix.Pipe(p); err != nil {
		t.Fatal(err)
	}
	defer unix.Close(p[0])
	defer unix.Close(p[1])

	ch := NewChannel(loop, p[0])
	if !ch.IsNoneEvent() {
		t.Error(ch.Events())
	}
	ch.EnableReading()
	if !ch.IsReading() || ch.IsWriting() {
		t.Error(ch.EventsString())
	}
	if !loop.HasChannel(ch) {
		t.Error("channel must be registered")
	}
	ch.EnableWriting()
	if !ch.IsWriting() {
		t.Error(ch.EventsString())
	}
	ch.DisableWriting()
	if ch.IsWriting() || !ch.IsReading() {
		t.Error(ch.EventsString())
	}
	// enable then disable restores the previous mask.
	ch.DisableReading()
	if !ch.IsNoneEvent() {
		t.Error(ch.EventsString())
	}
	ch.DisableAll()
	ch.Remove()
	if loop.HasChannel(ch) {
		t.Error("channel must be deregistered")
	}
}

func TestChannelUpdateTwice(t *testing.T) {
	loop := NewEventLoop()
	defer loop.Close()
	p := make([]int, 2)
	if err := unix.Pipe(p); err != nil {
		t.Fatal(err)
	}
	defer unix.Close(p[0])
	defer unix.Close(p[1])

	ch := NewChannel(loop, p[0])
	ch.EnableReading()
	ch.EnableReading()
	if !loop.HasChannel(ch) {
		t.Error("channel must be registered")
	}
	ch.DisableAll()
	ch.DisableAll()
	ch.Remove()
}

func TestChannelReadCallback(t *testing.T) {
	thread := NewEventLoopThread(nil)
	loop := thread.StartLoop()
	defer thread.Close()

	p := make([]int, 2)
	if err := unix.Pipe(p); err != nil {
		t.Fatal(err)
	}
	unix.SetNonblock(p[0], true)

	var count int32
	var receive Timestamp
	var ch *Channel
	ready := make(chan struct{})
	loop.RunInLoop(func() {
		ch = NewChannel(loop, p[0])
		ch.SetReadCallback(func(receiveTime Timestamp) {
			receive = receiveTime
			var buf [8]byte
			unix.Read(p[0], buf[:])
			atomic.AddInt32(&count, 1)
		})
		ch.EnableReading()
		close(ready)
	})
	<-ready
	before := Now()
	unix.Write(p[1], []byte{1})
	time.Sleep(time.Millisecond * 200)
	if atomic.LoadInt32(&count) < 1 {
		t.Error(count)
	}
	done := make(chan struct{})
	loop.RunInLoop(func() {
		if !receive.Valid() || receive.Before(before.Add(-0.001)) {
			t.Error(receive, before)
		}
		ch.DisableAll()
		ch.Remove()
		close(done)
	})
	<-done
	unix.Close(p[0])
	unix.Close(p[1])
}

func TestChannelTiePreventsDispatch(t *testing.T) {
	thread := NewEventLoopThread(nil)
	loop := thread.StartLoop()
	defer thread.Close()

	p := make([]int, 2)
	if err := unix.Pipe(p); err != nil {
		t.Fatal(err)
	}
	unix.SetNonblock(p[0], true)

	anchor := new(Anchor)
	var count int32
	var ch *Channel
	ready := make(chan struct{})
	loop.RunInLoop(func() {
		ch = NewChannel(loop, p[0])
		ch.SetReadCallback(func(Timestamp) {
			var buf [8]byte
			unix.Read(p[0], buf[:])
			atomic.AddInt32(&count, 1)
		})
		ch.Tie(anchor)
		ch.EnableReading()
		close(ready)
	})
	<-ready
	unix.Write(p[1], []byte{1})
	time.Sleep(time.Millisecond * 200)
	if atomic.LoadInt32(&count) < 1 {
		t.Error("tied channel with a live anchor must dispatch")
	}
	before := atomic.LoadInt32(&count)

	// Dropping the anchor preempts delivery; readability must not abort or
	// invoke the callback.
	anchor.Drop()
	unix.Write(p[1], []byte{1})
	time.Sleep(time.Millisecond * 200)
	if got := atomic.LoadInt32(&count); got != before {
		t.Error(got, before)
	}
	done := make(chan struct{})
	loop.RunInLoop(func() {
		ch.DisableAll()
		ch.Remove()
		close(done)
	})
	<-done
	unix.Close(p[0])
	unix.Close(p[1])
}

func TestChannelZeroInterestNotPolled(t *testing.T) {
	thread := NewEventLoopThread(nil)
	loop := thread.StartLoop()
	defer thread.Close()

	p := make([]int, 2)
	if err := unix.Pipe(p); err != nil {
		t.Fatal(err)
	}
	unix.SetNonblock(p[0], true)

	var count int32
	var ch *Channel
	ready := make(chan struct{})
	loop.RunInLoop(func() {
		ch = NewChannel(loop, p[0])
		ch.SetReadCallback(func(Timestamp) {
			atomic.AddInt32(&count, 1)
		})
		ch.EnableReading()
		ch.DisableAll()
		close(ready)
	})
	<-ready
	unix.Write(p[1], []byte{1})
	time.Sleep(time.Millisecond * 200)
	if atomic.LoadInt32(&count) != 0 {
		t.Error("disabled channel must not be polled")
	}
	done := make(chan struct{})
	loop.RunInLoop(func() {
		ch.Remove()
		close(done)
	})
	<-done
	unix.Close(p[0])
	unix.Close(p[1])
}
