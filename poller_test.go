// Copyright (c) 2026 The evnet Authors.
// This package is licensed under a MIT license that can be found in the LICENSE file.

//go:build linux
// +build linux

package evnet

import (
	"os"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func TestDefaultPoller(t *testing.T) {
	loop := NewEventLoop()
	if _, ok := loop.poller.(*epollPoller); !ok {
		t.Error("default back-end must be epoll")
	}
	loop.Close()
}

func TestPollPollerSelected(t *testing.T) {
	os.Setenv("EVNET_USE_POLL", "1")
	defer os.Unsetenv("EVNET_USE_POLL")
	loop := NewEventLoop()
	if _, ok := loop.poller.(*pollPoller); !ok {
		t.Error("EVNET_USE_POLL must select the poll back-end")
	}
	loop.Close()
}

func testPollerReadiness(t *testing.T) {
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
			var buf [8]byte
			unix.Read(p[0], buf[:])
			atomic.AddInt32(&count, 1)
		})
		ch.EnableReading()
		close(ready)
	})
	<-ready
	for i := 0; i < 3; i++ {
		unix.Write(p[1], []byte{1})
		time.Sleep(time.Millisecond * 100)
	}
	if atomic.LoadInt32(&count) < 3 {
		t.Error(count)
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

func TestEpollPollerReadiness(t *testing.T) {
	testPollerReadiness(t)
}

func TestPollPollerReadiness(t *testing.T) {
	os.Setenv("EVNET_USE_POLL", "1")
	defer os.Unsetenv("EVNET_USE_POLL")
	testPollerReadiness(t)
}

func TestPollPollerDetachReattach(t *testing.T) {
	os.Setenv("EVNET_USE_POLL", "1")
	defer os.Unsetenv("EVNET_USE_POLL")
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
			var buf [8]byte
			unix.Read(p[0], buf[:])
			atomic.AddInt32(&count, 1)
		})
		ch.EnableReading()
		ch.DisableAll()
		close(ready)
	})
	<-ready
	unix.Write(p[1], []byte{1})
	time.Sleep(time.Millisecond * 100)
	if atomic.LoadInt32(&count) != 0 {
		t.Error("detached channel must not be polled")
	}
	reattached := make(chan struct{})
	loop.RunInLoop(func() {
		ch.EnableReading()
		close(reattached)
	})
	<-reattached
	time.Sleep(time.Millisecond * 200)
	if atomic.LoadInt32(&count) < 1 {
		t.Error("reattached channel must see pending readability")
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
