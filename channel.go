// Copyright (c) 2026 The evnet Authors.
// This package is licensed under a MIT license that can be found in the LICENSE file.

//go:build linux
// +build linux

package evnet

import (
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// Interest and readiness masks use the poll(2) bit values. The epoll back-end
// relies on EPOLLIN/EPOLLPRI/EPOLLOUT/EPOLLERR/EPOLLHUP/EPOLLRDHUP sharing
// the same values.
const (
	noneEvent  = 0
	readEvent  = unix.POLLIN | unix.POLLPRI
	writeEvent = unix.POLLOUT
)

// ReadEventCallback is invoked for readable events with the time the poller
// returned.
type ReadEventCallback func(receiveTime Timestamp)

// EventCallback is invoked for write, close and error events.
type EventCallback func()

// Channel dispatches I/O events of a single file descriptor. It performs no
// I/O itself and does not own the descriptor; the descriptor may be a socket,
// an eventfd or a timerfd. A Channel belongs to exactly one EventLoop for its
// whole life and all its methods except HandleEvent bookkeeping must be
// called on that loop's thread. Remove must be called before the owner lets
// go of the Channel.
type Channel struct {
	loop    *EventLoop
	fd      int
	events  int
	revents int
	index   int
	logHup  bool

	anchor        *Anchor
	tied          bool
	eventHandling bool
	addedToLoop   bool

	readCallback  ReadEventCallback
	writeCallback EventCallback
	closeCallback EventCallback
	errorCallback EventCallback
}

// NewChannel returns a Channel of the fd owned by the loop.
func NewChannel(loop *EventLoop, fd int) *Channel {
	return &Channel{loop: loop, fd: fd, index: channelNew, logHup: true}
}

// SetReadCallback sets the callback of readable events.
func (c *Channel) SetReadCallback(cb ReadEventCallback) { c.readCallback = cb }

// SetWriteCallback sets the callback of writable events.
func (c *Channel) SetWriteCallback(cb EventCallback) { c.writeCallback = cb }

// SetCloseCallback sets the callback of hangup events.
func (c *Channel) SetCloseCallback(cb EventCallback) { c.closeCallback = cb }

// SetErrorCallback sets the callback of error events.
func (c *Channel) SetErrorCallback(cb EventCallback) { c.errorCallback = cb }

// Tie binds the Channel to the lifetime anchor of an external owner.
// Once the anchor is dropped HandleEvent delivers nothing.
func (c *Channel) Tie(a *Anchor) {
	c.anchor = a
	c.tied = true
}

// Fd returns the file descriptor.
func (c *Channel) Fd() int { return c.fd }

// Events returns the current interest mask.
func (c *Channel) Events() int { return c.events }

// SetRevents stores the received events. Called by the poller only.
func (c *Channel) SetRevents(revents int) { c.revents = revents }

// Index returns the poller bookkeeping index. Used by the poller only.
func (c *Channel) Index() int { return c.index }

// SetIndex stores the poller bookkeeping index. Used by the poller only.
func (c *Channel) SetIndex(index int) { c.index = index }

// IsNoneEvent reports whether the interest mask is empty.
func (c *Channel) IsNoneEvent() bool { return c.events == noneEvent }

// IsWriting reports whether writable events are enabled.
func (c *Channel) IsWriting() bool { return c.events&writeEvent != 0 }

// IsReading reports whether readable events are enabled.
func (c *Channel) IsReading() bool { return c.events&readEvent != 0 }

// EnableReading adds readable events to the interest mask.
func (c *Channel) EnableReading() {
	c.events |= readEvent
	c.update()
}

// DisableReading removes readable events from the interest mask.
func (c *Channel) DisableReading() {
	c.events &^= readEvent
	c.update()
}

// EnableWriting adds writable events to the interest mask.
func (c *Channel) EnableWriting() {
	c.events |= writeEvent
	c.update()
}

// DisableWriting removes writable events from the interest mask.
func (c *Channel) DisableWriting() {
	c.events &^= writeEvent
	c.update()
}

// DisableAll clears the interest mask.
func (c *Channel) DisableAll() {
	c.events = noneEvent
	c.update()
}

// DoNotLogHup suppresses the warning on hangup events.
func (c *Channel) DoNotLogHup() { c.logHup = false }

// OwnerLoop returns the loop the Channel was created with.
func (c *Channel) OwnerLoop() *EventLoop { return c.loop }

func (c *Channel) update() {
	c.addedToLoop = true
	c.loop.UpdateChannel(c)
}

// Remove deregisters the Channel from its loop. The interest mask must be
// empty.
func (c *Channel) Remove() {
	if !c.IsNoneEvent() {
		logger.Fatal().Int("fd", c.fd).Str("events", c.EventsString()).Msg("evnet: remove of a channel with live interest")
	}
	c.addedToLoop = false
	c.loop.RemoveChannel(c)
}

// HandleEvent dispatches the received events to the callbacks. Called by the
// loop after the poller filled in the received events.
func (c *Channel) HandleEvent(receiveTime Timestamp) {
	if c.tied {
		if c.anchor.Dropped() {
			return
		}
	}
	c.handleEventWithGuard(receiveTime)
}

// Dispatch order matters: a peer that closed while data is still buffered
// must deliver the readable callback before close, so the read side drains
// and observes EOF itself.
func (c *Channel) handleEventWithGuard(receiveTime Timestamp) {
	c.eventHandling = true
	logger.Trace().Int("fd", c.fd).Str("revents", eventsToString(c.fd, c.revents)).Msg("evnet: handle event")
	if c.revents&unix.POLLHUP != 0 && c.revents&unix.POLLIN == 0 {
		if c.logHup {
			logger.Warn().Int("fd", c.fd).Msg("evnet: POLLHUP")
		}
		if c.closeCallback != nil {
			c.closeCallback()
		}
	}
	if c.revents&unix.POLLNVAL != 0 {
		logger.Warn().Int("fd", c.fd).Msg("evnet: POLLNVAL")
	}
	if c.revents&(unix.POLLERR|unix.POLLNVAL) != 0 {
		if c.errorCallback != nil {
			c.errorCallback()
		}
	}
	if c.revents&(unix.POLLIN|unix.POLLPRI|unix.POLLRDHUP) != 0 {
		if c.readCallback != nil {
			c.readCallback(receiveTime)
		}
	}
	if c.revents&unix.POLLOUT != 0 {
		if c.writeCallback != nil {
			c.writeCallback()
		}
	}
	c.eventHandling = false
}

// ReventsString formats the received events for logging.
func (c *Channel) ReventsString() string { return eventsToString(c.fd, c.revents) }

// EventsString formats the interest mask for logging.
func (c *Channel) EventsString() string { return eventsToString(c.fd, c.events) }

func eventsToString(fd, ev int) string {
	var b strings.Builder
	b.WriteString(strconv.Itoa(fd))
	b.WriteString(": ")
	if ev&unix.POLLIN != 0 {
		b.WriteString("IN ")
	}
	if ev&unix.POLLPRI != 0 {
		b.WriteString("PRI ")
	}
	if ev&unix.POLLOUT != 0 {
		b.WriteString("OUT ")
	}
	if ev&unix.POLLHUP != 0 {
		b.WriteString("HUP ")
	}
	if ev&unix.POLLRDHUP != 0 {
		b.WriteString("RDHUP ")
	}
	if ev&unix.POLLERR != 0 {
		b.WriteString("ERR ")
	}
	if ev&unix.POLLNVAL != 0 {
		b.WriteString("NVAL ")
	}
	return b.String()
}
