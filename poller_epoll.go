// Copyright (c) 2026 The evnet Authors.
// This package is licensed under a MIT license that can be found in the LICENSE file.

//go:build linux
// +build linux

package evnet

import (
	"golang.org/x/sys/unix"
)

const initEventListSize = 16

// epollPoller is the epoll back-end. The channel index encodes one of three
// states so a channel can be disabled without dropping its kernel-side slot:
// channelNew (never added), channelAdded (in the epoll set) and
// channelDetached (known but currently deleted from the epoll set).
type epollPoller struct {
	loop     *EventLoop
	epfd     int
	events   []unix.EpollEvent
	channels map[int]*Channel
}

func newEpollPoller(loop *EventLoop) *epollPoller {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		logger.Fatal().Err(err).Msg("evnet: epoll_create1")
	}
	return &epollPoller{
		loop:     loop,
		epfd:     epfd,
		events:   make([]unix.EpollEvent, initEventListSize),
		channels: make(map[int]*Channel),
	}
}

// Poll implements the Poller Poll method.
func (p *epollPoller) Poll(timeoutMs int, activeChannels *[]*Channel) Timestamp {
	n, err := unix.EpollWait(p.epfd, p.events, timeoutMs)
	now := Now()
	if err != nil {
		if err != unix.EINTR {
			logger.Error().Err(err).Msg("evnet: epoll_wait")
		}
		return now
	}
	if n > 0 {
		logger.Trace().Int("events", n).Msg("evnet: epoll events")
		p.fillActiveChannels(n, activeChannels)
		if n == len(p.events) {
			p.events = make([]unix.EpollEvent, len(p.events)*2)
		}
	} else {
		logger.Trace().Msg("evnet: epoll nothing happened")
	}
	return now
}

func (p *epollPoller) fillActiveChannels(numEvents int, activeChannels *[]*Channel) {
	for i := 0; i < numEvents; i++ {
		ev := p.events[i]
		c, ok := p.channels[int(ev.Fd)]
		if !ok {
			logger.Error().Int("fd", int(ev.Fd)).Msg("evnet: epoll event of unknown fd")
			continue
		}
		c.SetRevents(int(ev.Events))
		*activeChannels = append(*activeChannels, c)
	}
}

// UpdateChannel implements the Poller UpdateChannel method.
func (p *epollPoller) UpdateChannel(c *Channel) {
	p.loop.AssertInLoopThread()
	index := c.Index()
	fd := c.Fd()
	if index == channelNew || index == channelDetached {
		if index == channelNew {
			p.channels[fd] = c
		} else if p.channels[fd] != c {
			logger.Fatal().Int("fd", fd).Msg("evnet: detached channel of a different fd")
		}
		c.SetIndex(channelAdded)
		p.ctl(unix.EPOLL_CTL_ADD, c)
		return
	}
	if p.channels[fd] != c || index != channelAdded {
		logger.Fatal().Int("fd", fd).Int("index", index).Msg("evnet: update of a foreign channel")
	}
	if c.IsNoneEvent() {
		p.ctl(unix.EPOLL_CTL_DEL, c)
		c.SetIndex(channelDetached)
	} else {
		p.ctl(unix.EPOLL_CTL_MOD, c)
	}
}

// RemoveChannel implements the Poller RemoveChannel method.
func (p *epollPoller) RemoveChannel(c *Channel) {
	p.loop.AssertInLoopThread()
	fd := c.Fd()
	index := c.Index()
	delete(p.channels, fd)
	if index == channelAdded {
		p.ctl(unix.EPOLL_CTL_DEL, c)
	}
	c.SetIndex(channelNew)
}

// HasChannel implements the Poller HasChannel method.
func (p *epollPoller) HasChannel(c *Channel) bool {
	p.loop.AssertInLoopThread()
	ch, ok := p.channels[c.Fd()]
	return ok && ch == c
}

func (p *epollPoller) ctl(op int, c *Channel) {
	ev := unix.EpollEvent{Events: uint32(c.Events()), Fd: int32(c.Fd())}
	if err := unix.EpollCtl(p.epfd, op, c.Fd(), &ev); err != nil {
		if op == unix.EPOLL_CTL_DEL {
			logger.Error().Err(err).Int("fd", c.Fd()).Msg("evnet: epoll_ctl del")
		} else {
			logger.Fatal().Err(err).Int("fd", c.Fd()).Str("events", c.EventsString()).Msg("evnet: epoll_ctl")
		}
	}
}

// Close implements the Poller Close method.
func (p *epollPoller) Close() error {
	return unix.Close(p.epfd)
}
