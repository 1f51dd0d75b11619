// Copyright (c) 2026 The evnet Authors.
// This package is licensed under a MIT license that can be found in the LICENSE file.

//go:build linux
// +build linux

package evnet

import (
	"golang.org/x/sys/unix"
)

// pollPoller is the poll(2) back-end. The channel index is its position in
// the pollfd slice; a disabled channel keeps its slot with a negated fd so
// the kernel ignores it.
type pollPoller struct {
	loop     *EventLoop
	pollfds  []unix.PollFd
	channels map[int]*Channel
}

func newPollPoller(loop *EventLoop) *pollPoller {
	return &pollPoller{loop: loop, channels: make(map[int]*Channel)}
}

// Poll implements the Poller Poll method.
func (p *pollPoller) Poll(timeoutMs int, activeChannels *[]*Channel) Timestamp {
	n, err := unix.Poll(p.pollfds, timeoutMs)
	now := Now()
	if err != nil {
		if err != unix.EINTR {
			logger.Error().Err(err).Msg("evnet: poll")
		}
		return now
	}
	if n > 0 {
		logger.Trace().Int("events", n).Msg("evnet: poll events")
		p.fillActiveChannels(n, activeChannels)
	} else {
		logger.Trace().Msg("evnet: poll nothing happened")
	}
	return now
}

func (p *pollPoller) fillActiveChannels(numEvents int, activeChannels *[]*Channel) {
	for i := 0; i < len(p.pollfds) && numEvents > 0; i++ {
		pfd := p.pollfds[i]
		if pfd.Revents == 0 {
			continue
		}
		numEvents--
		c, ok := p.channels[int(pfd.Fd)]
		if !ok {
			continue
		}
		c.SetRevents(int(pfd.Revents))
		*activeChannels = append(*activeChannels, c)
	}
}

// UpdateChannel implements the Poller UpdateChannel method.
func (p *pollPoller) UpdateChannel(c *Channel) {
	p.loop.AssertInLoopThread()
	if c.Index() < 0 {
		if _, ok := p.channels[c.Fd()]; ok {
			logger.Fatal().Int("fd", c.Fd()).Msg("evnet: duplicate channel of fd")
		}
		p.pollfds = append(p.pollfds, unix.PollFd{
			Fd:     int32(c.Fd()),
			Events: int16(c.Events()),
		})
		c.SetIndex(len(p.pollfds) - 1)
		p.channels[c.Fd()] = c
		return
	}
	if p.channels[c.Fd()] != c || c.Index() >= len(p.pollfds) {
		logger.Fatal().Int("fd", c.Fd()).Int("index", c.Index()).Msg("evnet: update of a foreign channel")
	}
	pfd := &p.pollfds[c.Index()]
	pfd.Events = int16(c.Events())
	pfd.Revents = 0
	if c.IsNoneEvent() {
		// Negate so poll(2) ignores the slot without losing it.
		pfd.Fd = -int32(c.Fd()) - 1
	} else {
		pfd.Fd = int32(c.Fd())
	}
}

// RemoveChannel implements the Poller RemoveChannel method.
func (p *pollPoller) RemoveChannel(c *Channel) {
	p.loop.AssertInLoopThread()
	if !c.IsNoneEvent() {
		logger.Fatal().Int("fd", c.Fd()).Str("events", c.EventsString()).Msg("evnet: remove of a channel with live interest")
	}
	idx := c.Index()
	if idx < 0 || idx >= len(p.pollfds) {
		return
	}
	delete(p.channels, c.Fd())
	last := len(p.pollfds) - 1
	if idx != last {
		p.pollfds[idx] = p.pollfds[last]
		movedFd := int(p.pollfds[idx].Fd)
		if movedFd < 0 {
			movedFd = -movedFd - 1
		}
		if moved, ok := p.channels[movedFd]; ok {
			moved.SetIndex(idx)
		}
	}
	p.pollfds = p.pollfds[:last]
	c.SetIndex(channelNew)
}

// HasChannel implements the Poller HasChannel method.
func (p *pollPoller) HasChannel(c *Channel) bool {
	p.loop.AssertInLoopThread()
	ch, ok := p.channels[c.Fd()]
	return ok && ch == c
}

// Close implements the Poller Close method.
func (p *pollPoller) Close() error {
	return nil
}
