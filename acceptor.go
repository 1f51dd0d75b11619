// Copyright (c) 2026 The evnet Authors.
// This package is licensed under a MIT license that can be found in the LICENSE file.

//go:build linux
// +build linux

package evnet

import (
	"net"

	"golang.org/x/sys/unix"
)

// acceptor owns the listening fd's channel on the base loop and hands every
// accepted descriptor to the new-connection callback. It holds an idle
// /dev/null descriptor so EMFILE can be survived: close the spare, accept and
// drop the pending connection, reopen the spare.
type acceptor struct {
	loop          *EventLoop
	listenFd      int
	channel       *Channel
	newConnection func(fd int, sa unix.Sockaddr)
	idleFd        int
	listening     bool
}

func newAcceptor(loop *EventLoop, listenFd int, newConnection func(int, unix.Sockaddr)) *acceptor {
	unix.SetNonblock(listenFd, true)
	idleFd, err := unix.Open("/dev/null", unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		logger.Error().Err(err).Msg("evnet: open /dev/null")
		idleFd = -1
	}
	a := &acceptor{
		loop:          loop,
		listenFd:      listenFd,
		newConnection: newConnection,
		idleFd:        idleFd,
	}
	a.channel = NewChannel(loop, listenFd)
	a.channel.SetReadCallback(a.handleRead)
	return a
}

func (a *acceptor) listen() {
	a.loop.AssertInLoopThread()
	a.listening = true
	a.channel.EnableReading()
}

func (a *acceptor) handleRead(Timestamp) {
	a.loop.AssertInLoopThread()
	nfd, sa, err := unix.Accept4(a.listenFd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		switch err {
		case unix.EAGAIN, unix.EINTR:
		case unix.EMFILE:
			logger.Error().Int("fd", a.listenFd).Msg("evnet: accept: too many open files")
			if a.idleFd >= 0 {
				unix.Close(a.idleFd)
				if fd, _, e := unix.Accept(a.listenFd); e == nil {
					unix.Close(fd)
				}
				a.idleFd, _ = unix.Open("/dev/null", unix.O_RDONLY|unix.O_CLOEXEC, 0)
			}
		default:
			logger.Error().Err(err).Int("fd", a.listenFd).Msg("evnet: accept")
		}
		return
	}
	if a.newConnection != nil {
		a.newConnection(nfd, sa)
	} else {
		unix.Close(nfd)
	}
}

func (a *acceptor) close() {
	a.loop.AssertInLoopThread()
	a.listening = false
	a.channel.DisableAll()
	a.channel.Remove()
	if a.idleFd >= 0 {
		unix.Close(a.idleFd)
	}
}

func sockaddrToAddr(sa unix.Sockaddr) net.Addr {
	switch sockaddr := sa.(type) {
	case *unix.SockaddrUnix:
		return &net.UnixAddr{Net: "unix", Name: sockaddr.Name}
	case *unix.SockaddrInet4:
		return &net.TCPAddr{
			IP:   append([]byte{}, sockaddr.Addr[:]...),
			Port: sockaddr.Port,
		}
	case *unix.SockaddrInet6:
		var zone string
		if ifi, err := net.InterfaceByIndex(int(sockaddr.ZoneId)); err == nil {
			zone = ifi.Name
		}
		return &net.TCPAddr{
			IP:   append([]byte{}, sockaddr.Addr[:]...),
			Port: sockaddr.Port,
			Zone: zone,
		}
	}
	return nil
}
