// Copyright (c) 2026 The evnet Authors.
// This package is licensed under a MIT license that can be found in the LICENSE file.

//go:build linux
// +build linux

package evnet

import (
	"errors"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/hslam/sendfile"
	"github.com/hslam/splice"
	"golang.org/x/sys/unix"
)

// ErrConnClosed is the error of operations on a closed connection.
var ErrConnClosed = errors.New("use of closed connection")

// Conn is the interface of an event-driven connection.
type Conn interface {
	Read(b []byte) (n int, err error)
	Write(b []byte) (n int, err error)
	Close() error
	LocalAddr() net.Addr
	RemoteAddr() net.Addr
	SetDeadline(t time.Time) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// conn is a connection owned by one sub-loop. Reads are nonblocking syscall
// reads; writes buffer and flush on the loop, enabling write interest only
// while output is retained. The embedded anchor ties the channel so no
// callback is delivered after the connection died.
type conn struct {
	loop    *EventLoop
	fd      int
	channel *Channel
	anchor  Anchor
	laddr   net.Addr
	raddr   net.Addr

	rMu  sync.Mutex
	wMu  sync.Mutex
	send []byte

	closed int32
	ready  bool

	serveFunc func(receiveTime Timestamp)
	closeFunc func(c *conn)
}

func newConn(loop *EventLoop, fd int, laddr, raddr net.Addr) *conn {
	c := &conn{loop: loop, fd: fd, laddr: laddr, raddr: raddr}
	c.channel = NewChannel(loop, fd)
	c.channel.SetReadCallback(c.handleRead)
	c.channel.SetWriteCallback(c.handleWrite)
	c.channel.SetCloseCallback(c.handleClose)
	c.channel.SetErrorCallback(c.handleError)
	c.channel.Tie(&c.anchor)
	return c
}

// register enables reading. Must run on the owning loop.
func (c *conn) register() {
	c.loop.AssertInLoopThread()
	c.channel.EnableReading()
	c.ready = true
}

// Read reads from the socket without blocking. An empty read reports EOF as
// EINVAL so a serve loop stops on peer close.
func (c *conn) Read(b []byte) (n int, err error) {
	c.rMu.Lock()
	defer c.rMu.Unlock()
	n, err = unix.Read(c.fd, b)
	if n < 0 {
		n = 0
	}
	if n == 0 && err == nil {
		err = unix.EINVAL
	}
	return
}

// Write buffers b and schedules a flush on the owning loop. It never blocks
// and may be called from any thread.
func (c *conn) Write(b []byte) (n int, err error) {
	if len(b) == 0 {
		return 0, nil
	}
	if atomic.LoadInt32(&c.closed) != 0 {
		return 0, ErrConnClosed
	}
	c.wMu.Lock()
	c.send = append(c.send, b...)
	c.wMu.Unlock()
	c.loop.RunInLoop(c.flushInLoop)
	return len(b), nil
}

func (c *conn) flushInLoop() {
	if atomic.LoadInt32(&c.closed) != 0 {
		return
	}
	retain, err := c.flush()
	if err != nil && err != unix.EAGAIN {
		c.handleClose()
		return
	}
	if retain > 0 {
		if !c.channel.IsWriting() {
			c.channel.EnableWriting()
		}
	} else if c.channel.IsWriting() {
		c.channel.DisableWriting()
	}
}

func (c *conn) flush() (retain int, err error) {
	c.wMu.Lock()
	defer c.wMu.Unlock()
	if len(c.send) == 0 {
		return 0, nil
	}
	n, err := unix.Write(c.fd, c.send)
	if err != nil || n < 1 {
		return len(c.send), err
	}
	if n < len(c.send) {
		num := copy(c.send, c.send[n:])
		c.send = c.send[:num]
		return num, nil
	}
	c.send = c.send[:0]
	return 0, nil
}

func (c *conn) handleRead(receiveTime Timestamp) {
	if !c.ready {
		return
	}
	if c.serveFunc != nil {
		c.serveFunc(receiveTime)
	}
}

func (c *conn) handleWrite() {
	c.flushInLoop()
}

func (c *conn) handleError() {
	errno, err := unix.GetsockoptInt(c.fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		logger.Error().Err(err).Int("fd", c.fd).Msg("evnet: getsockopt SO_ERROR")
		return
	}
	logger.Error().Int("fd", c.fd).Err(syscall.Errno(errno)).Msg("evnet: connection error")
}

// handleClose tears the connection down on the owning loop.
func (c *conn) handleClose() {
	c.loop.AssertInLoopThread()
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return
	}
	c.anchor.Drop()
	c.channel.DisableAll()
	c.channel.Remove()
	unix.Close(c.fd)
	if c.closeFunc != nil {
		c.closeFunc(c)
	}
}

// Close closes the connection. Safe to call from any thread and more than
// once.
func (c *conn) Close() error {
	if atomic.LoadInt32(&c.closed) != 0 {
		return nil
	}
	c.loop.RunInLoop(func() {
		c.handleClose()
	})
	return nil
}

// LocalAddr returns the local network address.
func (c *conn) LocalAddr() net.Addr { return c.laddr }

// RemoteAddr returns the remote network address.
func (c *conn) RemoteAddr() net.Addr { return c.raddr }

// SetDeadline is not supported; deadlines belong to the loop's timers.
func (c *conn) SetDeadline(t time.Time) error { return errors.New("not supported") }

// SetReadDeadline is not supported.
func (c *conn) SetReadDeadline(t time.Time) error { return errors.New("not supported") }

// SetWriteDeadline is not supported.
func (c *conn) SetWriteDeadline(t time.Time) error { return errors.New("not supported") }

// Sendfile transmits count bytes of f starting at pos with zero copies where
// the kernel supports it.
func (c *conn) Sendfile(f *os.File, pos, count int64) (int64, error) {
	if atomic.LoadInt32(&c.closed) != 0 {
		return 0, ErrConnClosed
	}
	return sendfile.SendFile(c, int(f.Fd()), pos, count)
}

// Splice moves count bytes from src into the connection with zero copies
// where the kernel supports it.
func (c *conn) Splice(src net.Conn, count int64) (int64, error) {
	if atomic.LoadInt32(&c.closed) != 0 {
		return 0, ErrConnClosed
	}
	return splice.Splice(c, src, count)
}

// SyscallConn exposes the raw descriptor so zero-copy helpers can reach it.
func (c *conn) SyscallConn() (syscall.RawConn, error) {
	if atomic.LoadInt32(&c.closed) != 0 {
		return nil, ErrConnClosed
	}
	return rawConn{fd: c.fd}, nil
}

type rawConn struct {
	fd int
}

func (r rawConn) Control(f func(fd uintptr)) error {
	f(uintptr(r.fd))
	return nil
}

func (r rawConn) Read(f func(fd uintptr) bool) error {
	for !f(uintptr(r.fd)) {
		if err := waitReady(r.fd, unix.POLLIN); err != nil {
			return err
		}
	}
	return nil
}

func (r rawConn) Write(f func(fd uintptr) bool) error {
	for !f(uintptr(r.fd)) {
		if err := waitReady(r.fd, unix.POLLOUT); err != nil {
			return err
		}
	}
	return nil
}

func waitReady(fd int, events int16) error {
	pfds := []unix.PollFd{{Fd: int32(fd), Events: events}}
	for {
		_, err := unix.Poll(pfds, -1)
		if err == unix.EINTR {
			continue
		}
		return err
	}
}
