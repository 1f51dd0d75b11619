// Copyright (c) 2026 The evnet Authors.
// This package is licensed under a MIT license that can be found in the LICENSE file.

//go:build linux
// +build linux

package evnet

import (
	"context"
	"net"
	"os"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/hslam/reuse"
	"github.com/hslam/scheduler"
	"golang.org/x/sys/unix"
)

// Server defines parameters for running an event-driven server. The calling
// goroutine of Serve hosts the base loop that accepts connections; accepted
// connections are spread round-robin over NumLoops sub loops.
type Server struct {
	Network string
	Address string
	Handler Handler
	// NumLoops sets the number of sub event loops. Default is the number
	// of CPUs.
	NumLoops int
	// ReusePort listens with SO_REUSEPORT so several servers can share one
	// address.
	ReusePort bool
	// NoAsync serves every request on the connection's loop thread. By
	// default requests are dispatched to scheduler workers so a slow
	// handler does not stall its loop.
	NoAsync bool

	listener net.Listener
	file     *os.File
	fd       int
	baseLoop *EventLoop
	pool     *EventLoopPool
	acceptor *acceptor
	sched    scheduler.Scheduler
	fallback *netServer

	mu      sync.Mutex
	conns   map[int]*conn
	serving bool
	done    chan struct{}
	closed  int32
}

// ListenAndServe listens on the network address and then calls Serve.
//
// ListenAndServe always returns a non-nil error.
func (s *Server) ListenAndServe() error {
	if atomic.LoadInt32(&s.closed) != 0 {
		return ErrServerClosed
	}
	if s.Handler == nil {
		return ErrHandler
	}
	var lc net.ListenConfig
	if s.ReusePort {
		lc.Control = reuse.Control
	}
	ln, err := lc.Listen(context.Background(), s.Network, s.Address)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts incoming connections on the listener lis. The calling
// goroutine becomes the base event loop and does not return until Close.
//
// Serve always returns a non-nil error.
func (s *Server) Serve(lis net.Listener) error {
	if lis == nil {
		return ErrListener
	}
	if s.Handler == nil {
		return ErrHandler
	}
	if atomic.LoadInt32(&s.closed) != 0 {
		return ErrServerClosed
	}
	var file *os.File
	var err error
	switch netListener := lis.(type) {
	case *net.TCPListener:
		if file, err = netListener.File(); err != nil {
			lis.Close()
			return err
		}
	case *net.UnixListener:
		if file, err = netListener.File(); err != nil {
			lis.Close()
			return err
		}
	default:
		fallback := &netServer{Handler: s.Handler}
		s.mu.Lock()
		s.fallback = fallback
		s.serving = true
		s.mu.Unlock()
		return fallback.Serve(lis)
	}
	s.listener = lis
	s.file = file
	s.fd = int(file.Fd())
	if s.NumLoops <= 0 {
		s.NumLoops = runtime.NumCPU()
	}
	if !s.NoAsync {
		s.sched = scheduler.New(runtime.NumCPU()*4, &scheduler.Options{Threshold: 2})
	}
	done := make(chan struct{})
	baseLoop := NewEventLoop()
	s.mu.Lock()
	s.baseLoop = baseLoop
	s.conns = make(map[int]*conn)
	s.done = done
	s.serving = true
	s.mu.Unlock()
	s.pool = NewEventLoopPool(baseLoop, s.NumLoops)
	s.pool.Start(nil)
	s.acceptor = newAcceptor(baseLoop, s.fd, s.newConnection)
	s.acceptor.listen()

	baseLoop.Loop()

	s.acceptor.close()
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
	s.pool.Close()
	if s.sched != nil {
		s.sched.Close()
	}
	s.file.Close()
	s.listener.Close()
	baseLoop.Close()
	close(done)
	return ErrServerClosed
}

// Close immediately closes the Server and all its loops.
func (s *Server) Close() error {
	if !atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return nil
	}
	s.mu.Lock()
	baseLoop := s.baseLoop
	fallback := s.fallback
	serving := s.serving
	done := s.done
	s.mu.Unlock()
	if fallback != nil {
		return fallback.Close()
	}
	if !serving {
		return nil
	}
	baseLoop.Quit()
	<-done
	return nil
}

// newConnection runs on the base loop for every accepted descriptor.
func (s *Server) newConnection(fd int, sa unix.Sockaddr) {
	loop := s.pool.GetNextLoop()
	c := newConn(loop, fd, s.listener.Addr(), sockaddrToAddr(sa))
	c.closeFunc = s.removeConn
	if !s.addConn(c) {
		unix.Close(fd)
		return
	}
	// The upgrade may block (handshakes), so it runs off-loop with the
	// descriptor temporarily blocking, like a plain net.Conn.
	go func() {
		defer func() {
			if e := recover(); e != nil {
				logger.Error().Interface("reason", e).Int("fd", fd).Msg("evnet: upgrade panic")
				c.Close()
			}
		}()
		if err := unix.SetNonblock(fd, false); err != nil {
			c.Close()
			return
		}
		ctx, err := s.Handler.Upgrade(c)
		if err != nil {
			c.Close()
			return
		}
		if err := unix.SetNonblock(fd, true); err != nil {
			c.Close()
			return
		}
		c.serveFunc = func(Timestamp) {
			s.serveConn(c, ctx)
		}
		loop.RunInLoop(c.register)
	}()
}

func (s *Server) serveConn(c *conn, ctx Context) {
	serve := func() {
		if err := s.Handler.Serve(ctx); err != nil {
			if err != EAGAIN {
				c.Close()
			}
		}
	}
	if s.sched != nil {
		s.sched.Schedule(serve)
	} else {
		serve()
	}
}

func (s *Server) addConn(c *conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conns == nil || atomic.LoadInt32(&s.closed) != 0 {
		return false
	}
	s.conns[c.fd] = c
	return true
}

func (s *Server) removeConn(c *conn) {
	s.mu.Lock()
	if s.conns != nil {
		delete(s.conns, c.fd)
	}
	s.mu.Unlock()
}
