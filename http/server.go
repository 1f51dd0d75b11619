// Copyright (c) 2026 The evnet Authors.
// This package is licensed under a MIT license that can be found in the LICENSE file.

//go:build linux
// +build linux

package http

import (
	"errors"
	"net"

	"github.com/evnet/evnet"
	"github.com/hslam/buffer"
)

// ErrBadRequest is the error that closes a connection after malformed input.
var ErrBadRequest = errors.New("bad request")

var badRequest = []byte("HTTP/1.1 400 Bad Request\r\nConnection: close\r\n\r\n")

// HandlerFunc serves one parsed request by filling in the response.
type HandlerFunc func(req *Request, res *Response)

// Server is a simple embeddable HTTP server on top of the evnet core,
// designed for reporting the status of a program. It is synchronous: the
// handler runs to completion before the response is written.
type Server struct {
	Network string
	Address string
	// NumLoops sets the number of sub event loops of the underlying server.
	NumLoops int
	// ReusePort listens with SO_REUSEPORT.
	ReusePort bool
	// BufferSize represents the read buffer size.
	BufferSize int
	handler    HandlerFunc
	server     *evnet.Server
}

type httpConn struct {
	conn       net.Conn
	pool       *buffer.Pool
	bufferSize int
	parser     *Context
}

// SetHandler sets the request callback. Not thread safe; set it before
// ListenAndServe.
func (s *Server) SetHandler(h HandlerFunc) {
	s.handler = h
}

// ListenAndServe listens on the server address and serves requests. The
// calling goroutine becomes the base event loop.
func (s *Server) ListenAndServe() error {
	if s.BufferSize < 1 {
		s.BufferSize = 0x10000
	}
	s.server = &evnet.Server{
		Network:   s.Network,
		Address:   s.Address,
		NumLoops:  s.NumLoops,
		ReusePort: s.ReusePort,
		Handler: evnet.NewHandler(
			func(conn net.Conn) (evnet.Context, error) {
				return &httpConn{
					conn:       conn,
					pool:       buffer.AssignPool(s.BufferSize),
					bufferSize: s.BufferSize,
					parser:     NewContext(),
				}, nil
			},
			s.serve,
		),
	}
	return s.server.ListenAndServe()
}

// Close immediately closes the server.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	return s.server.Close()
}

func (s *Server) serve(ctx evnet.Context) error {
	c := ctx.(*httpConn)
	buf := c.pool.GetBuffer(c.bufferSize)
	defer c.pool.PutBuffer(buf)
	n, err := c.conn.Read(buf)
	if err != nil {
		return err
	}
	if !c.parser.Parse(buf[:n], evnet.Now()) {
		c.conn.Write(badRequest)
		return ErrBadRequest
	}
	if !c.parser.GotAll() {
		return nil
	}
	req := c.parser.Request()
	connection := req.Header("Connection")
	close := connection == "close" ||
		(req.Version() == Version10 && connection != "Keep-Alive")
	res := NewResponse(close)
	if s.handler != nil {
		s.handler(req, res)
	} else {
		res.SetStatusCode(404)
		res.SetStatusMessage("Not Found")
		res.SetCloseConnection(true)
	}
	if _, err := c.conn.Write(res.AppendTo(nil)); err != nil {
		return err
	}
	if res.CloseConnection() {
		return evnet.EOF
	}
	c.parser.Reset()
	return nil
}
