// Copyright (c) 2026 The evnet Authors.
// This package is licensed under a MIT license that can be found in the LICENSE file.

//go:build linux
// +build linux

package evnet

import (
	"net"
	"strings"
	"testing"
	"time"
)

func TestListenAndServe(t *testing.T) {
	var handler = &DataHandler{
		NoShared:   false,
		NoCopy:     false,
		BufferSize: 1024,
		HandlerFunc: func(req []byte) (res []byte) {
			res = req
			return
		},
	}
	if err := ListenAndServe("", "", handler); err == nil {
		t.Error("Unexpected")
	}
	if err := ListenAndServe("tcp", ":9860", nil); err != ErrHandler {
		t.Error(err)
	}
}

func TestServeNilListener(t *testing.T) {
	var handler = &DataHandler{
		BufferSize: 1024,
		HandlerFunc: func(req []byte) (res []byte) {
			res = req
			return
		},
	}
	if err := Serve(nil, handler); err != ErrListener {
		t.Error(err)
	}
	l, _ := net.Listen("tcp", ":9861")
	defer l.Close()
	server := &Server{}
	if err := server.Serve(l); err != ErrHandler {
		t.Error(err)
	}
}

func testEcho(t *testing.T, server *Server, addr string) {
	go server.ListenAndServe()
	time.Sleep(time.Millisecond * 500)
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	msg := strings.Repeat("Hello World", 50)
	for i := 0; i < 3; i++ {
		if n, err := conn.Write([]byte(msg)); err != nil {
			t.Error(err)
		} else if n != len(msg) {
			t.Error(n)
		}
		buf := make([]byte, len(msg))
		pos := 0
		conn.SetReadDeadline(time.Now().Add(time.Second * 5))
		for pos < len(msg) {
			n, err := conn.Read(buf[pos:])
			if err != nil {
				t.Fatal(err)
			}
			pos += n
		}
		if string(buf) != msg {
			t.Error(string(buf))
		}
	}
	conn.Close()
	server.Close()
}

func TestServerEcho(t *testing.T) {
	server := &Server{
		Network: "tcp",
		Address: ":9862",
		Handler: &DataHandler{
			BufferSize: 0x1000,
			HandlerFunc: func(req []byte) (res []byte) {
				res = req
				return
			},
		},
		NumLoops: 2,
	}
	testEcho(t, server, ":9862")
}

func TestServerEchoNoAsync(t *testing.T) {
	server := &Server{
		Network: "tcp",
		Address: ":9863",
		Handler: &DataHandler{
			NoShared:   true,
			NoCopy:     true,
			BufferSize: 0x1000,
			HandlerFunc: func(req []byte) (res []byte) {
				res = req
				return
			},
		},
		NumLoops: 1,
		NoAsync:  true,
	}
	testEcho(t, server, ":9863")
}

func TestServerUpgradeError(t *testing.T) {
	server := &Server{
		Network: "tcp",
		Address: ":9864",
		Handler: &ConnHandler{},
	}
	go server.ListenAndServe()
	time.Sleep(time.Millisecond * 500)
	conn, err := net.Dial("tcp", ":9864")
	if err != nil {
		t.Fatal(err)
	}
	conn.SetReadDeadline(time.Now().Add(time.Second * 5))
	buf := make([]byte, 64)
	if _, err := conn.Read(buf); err == nil {
		t.Error("expected close after failed upgrade")
	}
	conn.Close()
	server.Close()
}

type wrappedListener struct {
	net.Listener
}

func TestServeFallback(t *testing.T) {
	l, err := net.Listen("tcp", ":9865")
	if err != nil {
		t.Fatal(err)
	}
	server := &Server{
		Handler: &DataHandler{
			BufferSize: 1024,
			HandlerFunc: func(req []byte) (res []byte) {
				res = req
				return
			},
		},
	}
	go server.Serve(wrappedListener{l})
	time.Sleep(time.Millisecond * 100)
	conn, err := net.Dial("tcp", ":9865")
	if err != nil {
		t.Fatal(err)
	}
	msg := "Hello World"
	if _, err := conn.Write([]byte(msg)); err != nil {
		t.Error(err)
	}
	buf := make([]byte, len(msg))
	conn.SetReadDeadline(time.Now().Add(time.Second * 5))
	if n, err := conn.Read(buf); err != nil {
		t.Error(err)
	} else if string(buf[:n]) != msg {
		t.Error(string(buf[:n]))
	}
	conn.Close()
	server.Close()
}

func TestServerCloseTwice(t *testing.T) {
	server := &Server{
		Network: "tcp",
		Address: ":9866",
		Handler: &DataHandler{
			BufferSize: 1024,
			HandlerFunc: func(req []byte) (res []byte) {
				res = req
				return
			},
		},
	}
	go server.ListenAndServe()
	time.Sleep(time.Millisecond * 500)
	if err := server.Close(); err != nil {
		t.Error(err)
	}
	if err := server.Close(); err != nil {
		t.Error(err)
	}
	if err := server.ListenAndServe(); err != ErrServerClosed {
		t.Error(err)
	}
}
