// Copyright (c) 2026 The evnet Authors.
// This package is licensed under a MIT license that can be found in the LICENSE file.

package evnet

import (
	"errors"
	"net"
	"testing"
)

func TestNewHandler(t *testing.T) {
	upgraded := errors.New("upgraded")
	var handler = NewHandler(func(conn net.Conn) (Context, error) {
		return conn, nil
	}, func(context Context) error {
		return upgraded
	})
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	ctx, err := handler.Upgrade(server)
	if err != nil {
		t.Error(err)
	}
	if err := handler.Serve(ctx); err != upgraded {
		t.Error(err)
	}
}

func TestConnHandler(t *testing.T) {
	var handler = &ConnHandler{}
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	ctx, err := handler.Upgrade(server)
	if err != ErrUpgradeFunc {
		t.Error(err)
	}
	if err = handler.Serve(ctx); err != ErrServeFunc {
		t.Error(err)
	}
	handler.SetUpgrade(func(conn net.Conn) (Context, error) {
		return conn, nil
	})
	handler.SetServe(func(context Context) error {
		return nil
	})
	if ctx, err = handler.Upgrade(server); err != nil {
		t.Error(err)
	}
	if err = handler.Serve(ctx); err != nil {
		t.Error(err)
	}
}

func TestDataHandlerNilFunc(t *testing.T) {
	var handler = &DataHandler{BufferSize: 64}
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	if _, err := handler.Upgrade(server); err != ErrHandlerFunc {
		t.Error(err)
	}
}

func testDataHandler(t *testing.T, handler *DataHandler) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	ctx, err := handler.Upgrade(server)
	if err != nil {
		t.Fatal(err)
	}
	go func() {
		if err := handler.Serve(ctx); err != nil {
			t.Error(err)
		}
	}()
	msg := "Hello World"
	if _, err := client.Write([]byte(msg)); err != nil {
		t.Error(err)
	}
	buf := make([]byte, 64)
	if n, err := client.Read(buf); err != nil {
		t.Error(err)
	} else if string(buf[:n]) != msg {
		t.Error(string(buf[:n]))
	}
}

func TestDataHandler(t *testing.T) {
	testDataHandler(t, &DataHandler{
		BufferSize: 64,
		HandlerFunc: func(req []byte) (res []byte) {
			res = req
			return
		},
	})
}

func TestDataHandlerNoCopy(t *testing.T) {
	testDataHandler(t, &DataHandler{
		NoShared:   true,
		NoCopy:     true,
		BufferSize: 64,
		HandlerFunc: func(req []byte) (res []byte) {
			res = req
			return
		},
	})
}

func TestDataHandlerUpgrade(t *testing.T) {
	handler := &DataHandler{
		BufferSize: 64,
		HandlerFunc: func(req []byte) (res []byte) {
			res = req
			return
		},
	}
	wrapped := errors.New("wrapped")
	handler.SetUpgrade(func(conn net.Conn) (net.Conn, error) {
		return nil, wrapped
	})
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	if _, err := handler.Upgrade(server); err != wrapped {
		t.Error(err)
	}
}
