// Copyright (c) 2026 The evnet Authors.
// This package is licensed under a MIT license that can be found in the LICENSE file.

package http

import (
	"strings"
	"testing"
)

func TestResponseKeepAlive(t *testing.T) {
	res := NewResponse(false)
	res.SetStatusCode(200)
	res.SetStatusMessage("OK")
	res.SetContentType("text/plain")
	res.SetBody([]byte("hello"))
	out := string(res.AppendTo(nil))
	if !strings.HasPrefix(out, "HTTP/1.1 200 OK\r\n") {
		t.Error(out)
	}
	if !strings.Contains(out, "Content-Length: 5\r\n") {
		t.Error(out)
	}
	if !strings.Contains(out, "Connection: Keep-Alive\r\n") {
		t.Error(out)
	}
	if !strings.Contains(out, "Content-Type: text/plain\r\n") {
		t.Error(out)
	}
	if !strings.HasSuffix(out, "\r\n\r\nhello") {
		t.Error(out)
	}
	if res.StatusCode() != 200 {
		t.Error(res.StatusCode())
	}
}

func TestResponseClose(t *testing.T) {
	res := NewResponse(true)
	res.SetStatusCode(404)
	res.SetStatusMessage("Not Found")
	out := string(res.AppendTo(nil))
	if !strings.HasPrefix(out, "HTTP/1.1 404 Not Found\r\n") {
		t.Error(out)
	}
	if !strings.Contains(out, "Connection: close\r\n") {
		t.Error(out)
	}
	if strings.Contains(out, "Content-Length") {
		t.Error(out)
	}
	if !res.CloseConnection() {
		t.Error("close expected")
	}
	res.SetCloseConnection(false)
	if res.CloseConnection() {
		t.Error("keep-alive expected")
	}
}
