// Copyright (c) 2026 The evnet Authors.
// This package is licensed under a MIT license that can be found in the LICENSE file.

package http

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/evnet/evnet"
)

type parseState int

const (
	expectRequestLine parseState = iota
	expectHeaders
	expectBody
	gotAll
)

var crlf = []byte("\r\n")

// Context incrementally parses one HTTP request from a byte stream.
type Context struct {
	state         parseState
	buf           []byte
	request       Request
	contentLength int
}

// NewContext returns a Context expecting a request line.
func NewContext() *Context {
	c := &Context{}
	c.request.headers = make(map[string]string)
	return c
}

// GotAll reports whether a full request has been parsed.
func (c *Context) GotAll() bool { return c.state == gotAll }

// Request returns the parsed request. Valid once GotAll reports true.
func (c *Context) Request() *Request { return &c.request }

// Reset prepares the Context for the next request on the same connection.
func (c *Context) Reset() {
	c.state = expectRequestLine
	c.request.reset()
	c.contentLength = 0
}

// Parse consumes data and reports whether the input is well formed so far.
// Call GotAll to learn whether the request is complete.
func (c *Context) Parse(data []byte, receiveTime evnet.Timestamp) bool {
	c.buf = append(c.buf, data...)
	for {
		switch c.state {
		case expectRequestLine:
			i := bytes.Index(c.buf, crlf)
			if i < 0 {
				return true
			}
			if !c.processRequestLine(string(c.buf[:i])) {
				return false
			}
			c.request.SetReceiveTime(receiveTime)
			c.buf = c.buf[i+2:]
			c.state = expectHeaders
		case expectHeaders:
			i := bytes.Index(c.buf, crlf)
			if i < 0 {
				return true
			}
			line := string(c.buf[:i])
			c.buf = c.buf[i+2:]
			if len(line) == 0 {
				if length := c.request.Header("Content-Length"); length != "" {
					n, err := strconv.Atoi(length)
					if err != nil || n < 0 {
						return false
					}
					c.contentLength = n
				}
				if c.contentLength > 0 {
					c.state = expectBody
				} else {
					c.state = gotAll
				}
				continue
			}
			colon := strings.IndexByte(line, ':')
			if colon <= 0 {
				return false
			}
			c.request.AddHeader(line[:colon], line[colon+1:])
		case expectBody:
			if len(c.buf) < c.contentLength {
				return true
			}
			body := make([]byte, c.contentLength)
			copy(body, c.buf)
			c.request.SetBody(body)
			c.buf = c.buf[c.contentLength:]
			c.state = gotAll
		case gotAll:
			return true
		}
	}
}

// processRequestLine parses "METHOD /path?query HTTP/1.x".
func (c *Context) processRequestLine(line string) bool {
	parts := strings.Split(line, " ")
	if len(parts) != 3 {
		return false
	}
	if !c.request.SetMethod(parts[0]) {
		return false
	}
	uri := parts[1]
	if len(uri) == 0 || uri[0] != '/' {
		return false
	}
	if q := strings.IndexByte(uri, '?'); q >= 0 {
		c.request.SetPath(uri[:q])
		c.request.SetQuery(uri[q+1:])
	} else {
		c.request.SetPath(uri)
	}
	switch parts[2] {
	case "HTTP/1.0":
		c.request.SetVersion(Version10)
	case "HTTP/1.1":
		c.request.SetVersion(Version11)
	default:
		return false
	}
	return true
}
