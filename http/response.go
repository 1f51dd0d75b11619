// Copyright (c) 2026 The evnet Authors.
// This package is licensed under a MIT license that can be found in the LICENSE file.

package http

import (
	"strconv"
)

// Response is an outgoing HTTP response built by the request handler and
// serialized with AppendTo.
type Response struct {
	statusCode      int
	statusMessage   string
	closeConnection bool
	headers         map[string]string
	body            []byte
}

// NewResponse returns a Response that keeps or closes the connection.
func NewResponse(close bool) *Response {
	return &Response{closeConnection: close, headers: make(map[string]string)}
}

// SetStatusCode sets the status code.
func (r *Response) SetStatusCode(code int) { r.statusCode = code }

// StatusCode returns the status code.
func (r *Response) StatusCode() int { return r.statusCode }

// SetStatusMessage sets the reason phrase.
func (r *Response) SetStatusMessage(message string) { r.statusMessage = message }

// SetCloseConnection marks the connection to be closed after the response.
func (r *Response) SetCloseConnection(on bool) { r.closeConnection = on }

// CloseConnection reports whether the connection closes after the response.
func (r *Response) CloseConnection() bool { return r.closeConnection }

// SetContentType sets the Content-Type header.
func (r *Response) SetContentType(contentType string) {
	r.AddHeader("Content-Type", contentType)
}

// AddHeader stores a header field, last write wins.
func (r *Response) AddHeader(field, value string) {
	r.headers[field] = value
}

// SetBody sets the response body.
func (r *Response) SetBody(body []byte) { r.body = body }

// AppendTo serializes the response onto buf and returns the result.
func (r *Response) AppendTo(buf []byte) []byte {
	buf = append(buf, "HTTP/1.1 "...)
	buf = strconv.AppendInt(buf, int64(r.statusCode), 10)
	buf = append(buf, ' ')
	buf = append(buf, r.statusMessage...)
	buf = append(buf, "\r\n"...)
	if r.closeConnection {
		buf = append(buf, "Connection: close\r\n"...)
	} else {
		buf = append(buf, "Content-Length: "...)
		buf = strconv.AppendInt(buf, int64(len(r.body)), 10)
		buf = append(buf, "\r\nConnection: Keep-Alive\r\n"...)
	}
	for field, value := range r.headers {
		buf = append(buf, field...)
		buf = append(buf, ": "...)
		buf = append(buf, value...)
		buf = append(buf, "\r\n"...)
	}
	buf = append(buf, "\r\n"...)
	buf = append(buf, r.body...)
	return buf
}
