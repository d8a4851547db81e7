// Package response serializes outgoing HTTP/1.1 responses: status
// line, headers (insertion order preserved), body, default error
// pages, and the extension-to-MIME-type table.
package response

import (
	"strconv"
	"time"

	"github.com/valyala/bytebufferpool"
)

// Response is a mutable value built up by a handler and then
// serialized exactly once by Write. Headers set explicitly by the
// caller are never overridden by the defaults Write fills in.
type Response struct {
	Code      int
	Reason    string // overrides the standard reason phrase when non-empty
	Headers   OrderedHeaders
	Body      []byte
	Chunked   bool // Transfer-Encoding: chunked instead of Content-Length
	KeepAlive bool
}

// New returns a Response with the given status and an empty header
// set; callers append headers and set Body before calling Write.
func New(code int) *Response {
	return &Response{Code: code}
}

// OK builds a 200 response with the given body and Content-Type.
func OK(body []byte, contentType string) *Response {
	r := New(200)
	r.Body = body
	r.Headers.Set("Content-Type", contentType)
	return r
}

// NoContent builds a 204 response that Write serializes without a
// body and without a Content-Length header.
func NoContent() *Response {
	return New(204)
}

// Redirect builds a response carrying a Location header. code must be
// one of the redirect statuses (301, 302, 303, 307, 308); callers are
// expected to have already validated that against config.
func Redirect(code int, location string) *Response {
	r := New(code)
	r.Headers.Set("Location", location)
	return r
}

// Error builds an error response. If body is nil, Write synthesizes
// the default HTML error page for Code.
func Error(code int, body []byte) *Response {
	r := New(code)
	r.Body = body
	return r
}

// reason returns the reason phrase to place in the status line.
func (r *Response) reason() string {
	if r.Reason != "" {
		return r.Reason
	}
	return ReasonPhrase(r.Code)
}

func defaultErrorBody(code int, reason string) []byte {
	return []byte("<html><body><h1>" + strconv.Itoa(code) + " " + reason + "</h1></body></html>")
}

// applyDefaults fills in Server, Date, Content-Length/Transfer-Encoding,
// Connection, and (for empty-bodied 4xx/5xx) a synthesized error page,
// without touching anything the caller already set explicitly.
func (r *Response) applyDefaults(now time.Time) {
	if r.Code >= 400 && len(r.Body) == 0 && !r.Headers.Has("Content-Type") {
		r.Body = defaultErrorBody(r.Code, r.reason())
		r.Headers.Set("Content-Type", "text/html")
	}

	if !r.Headers.Has("Server") {
		r.Headers.Set("Server", serverBanner)
	}
	if !r.Headers.Has("Date") {
		r.Headers.Set("Date", now.UTC().Format(httpDateLayout))
	}

	if r.Code != 204 {
		if r.Chunked {
			if !r.Headers.Has("Transfer-Encoding") {
				r.Headers.Set("Transfer-Encoding", "chunked")
			}
		} else if !r.Headers.Has("Content-Length") {
			r.Headers.Set("Content-Length", strconv.Itoa(len(r.Body)))
		}
	}

	if !r.Headers.Has("Connection") {
		if r.KeepAlive {
			r.Headers.Set("Connection", "keep-alive")
		} else {
			r.Headers.Set("Connection", "close")
		}
	}
}

// Write serializes r into a pooled buffer and returns its bytes. The
// caller must return the buffer to the pool via bytebufferpool.Put
// once the bytes have been written to the connection.
func Write(r *Response, now time.Time) *bytebufferpool.ByteBuffer {
	r.applyDefaults(now)

	buf := bytebufferpool.Get()
	buf.WriteString("HTTP/1.1 ")
	buf.WriteString(strconv.Itoa(r.Code))
	buf.WriteByte(' ')
	buf.WriteString(r.reason())
	buf.WriteString("\r\n")

	r.Headers.Each(func(name, value string) {
		buf.WriteString(name)
		buf.WriteString(": ")
		buf.WriteString(value)
		buf.WriteString("\r\n")
	})
	buf.WriteString("\r\n")

	if r.Code != 204 && len(r.Body) > 0 {
		buf.Write(r.Body)
	}
	return buf
}
