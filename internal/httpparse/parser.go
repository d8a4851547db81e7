package httpparse

import (
	"bytes"
	"strconv"
	"strings"
)

// Status is the outcome of a Feed call.
type Status uint8

const (
	// StatusNeedMore means the parser consumed what it could and is
	// waiting for more bytes; call Feed again when more arrive.
	StatusNeedMore Status = iota

	// StatusComplete means a full request was parsed; Request() holds it.
	StatusComplete

	// StatusFailed means the request is malformed; the returned code
	// (also recorded as Request.ErrorCode) is the HTTP status the
	// caller must respond with.
	StatusFailed
)

type state uint8

const (
	stRequestLine state = iota
	stHeaders
	stBody
	stChunkSize
	stChunkData
	stChunkCRLF
	stChunkTrailer
	stDone
	stFailed
)

// Parser is a resumable HTTP/1.1 request parser: a state machine that
// accepts arbitrarily fragmented byte streams (Feed may be called with
// one byte or one megabyte at a time) and yields a complete Request
// once the message is fully received.
//
// A Parser instance handles exactly one request; call Reset before
// reusing it for the next request on a keep-alive connection. Reset
// preserves any bytes already fed that belong to the next pipelined
// request.
type Parser struct {
	state state

	pending []byte

	req *Request

	bodyRemaining  int64
	chunkRemaining int64
	bodyReceived   int64

	maxBodySize int64
	errCode     int

	headerBytes int
}

// NewParser returns a Parser ready to parse a request line.
func NewParser() *Parser {
	return &Parser{
		state:       stRequestLine,
		maxBodySize: DefaultMaxBodySize,
	}
}

// SetMaxBodySize configures the body-size ceiling applied once
// Content-Length or accumulated chunk data is known. Must be called
// before the body framing decision is reached to take effect for the
// current request; calling it at connection-accept time (before any
// Feed) is typical.
func (p *Parser) SetMaxBodySize(n int64) {
	if n > 0 {
		p.maxBodySize = n
	}
}

// Reset prepares the parser for the next request on the same
// connection, keeping any already-buffered bytes belonging to a
// pipelined follow-up request.
func (p *Parser) Reset() {
	p.state = stRequestLine
	p.req = nil
	p.bodyRemaining = 0
	p.chunkRemaining = 0
	p.bodyReceived = 0
	p.errCode = 0
	p.headerBytes = 0
}

// Feed appends data to the parser's internal buffer and drives the
// state machine as far forward as the available bytes allow.
//
// Feeding the same total byte sequence in any partition of Feed calls
// yields the same Status/Request/code as feeding it in one call, so
// callers may split on arbitrary socket-read boundaries without
// affecting the outcome.
func (p *Parser) Feed(data []byte) (Status, *Request, int) {
	if len(data) > 0 {
		p.pending = append(p.pending, data...)
	}

	for {
		var done bool
		switch p.state {
		case stRequestLine:
			done = p.stepRequestLine()
		case stHeaders:
			done = p.stepHeaders()
		case stBody:
			done = p.stepBody()
		case stChunkSize:
			done = p.stepChunkSize()
		case stChunkData:
			done = p.stepChunkData()
		case stChunkCRLF:
			done = p.stepChunkCRLF()
		case stChunkTrailer:
			done = p.stepTrailer()
		case stDone, stFailed:
			return p.result()
		}
		if done {
			return p.result()
		}
	}
}

func (p *Parser) result() (Status, *Request, int) {
	switch p.state {
	case stDone:
		return StatusComplete, p.req, 0
	case stFailed:
		return StatusFailed, p.req, p.errCode
	default:
		return StatusNeedMore, nil, 0
	}
}

func (p *Parser) fail(err error) bool {
	p.errCode = codeFor(err)
	// A request-line failure happens before any Request exists; the
	// caller still gets one carrying the error code.
	if p.req == nil {
		p.req = newRequest()
	}
	p.req.ErrorCode = p.errCode
	p.state = stFailed
	return true
}

// findCRLF returns the index of the next "\r\n" in p.pending, or -1.
func (p *Parser) findCRLF() int {
	return bytes.Index(p.pending, crlf)
}

var crlf = []byte("\r\n")

func (p *Parser) stepRequestLine() bool {
	idx := p.findCRLF()
	if idx < 0 {
		if len(p.pending) > MaxRequestLineSize {
			return p.fail(errInvalidRequestLine)
		}
		return true
	}
	line := string(p.pending[:idx])
	p.pending = p.pending[idx+2:]

	method, uri, version, err := parseRequestLine(line)
	if err != nil {
		return p.fail(err)
	}

	req := newRequest()
	req.Method = method
	req.RawURI = uri
	req.Version = version
	if q := strings.IndexByte(uri, '?'); q >= 0 {
		req.Path = uri[:q]
		req.Query = uri[q+1:]
	} else {
		req.Path = uri
	}

	p.req = req
	p.state = stHeaders
	return false
}

func parseRequestLine(line string) (method, uri, version string, err error) {
	sp1 := strings.IndexByte(line, ' ')
	if sp1 <= 0 {
		return "", "", "", errInvalidRequestLine
	}
	rest := line[sp1+1:]
	sp2 := strings.IndexByte(rest, ' ')
	if sp2 <= 0 {
		return "", "", "", errInvalidRequestLine
	}
	method = line[:sp1]
	uri = rest[:sp2]
	version = rest[sp2+1:]

	if !isToken(method) {
		return "", "", "", errInvalidMethod
	}
	if len(uri) == 0 || uri[0] != '/' {
		return "", "", "", errInvalidRequestLine
	}
	if strings.IndexByte(version, ' ') >= 0 {
		return "", "", "", errInvalidRequestLine
	}
	if err := validateVersion(version); err != nil {
		return "", "", "", err
	}
	return method, uri, version, nil
}

func validateVersion(v string) error {
	if v == "HTTP/1.0" || v == "HTTP/1.1" {
		return nil
	}
	if len(v) == 8 && strings.HasPrefix(v, "HTTP/") && v[6] == '.' &&
		v[5] >= '0' && v[5] <= '9' && v[7] >= '0' && v[7] <= '9' {
		return errInvalidVersion
	}
	return errInvalidRequestLine
}

func (p *Parser) stepHeaders() bool {
	for {
		idx := p.findCRLF()
		if idx < 0 {
			if p.headerBytes+len(p.pending) > MaxHeadersTotalSize {
				return p.fail(errHeaderTooLarge)
			}
			return true
		}
		if idx == 0 {
			// Blank line: end of headers.
			p.pending = p.pending[2:]
			if err := p.finishHeaders(); err != nil {
				return p.fail(err)
			}
			return false
		}

		line := p.pending[:idx]
		p.pending = p.pending[idx+2:]
		p.headerBytes += idx + 2
		if p.headerBytes > MaxHeadersTotalSize || len(line) > MaxHeaderLineSize {
			return p.fail(errHeaderTooLarge)
		}

		if line[0] == ' ' || line[0] == '\t' {
			// Obsolete line folding (RFC 7230 §3.2.4): rejected.
			return p.fail(errInvalidHeader)
		}

		if err := p.addHeaderLine(string(line)); err != nil {
			return p.fail(err)
		}
		if p.req.Headers.Len() > MaxHeaderCount {
			return p.fail(errHeaderTooLarge)
		}
	}
}

func (p *Parser) addHeaderLine(line string) error {
	colon := strings.IndexByte(line, ':')
	if colon <= 0 {
		return errInvalidHeader
	}
	name := line[:colon]
	if strings.ContainsAny(name, " \t") || !isToken(name) {
		return errInvalidHeader
	}
	value := strings.Trim(line[colon+1:], " \t")

	if strings.EqualFold(name, "Set-Cookie") {
		return errInvalidHeader
	}

	p.req.Headers.Add(name, value)
	return nil
}

func (p *Parser) finishHeaders() error {
	req := p.req

	if req.Version == "HTTP/1.1" && !req.Headers.Has("Host") {
		return errMissingHost
	}

	cl := req.Headers.Get("Content-Length")
	te := strings.ToLower(req.Headers.Get("Transfer-Encoding"))
	chunked := strings.Contains(te, "chunked")

	if chunked && cl != "" {
		return errConflictingFraming
	}

	if chunked {
		p.state = stChunkSize
		return nil
	}

	if cl != "" {
		n, err := parseContentLength(cl)
		if err != nil {
			return err
		}
		if n > p.maxBodySize {
			return errBodyTooLarge
		}
		req.ContentLength = n
		if n == 0 {
			p.state = stDone
			return nil
		}
		p.bodyRemaining = n
		p.state = stBody
		return nil
	}

	p.state = stDone
	return nil
}

// parseContentLength validates and parses a Content-Length value,
// rejecting anything that isn't a plain non-negative decimal integer
// (no signs, no whitespace, no duplicate-with-mismatch values — a
// mismatched duplicate joined with ", " will simply fail the all-digit
// check here and be rejected).
func parseContentLength(s string) (int64, error) {
	if s == "" {
		return 0, errBadContentLength
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, errBadContentLength
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0, errBadContentLength
	}
	return n, nil
}

func (p *Parser) stepBody() bool {
	avail := int64(len(p.pending))
	if avail >= p.bodyRemaining {
		p.req.Body = append(p.req.Body, p.pending[:p.bodyRemaining]...)
		p.pending = p.pending[p.bodyRemaining:]
		p.bodyRemaining = 0
		p.state = stDone
		return false
	}
	p.req.Body = append(p.req.Body, p.pending...)
	p.bodyRemaining -= avail
	p.pending = p.pending[:0]
	return true
}

func (p *Parser) stepChunkSize() bool {
	idx := p.findCRLF()
	if idx < 0 {
		if len(p.pending) > maxChunkSizeLineLen {
			return p.fail(errBadChunkSize)
		}
		return true
	}
	line := string(p.pending[:idx])
	p.pending = p.pending[idx+2:]

	if semi := strings.IndexByte(line, ';'); semi >= 0 {
		line = line[:semi]
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return p.fail(errBadChunkSize)
	}

	size, err := strconv.ParseUint(line, 16, 64)
	if err != nil || size > 1<<62 {
		return p.fail(errBadChunkSize)
	}

	if size == 0 {
		p.state = stChunkTrailer
		return false
	}

	if p.bodyReceived+int64(size) > p.maxBodySize {
		return p.fail(errBodyTooLarge)
	}
	p.chunkRemaining = int64(size)
	p.state = stChunkData
	return false
}

func (p *Parser) stepChunkData() bool {
	avail := int64(len(p.pending))
	if avail >= p.chunkRemaining {
		p.req.Body = append(p.req.Body, p.pending[:p.chunkRemaining]...)
		p.bodyReceived += p.chunkRemaining
		p.pending = p.pending[p.chunkRemaining:]
		p.chunkRemaining = 0
		p.state = stChunkCRLF
		return false
	}
	p.req.Body = append(p.req.Body, p.pending...)
	p.chunkRemaining -= avail
	p.bodyReceived += avail
	p.pending = p.pending[:0]
	return true
}

func (p *Parser) stepChunkCRLF() bool {
	if len(p.pending) < 2 {
		return true
	}
	if p.pending[0] != '\r' || p.pending[1] != '\n' {
		return p.fail(errBadChunkSize)
	}
	p.pending = p.pending[2:]
	p.state = stChunkSize
	return false
}

// stepTrailer discards chunked-trailer headers through the final
// blank line; trailers are not exposed to application code (see
// DESIGN.md for the rationale).
func (p *Parser) stepTrailer() bool {
	for {
		idx := p.findCRLF()
		if idx < 0 {
			if len(p.pending) > MaxHeaderLineSize {
				return p.fail(errHeaderTooLarge)
			}
			return true
		}
		p.pending = p.pending[idx+2:]
		if idx == 0 {
			p.state = stDone
			return false
		}
		// Trailer header line: discarded silently.
	}
}
