package cgi

import (
	"bufio"
	"bytes"
	"strconv"
	"strings"

	"github.com/yourusername/webserv/internal/response"
)

// parseOutput splits raw CGI output into its header block and body:
// "Name: value CRLF" lines, a blank line, then the body. A missing
// blank line is a protocol violation (502). A Status: header sets the
// HTTP status; all others are forwarded verbatim.
func parseOutput(raw []byte) (*response.Response, int) {
	sep := findHeaderEnd(raw)
	if sep < 0 {
		return nil, 502
	}
	headerBlock := raw[:sep]
	body := raw[headerEndLen(raw, sep):]

	resp := response.New(200)
	scanner := bufio.NewScanner(bytes.NewReader(headerBlock))
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		idx := strings.IndexByte(line, ':')
		if idx < 0 {
			continue
		}
		name := strings.TrimSpace(line[:idx])
		value := strings.TrimSpace(line[idx+1:])
		if strings.EqualFold(name, "Status") {
			resp.Code = statusCode(value)
			continue
		}
		resp.Headers.Set(name, value)
	}

	resp.Body = body
	if !resp.Headers.Has("Content-Length") {
		resp.Headers.Set("Content-Length", strconv.Itoa(len(body)))
	}
	return resp, 0
}

// findHeaderEnd returns the index of the blank-line separator ("\n\n"
// or "\r\n\r\n", whichever comes first), or -1 if the output never
// terminates its headers.
func findHeaderEnd(raw []byte) int {
	crlf := bytes.Index(raw, []byte("\r\n\r\n"))
	lf := bytes.Index(raw, []byte("\n\n"))
	switch {
	case crlf < 0:
		return lf
	case lf < 0:
		return crlf
	case lf < crlf:
		return lf
	default:
		return crlf
	}
}

// headerEndLen returns the offset where the body begins, given the
// index returned by findHeaderEnd.
func headerEndLen(raw []byte, sep int) int {
	if bytes.HasPrefix(raw[sep:], []byte("\r\n\r\n")) {
		return sep + 4
	}
	return sep + 2
}

// statusCode parses a CGI Status header's leading digits ("200 OK" ->
// 200), defaulting to 200 if unparsable.
func statusCode(value string) int {
	fields := strings.Fields(value)
	if len(fields) == 0 {
		return 200
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil || n < 100 || n > 599 {
		return 200
	}
	return n
}
