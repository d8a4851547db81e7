package httpparse

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func feedAll(t *testing.T, raw string) (Status, *Request, int) {
	t.Helper()
	p := NewParser()
	return p.Feed([]byte(raw))
}

func TestParseSimpleGET(t *testing.T) {
	status, req, _ := feedAll(t, "GET /index.html HTTP/1.1\r\nHost: localhost\r\n\r\n")
	require.Equal(t, StatusComplete, status)
	require.Equal(t, "GET", req.Method)
	require.Equal(t, "/index.html", req.Path)
	require.Equal(t, "", req.Query)
	require.Equal(t, "HTTP/1.1", req.Version)
}

func TestParseQueryString(t *testing.T) {
	status, req, _ := feedAll(t, "GET /search?q=test&limit=10 HTTP/1.1\r\nHost: x\r\n\r\n")
	require.Equal(t, StatusComplete, status)
	require.Equal(t, "/search", req.Path)
	require.Equal(t, "q=test&limit=10", req.Query)
}

func TestHeaderCaseInsensitivity(t *testing.T) {
	status, req, _ := feedAll(t, "GET / HTTP/1.1\r\nHost: example.com\r\n\r\n")
	require.Equal(t, StatusComplete, status)
	require.Equal(t, "example.com", req.Headers.Get("Host"))
	require.Equal(t, "example.com", req.Headers.Get("host"))
	require.Equal(t, "example.com", req.Headers.Get("HOST"))
}

func TestDuplicateHeadersJoined(t *testing.T) {
	status, req, _ := feedAll(t, "GET / HTTP/1.1\r\nHost: x\r\nX-Foo: a\r\nX-Foo: b\r\n\r\n")
	require.Equal(t, StatusComplete, status)
	require.Equal(t, "a, b", req.Headers.Get("X-Foo"))
}

func TestSetCookieRejected(t *testing.T) {
	status, _, code := feedAll(t, "GET / HTTP/1.1\r\nHost: x\r\nSet-Cookie: a=b\r\n\r\n")
	require.Equal(t, StatusFailed, status)
	require.Equal(t, 400, code)
}

func TestAbsoluteFormURIRejected(t *testing.T) {
	status, _, code := feedAll(t, "GET http://example.com/ HTTP/1.1\r\nHost: x\r\n\r\n")
	require.Equal(t, StatusFailed, status)
	require.Equal(t, 400, code)
}

func TestUnsupportedVersion(t *testing.T) {
	status, _, code := feedAll(t, "GET / HTTP/2.0\r\nHost: x\r\n\r\n")
	require.Equal(t, StatusFailed, status)
	require.Equal(t, 505, code)
}

func TestFailedParseCarriesErrorCode(t *testing.T) {
	status, req, code := feedAll(t, "GET / HTTP/2.0\r\nHost: x\r\n\r\n")
	require.Equal(t, StatusFailed, status)
	require.NotNil(t, req)
	require.Equal(t, 505, code)
	require.Equal(t, code, req.ErrorCode)

	// Even a failure before the request line parses yields a Request
	// carrying the code.
	status, req, code = feedAll(t, "garbage\r\n")
	require.Equal(t, StatusFailed, status)
	require.NotNil(t, req)
	require.Equal(t, 400, code)
	require.Equal(t, code, req.ErrorCode)
}

func TestMalformedVersion(t *testing.T) {
	status, _, code := feedAll(t, "GET / HOOP/1.1\r\nHost: x\r\n\r\n")
	require.Equal(t, StatusFailed, status)
	require.Equal(t, 400, code)
}

func TestMissingHostOnHTTP11(t *testing.T) {
	status, _, code := feedAll(t, "GET / HTTP/1.1\r\n\r\n")
	require.Equal(t, StatusFailed, status)
	require.Equal(t, 400, code)
}

func TestHTTP10WithoutHostOK(t *testing.T) {
	status, req, _ := feedAll(t, "GET / HTTP/1.0\r\n\r\n")
	require.Equal(t, StatusComplete, status)
	require.Equal(t, "HTTP/1.0", req.Version)
}

func TestObsoleteLineFoldingRejected(t *testing.T) {
	status, _, code := feedAll(t, "GET / HTTP/1.1\r\nHost: x\r\n Accept: text/html\r\n\r\n")
	require.Equal(t, StatusFailed, status)
	require.Equal(t, 400, code)
}

func TestContentLengthBody(t *testing.T) {
	status, req, _ := feedAll(t, "POST /x HTTP/1.1\r\nHost: x\r\nContent-Length: 5\r\n\r\nhello")
	require.Equal(t, StatusComplete, status)
	require.Equal(t, "hello", string(req.Body))
	require.EqualValues(t, 5, req.ContentLength)
}

func TestContentLengthMalformed(t *testing.T) {
	status, _, code := feedAll(t, "POST /x HTTP/1.1\r\nHost: x\r\nContent-Length: abc\r\n\r\n")
	require.Equal(t, StatusFailed, status)
	require.Equal(t, 400, code)
}

func TestContentLengthTooLarge(t *testing.T) {
	p := NewParser()
	p.SetMaxBodySize(1 << 20)
	status, _, code := p.Feed([]byte("POST /api HTTP/1.1\r\nHost: x\r\nContent-Length: 99999999999\r\n\r\n"))
	require.Equal(t, StatusFailed, status)
	require.Equal(t, 413, code)
}

func TestChunkedAndContentLengthConflict(t *testing.T) {
	raw := "POST /x HTTP/1.1\r\nHost: x\r\nContent-Length: 5\r\nTransfer-Encoding: chunked\r\n\r\n"
	status, _, code := feedAll(t, raw)
	require.Equal(t, StatusFailed, status)
	require.Equal(t, 400, code)
}

func TestChunkedBody(t *testing.T) {
	raw := "POST /upload HTTP/1.1\r\nHost: x\r\nTransfer-Encoding: chunked\r\n\r\n" +
		"5\r\nHello\r\n7\r\n World!\r\n0\r\n\r\n"
	status, req, _ := feedAll(t, raw)
	require.Equal(t, StatusComplete, status)
	require.Equal(t, "Hello World!", string(req.Body))
}

func TestChunkedWithTrailer(t *testing.T) {
	raw := "POST /x HTTP/1.1\r\nHost: x\r\nTransfer-Encoding: chunked\r\n\r\n" +
		"3\r\nfoo\r\n0\r\nX-Trailer: ignored\r\n\r\n"
	status, req, _ := feedAll(t, raw)
	require.Equal(t, StatusComplete, status)
	require.Equal(t, "foo", string(req.Body))
}

func TestMalformedChunkSize(t *testing.T) {
	raw := "POST /x HTTP/1.1\r\nHost: x\r\nTransfer-Encoding: chunked\r\n\r\nZZZ\r\n"
	status, _, code := feedAll(t, raw)
	require.Equal(t, StatusFailed, status)
	require.Equal(t, 400, code)
}

func TestUnknownMethod(t *testing.T) {
	// Not a parser-level failure: method token validity only; router
	// decides 501 for methods it doesn't recognize. A malformed token
	// (containing a space-illegal character) is what the parser rejects.
	status, req, _ := feedAll(t, "FOO / HTTP/1.1\r\nHost: x\r\n\r\n")
	require.Equal(t, StatusComplete, status)
	require.Equal(t, "FOO", req.Method)
}

// TestFeedInAnyPartition verifies that feeding the same bytes split at
// every possible boundary yields the same outcome as feeding them in
// one call.
func TestFeedInAnyPartition(t *testing.T) {
	raw := []byte("POST /upload HTTP/1.1\r\nHost: x\r\nContent-Length: 12\r\n\r\nHello World!")

	wantStatus, wantReq, wantCode := func() (Status, *Request, int) {
		p := NewParser()
		return p.Feed(raw)
	}()
	require.Equal(t, StatusComplete, wantStatus)

	for split := 1; split < len(raw); split++ {
		p := NewParser()
		status, _, code := p.Feed(raw[:split])
		if status == StatusComplete || status == StatusFailed {
			t.Fatalf("split %d: resolved too early", split)
		}
		status, req, code := p.Feed(raw[split:])
		require.Equalf(t, wantStatus, status, "split at %d", split)
		require.Equalf(t, wantCode, code, "split at %d", split)
		if wantReq != nil {
			require.Equal(t, wantReq.Method, req.Method)
			require.Equal(t, wantReq.Path, req.Path)
			require.Equal(t, string(wantReq.Body), string(req.Body))
		}
	}

	// And one byte at a time.
	p := NewParser()
	var status Status
	var code int
	for i := range raw {
		status, _, code = p.Feed(raw[i : i+1])
	}
	require.Equal(t, wantStatus, status)
	require.Equal(t, wantCode, code)
}

func TestPipeliningLeavesNextRequestBuffered(t *testing.T) {
	raw := "GET /a HTTP/1.1\r\nHost: x\r\n\r\nGET /b HTTP/1.1\r\nHost: x\r\n\r\n"
	p := NewParser()
	status, req, _ := p.Feed([]byte(raw))
	require.Equal(t, StatusComplete, status)
	require.Equal(t, "/a", req.Path)

	p.Reset()
	status, req, _ = p.Feed(nil)
	require.Equal(t, StatusComplete, status)
	require.Equal(t, "/b", req.Path)
}
