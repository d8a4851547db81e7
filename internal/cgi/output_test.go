package cgi

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseOutputSetsStatusAndHeaders(t *testing.T) {
	raw := []byte("Content-Type: text/plain\r\nStatus: 404 Not Found\r\n\r\nGone")
	resp, code := parseOutput(raw)
	require.Zero(t, code)
	require.Equal(t, 404, resp.Code)
	ct, ok := resp.Headers.Get("Content-Type")
	require.True(t, ok)
	require.Equal(t, "text/plain", ct)
	require.Equal(t, []byte("Gone"), resp.Body)
}

func TestParseOutputDefaultsTo200(t *testing.T) {
	raw := []byte("Content-Type: text/plain\n\nHello, World!")
	resp, code := parseOutput(raw)
	require.Zero(t, code)
	require.Equal(t, 200, resp.Code)
	require.Equal(t, []byte("Hello, World!"), resp.Body)
}

func TestParseOutputSetsContentLengthWhenOmitted(t *testing.T) {
	raw := []byte("Content-Type: text/plain\r\n\r\nHello")
	resp, _ := parseOutput(raw)
	cl, ok := resp.Headers.Get("Content-Length")
	require.True(t, ok)
	require.Equal(t, "5", cl)
}

func TestParseOutputMissingBlankLineFails(t *testing.T) {
	raw := []byte("Content-Type: text/plain\r\nno body separator here")
	_, code := parseOutput(raw)
	require.Equal(t, 502, code)
}

func TestHeaderEnvName(t *testing.T) {
	require.Equal(t, "USER_AGENT", headerEnvName("user-agent"))
	require.Equal(t, "X_FORWARDED_FOR", headerEnvName("x-forwarded-for"))
}
