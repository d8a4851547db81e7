package cgi

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/yourusername/webserv/internal/httpparse"
	"github.com/yourusername/webserv/internal/response"
)

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o755))
	return path
}

// drive pumps a Process to completion the way the event loop would —
// by polling its fds and calling WriteReady/ReadReady only when ready
// — except here it just spins tightly instead of waiting on a real
// readiness notifier, since there's no poller in a package test.
func drive(t *testing.T, p *Process, timeout time.Duration) (*response.Response, int) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		if _, ok := p.StdinFD(); ok {
			if _, err := p.WriteReady(); err != nil {
				t.Fatalf("WriteReady: %v", err)
			}
		}
		if p.StdoutOpen() {
			if _, err := p.ReadReady(); err != nil {
				t.Fatalf("ReadReady: %v", err)
			}
		}
		if p.Expired(time.Now()) {
			p.Terminate()
		}
		if !p.StdoutOpen() && p.Reap() {
			return p.Finish()
		}
		if time.Now().After(deadline) {
			t.Fatalf("CGI process did not finish within %s", timeout)
		}
		time.Sleep(time.Millisecond)
	}
}

// driveTimeout pumps a Process whose script is expected to run past
// its own timeout, returning once the process has been killed and
// reaped.
func driveTimeout(t *testing.T, p *Process, overall time.Duration) {
	t.Helper()
	deadline := time.Now().Add(overall)
	for {
		if _, ok := p.StdinFD(); ok {
			p.WriteReady()
		}
		if p.StdoutOpen() {
			p.ReadReady()
		}
		now := time.Now()
		if p.Expired(now) {
			p.Terminate()
		}
		if p.KillGraceExpired(now) {
			p.ForceKill()
		}
		if p.Reap() {
			return
		}
		if now.After(deadline) {
			t.Fatalf("CGI process was not reaped within %s", overall)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestExecuteRunsScriptAndParsesOutput(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "hello.sh", "#!/bin/sh\nprintf 'Content-Type: text/plain\\r\\n\\r\\nHello, %s!' \"$QUERY_STRING\"\n")

	e := NewExecutor()
	p, code := e.Start(Request{
		ScriptPath:   script,
		Interpreter:  "/bin/sh",
		CGIExtension: ".sh",
		Method:       "GET",
		URIPath:      "/cgi-bin/hello.sh",
		Query:        "World",
		Headers:      freshHeaders(),
		ServerPort:   8080,
		RemoteAddr:   "127.0.0.1",
		RemotePort:   "5000",
	})
	require.Zero(t, code)
	resp, finishCode := drive(t, p, 2*time.Second)
	require.Zero(t, finishCode)
	require.Equal(t, 200, resp.Code)
	require.Equal(t, []byte("Hello, World!"), resp.Body)
}

func TestExecuteMissingScriptIs404(t *testing.T) {
	e := NewExecutor()
	_, code := e.Start(Request{
		ScriptPath:  "/nonexistent/path/to/script.sh",
		Interpreter: "/bin/sh",
		Headers:     freshHeaders(),
	})
	require.Equal(t, 404, code)
}

func TestExecuteNonExecutableScriptIs403(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "script.sh")
	require.NoError(t, os.WriteFile(path, []byte("echo hi"), 0o644))

	e := NewExecutor()
	_, code := e.Start(Request{
		ScriptPath:  path,
		Interpreter: "/bin/sh",
		Headers:     freshHeaders(),
	})
	require.Equal(t, 403, code)
}

func TestExecuteMissingInterpreterIs500(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "a.sh", "#!/bin/sh\necho hi\n")

	e := NewExecutor()
	_, code := e.Start(Request{
		ScriptPath:  script,
		Interpreter: "/no/such/interpreter",
		Headers:     freshHeaders(),
	})
	require.Equal(t, 500, code)
}

func TestExecuteNonZeroExitIs500(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "fail.sh", "#!/bin/sh\nexit 1\n")

	e := NewExecutor()
	p, code := e.Start(Request{
		ScriptPath:  script,
		Interpreter: "/bin/sh",
		Headers:     freshHeaders(),
	})
	require.Zero(t, code)
	_, finishCode := drive(t, p, 2*time.Second)
	require.Equal(t, 500, finishCode)
}

func TestExecuteTimeoutKillsChild(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "sleep.sh", "#!/bin/sh\nsleep 5\n")

	e := &Executor{Timeout: 50 * time.Millisecond}
	p, code := e.Start(Request{
		ScriptPath:  script,
		Interpreter: "/bin/sh",
		Headers:     freshHeaders(),
	})
	require.Zero(t, code)
	driveTimeout(t, p, 2*time.Second)
}

func TestExecuteWritesBodyToStdin(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "echo.sh", "#!/bin/sh\nbody=$(cat)\nprintf 'Content-Type: text/plain\\r\\n\\r\\nGot: %s' \"$body\"\n")

	e := NewExecutor()
	p, code := e.Start(Request{
		ScriptPath:  script,
		Interpreter: "/bin/sh",
		Method:      "POST",
		Body:        []byte("payload"),
		Headers:     freshHeaders(),
	})
	require.Zero(t, code)
	resp, finishCode := drive(t, p, 2*time.Second)
	require.Zero(t, finishCode)
	require.Equal(t, []byte("Got: payload"), resp.Body)
}

func freshHeaders() httpparse.Headers {
	var h httpparse.Headers
	return h
}
