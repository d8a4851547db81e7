// Package cgi forks a child process per request, speaking the RFC
// 3875 subset of the Common Gateway Interface: environment variables
// carry request metadata, the request body arrives on the child's
// stdin, and the response is read back from its stdout.
package cgi

import (
	"strconv"
	"strings"

	"github.com/yourusername/webserv/internal/httpparse"
)

// Request is everything the executor needs to run one CGI script: the
// resolved script on disk, the interpreter that runs it, and the
// request/connection facts RFC 3875 turns into environment variables.
type Request struct {
	ScriptPath   string
	Interpreter  string
	CGIExtension string

	Method       string
	URIPath      string
	ScriptPrefix string
	Query        string
	Headers      httpparse.Headers
	Body         []byte

	ServerName []string
	ServerPort int

	RemoteAddr string
	RemotePort string
}

// scriptName and pathInfo split the request's URI at the end of the
// CGI extension: everything up to and including the script is
// SCRIPT_NAME, anything after is PATH_INFO.
func (r Request) scriptName() (string, string) {
	if r.CGIExtension == "" {
		return r.URIPath, ""
	}
	idx := strings.Index(r.URIPath, r.CGIExtension)
	if idx < 0 {
		return r.URIPath, ""
	}
	end := idx + len(r.CGIExtension)
	return r.URIPath[:end], r.URIPath[end:]
}

func (r Request) serverName() string {
	if len(r.ServerName) > 0 {
		return r.ServerName[0]
	}
	return ""
}

// buildEnv constructs the child process environment: the fixed RFC
// 3875 variable set plus one HTTP_<NAME> per request header, excluding
// Content-Type/Content-Length which are passed unprefixed.
func buildEnv(r Request) []string {
	scriptName, pathInfo := r.scriptName()

	env := []string{
		"REQUEST_METHOD=" + r.Method,
		"QUERY_STRING=" + r.Query,
		"SCRIPT_NAME=" + scriptName,
		"SCRIPT_FILENAME=" + r.ScriptPath,
		"PATH_INFO=" + pathInfo,
		"SERVER_PROTOCOL=HTTP/1.1",
		"GATEWAY_INTERFACE=CGI/1.1",
		"SERVER_NAME=" + r.serverName(),
		"SERVER_PORT=" + strconv.Itoa(r.ServerPort),
		"SERVER_SOFTWARE=webserv/1.0",
		"REMOTE_ADDR=" + r.RemoteAddr,
		"REMOTE_PORT=" + r.RemotePort,
	}

	if ct := r.Headers.Get("Content-Type"); ct != "" {
		env = append(env, "CONTENT_TYPE="+ct)
	}
	if cl := r.Headers.Get("Content-Length"); cl != "" {
		env = append(env, "CONTENT_LENGTH="+cl)
	} else if len(r.Body) > 0 {
		env = append(env, "CONTENT_LENGTH="+strconv.Itoa(len(r.Body)))
	}

	r.Headers.Each(func(name, value string) {
		if name == "content-type" || name == "content-length" {
			return
		}
		env = append(env, "HTTP_"+headerEnvName(name)+"="+value)
	})

	return env
}

// headerEnvName upper-cases a lower-cased header name and turns every
// dash into an underscore, e.g. "user-agent" -> "USER_AGENT".
func headerEnvName(name string) string {
	b := []byte(name)
	for i, c := range b {
		switch {
		case c == '-':
			b[i] = '_'
		case c >= 'a' && c <= 'z':
			b[i] = c - ('a' - 'A')
		}
	}
	return string(b)
}
