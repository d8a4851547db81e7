package conn

import (
	"strings"

	"github.com/yourusername/webserv/internal/httpparse"
)

// DecideKeepAlive applies the per-version default: HTTP/1.1
// connections stay open unless the client sends "Connection: close";
// HTTP/1.0 connections close unless the client opts in with
// "Connection: keep-alive".
func DecideKeepAlive(req *httpparse.Request) bool {
	conn := strings.ToLower(req.Headers.Get("Connection"))
	switch req.Version {
	case "HTTP/1.1":
		return conn != "close"
	default:
		return conn == "keep-alive"
	}
}
