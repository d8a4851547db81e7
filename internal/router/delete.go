package router

import (
	"os"

	"github.com/yourusername/webserv/internal/config"
	"github.com/yourusername/webserv/internal/response"
)

// handleDelete unlinks resolved. A directory target is rejected with
// 409 rather than recursively removed: DELETE in this protocol only
// ever targets a single file.
func (r *Router) handleDelete(srv *config.ServerRule, resolved string) *response.Response {
	info, err := os.Stat(resolved)
	if err != nil {
		return r.errorPageFor(srv, statError(err))
	}
	if info.IsDir() {
		return r.errorPageFor(srv, 409)
	}

	if err := os.Remove(resolved); err != nil {
		return r.errorPageFor(srv, statError(err))
	}
	return response.NoContent()
}
