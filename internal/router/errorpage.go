package router

import (
	"os"
	"time"

	"github.com/yourusername/webserv/internal/config"
	"github.com/yourusername/webserv/internal/response"
)

// cachedPage holds a configured error page's body alongside the mtime
// it was read at, so a changed file on disk is picked up without
// re-reading on every single error response.
type cachedPage struct {
	modTime time.Time
	body    []byte
}

// errorPageFor returns a custom error page response if srv configures
// one for code, else the default synthesized page. The configured
// file is read once and re-read only when its mtime changes.
func (r *Router) errorPageFor(srv *config.ServerRule, code int) *response.Response {
	if srv != nil {
		if path, ok := srv.ErrorPage(code); ok {
			if body, ok := r.loadErrorPage(path); ok {
				resp := response.New(code)
				resp.Body = body
				resp.Headers.Set("Content-Type", "text/html")
				return resp
			}
		}
	}
	return response.Error(code, nil)
}

func (r *Router) loadErrorPage(path string) ([]byte, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, false
	}

	if cached, ok := r.errorPages[path]; ok && cached.modTime.Equal(info.ModTime()) {
		return cached.body, true
	}

	body, err := readFileBody(path)
	if err != nil {
		return nil, false
	}
	if r.errorPages == nil {
		r.errorPages = make(map[string]cachedPage)
	}
	r.errorPages[path] = cachedPage{modTime: info.ModTime(), body: body}
	return body, true
}
