// Package router matches incoming requests to server/location
// configuration and transforms them into responses: static file
// serving, directory listings, uploads, deletes, redirects, and CGI
// dispatch.
package router

import (
	"strings"

	"github.com/yourusername/webserv/internal/cgi"
	"github.com/yourusername/webserv/internal/config"
	"github.com/yourusername/webserv/internal/httpparse"
	"github.com/yourusername/webserv/internal/response"
)

// Router holds a read-only reference to the parsed configuration; the
// only state it keeps across calls is its custom error-page cache, so
// one Router is reused for every connection on the event loop.
type Router struct {
	model      *config.Model
	cgi        *cgi.Executor
	errorPages map[string]cachedPage
}

// New returns a Router serving the given configuration model.
func New(model *config.Model) *Router {
	return &Router{model: model, cgi: cgi.NewExecutor()}
}

// PeerInfo carries the per-connection facts the CGI environment and
// error pages need but the parser doesn't produce.
type PeerInfo struct {
	RemoteAddr string
	RemotePort string
}

// Route is the router's single entry point: given a parsed request,
// the port it arrived on, and facts about the peer connection, it
// produces either a complete response or, when the request resolves
// to a CGI script, a started-but-not-yet-finished *cgi.Process. Exactly
// one of the two return values is non-nil. The caller owns driving the
// Process to completion (feeding its stdin, draining its stdout,
// enforcing its timeout) from its own readiness loop; Route itself
// never waits on one.
func (r *Router) Route(req *httpparse.Request, acceptedPort int, peer PeerInfo) (*response.Response, *cgi.Process) {
	if req.ErrorCode != 0 {
		return response.Error(req.ErrorCode, nil), nil
	}

	srv := r.findServer(acceptedPort, hostOnly(req.Host()))
	if srv == nil {
		return response.Error(404, nil), nil
	}

	// The parser enforced the most permissive limit on the port; the
	// matched server's own limit may be stricter.
	if srv.MaxBodySize > 0 && int64(len(req.Body)) > srv.MaxBodySize {
		return r.errorPageFor(srv, 413), nil
	}

	loc := findLocation(srv, req.Path)
	if loc == nil {
		return response.Error(404, nil), nil
	}

	if loc.HasRedirect() {
		return response.Redirect(loc.RedirectCode, loc.RedirectTarget), nil
	}

	if !isSupportedMethod(req.Method) {
		return response.Error(501, nil), nil
	}
	if !loc.AllowsMethod(req.Method) {
		resp := response.Error(405, nil)
		resp.Headers.Set("Allow", loc.AllowHeader())
		return resp, nil
	}

	resolved, err := resolvePath(loc, req.Path)
	if err != nil {
		return r.errorPageFor(srv, err.code), nil
	}

	if loc.HasCGI() && strings.HasSuffix(resolved, loc.CGIExtension) {
		proc, cgiErr := r.cgi.Start(cgi.Request{
			ScriptPath:   resolved,
			Interpreter:  loc.CGIPath,
			CGIExtension: loc.CGIExtension,
			Method:       req.Method,
			URIPath:      req.Path,
			ScriptPrefix: loc.Prefix,
			Query:        req.Query,
			Headers:      req.Headers,
			Body:         req.Body,
			ServerName:   srv.ServerNames,
			ServerPort:   acceptedPort,
			RemoteAddr:   peer.RemoteAddr,
			RemotePort:   peer.RemotePort,
		})
		if cgiErr != 0 {
			return r.errorPageFor(srv, cgiErr), nil
		}
		return nil, proc
	}

	switch req.Method {
	case "GET":
		return r.handleGet(srv, loc, resolved), nil
	case "POST":
		return r.handlePost(srv, loc, req, resolved), nil
	case "DELETE":
		return r.handleDelete(srv, resolved), nil
	default:
		return r.errorPageFor(srv, 501), nil
	}
}

// isSupportedMethod reports whether the server implements m at all.
// Anything else — HEAD included — is 501, never 405: only a method
// that could appear in a location's allow_methods can be "not
// allowed".
func isSupportedMethod(m string) bool {
	switch m {
	case "GET", "POST", "DELETE":
		return true
	}
	return false
}

func hostOnly(host string) string {
	if i := strings.IndexByte(host, ':'); i >= 0 {
		return host[:i]
	}
	return host
}

// findServer implements server selection: among ServerRules bound to
// acceptedPort, the first whose server_names contains host wins; if
// none match, the first such server is the default.
func (r *Router) findServer(acceptedPort int, host string) *config.ServerRule {
	candidates := r.model.ServersOnPort(acceptedPort)
	if len(candidates) == 0 {
		return nil
	}
	for _, s := range candidates {
		if s.MatchesHost(host) {
			return s
		}
	}
	return candidates[0]
}

// findLocation implements longest-prefix matching with the boundary
// rule: the request path must either equal the prefix, have the
// prefix be "/", or have the character immediately following the
// prefix be "/". Ties (equal-length matches) are broken by
// declaration order, which the linear left-to-right scan preserves
// naturally since we only replace the best match on strictly greater
// length.
func findLocation(srv *config.ServerRule, path string) *config.LocationRule {
	var best *config.LocationRule
	bestLen := -1
	for i := range srv.Locations {
		loc := &srv.Locations[i]
		if !isPrefixMatch(loc.Prefix, path) {
			continue
		}
		if len(loc.Prefix) > bestLen {
			best = loc
			bestLen = len(loc.Prefix)
		}
	}
	return best
}

func isPrefixMatch(prefix, path string) bool {
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	if prefix == "/" {
		return true
	}
	if len(path) == len(prefix) {
		return true
	}
	return path[len(prefix)] == '/'
}

