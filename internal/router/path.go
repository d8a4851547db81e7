package router

import (
	"net/url"
	"path/filepath"
	"strings"

	"github.com/yourusername/webserv/internal/config"
)

// pathError carries the HTTP status a path-resolution failure maps to.
type pathError struct {
	code int
}

func (e *pathError) Error() string { return "router: path resolution failed" }

// resolvePath decodes percent-escapes, lexically sanitizes the
// request path, strips the location's prefix, and joins the remainder
// onto the location's filesystem root. The result is rejected with
// 403 if it would escape location.Root once symlinks are resolved.
func resolvePath(loc *config.LocationRule, reqPath string) (string, *pathError) {
	decoded, err := url.PathUnescape(reqPath)
	if err != nil {
		return "", &pathError{code: 400}
	}

	clean := sanitizeSegments(decoded)

	rel := strings.TrimPrefix(clean, loc.Prefix)
	rel = strings.TrimPrefix(rel, "/")

	joined := filepath.Join(loc.Root, rel)

	resolvedRoot, err := filepath.EvalSymlinks(loc.Root)
	if err != nil {
		resolvedRoot = loc.Root
	}
	resolvedJoined, err := filepath.EvalSymlinks(joined)
	if err != nil {
		// Target doesn't exist yet (e.g. a DELETE on an absent file, or
		// an upload destination) — fall back to the lexical path and
		// let the filesystem call that follows report ENOENT.
		resolvedJoined = joined
	}

	if !withinRoot(resolvedRoot, resolvedJoined) {
		return "", &pathError{code: 403}
	}
	return joined, nil
}

func withinRoot(root, target string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel))
}

// sanitizeSegments applies the "." skip / ".." pop / empty-collapse
// rule to a decoded path, never popping above the root.
func sanitizeSegments(p string) string {
	parts := strings.Split(p, "/")
	var out []string
	for _, seg := range parts {
		switch seg {
		case "", ".":
			continue
		case "..":
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
		default:
			out = append(out, seg)
		}
	}
	return "/" + strings.Join(out, "/")
}
