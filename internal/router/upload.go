package router

import (
	"io"
	"mime"
	"mime/multipart"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/yourusername/webserv/internal/config"
	"github.com/yourusername/webserv/internal/httpparse"
	"github.com/yourusername/webserv/internal/response"
)

func (r *Router) handlePost(srv *config.ServerRule, loc *config.LocationRule, req *httpparse.Request, resolved string) *response.Response {
	if loc.UploadDir == "" {
		return r.errorPageFor(srv, 404)
	}

	contentType := req.Headers.Get("Content-Type")
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return r.errorPageFor(srv, 400)
	}

	var saved []string
	switch {
	case mediaType == "multipart/form-data":
		saved, err = saveMultipart(loc.UploadDir, req.Body, params["boundary"])
	case mediaType == "application/x-www-form-urlencoded":
		saved, err = saveURLEncoded(loc.UploadDir, req.Body)
	default:
		return r.errorPageFor(srv, 415)
	}
	if err != nil {
		return r.errorPageFor(srv, 500)
	}

	resp := response.New(201)
	resp.Headers.Set("Content-Type", "text/html")
	resp.Body = []byte("<html><body><h1>Upload complete</h1><ul>" + listSaved(saved) + "</ul></body></html>")
	return resp
}

func listSaved(names []string) string {
	var b strings.Builder
	for _, n := range names {
		b.WriteString("<li>")
		b.WriteString(n)
		b.WriteString("</li>")
	}
	return b.String()
}

// saveMultipart writes each file part in body to uploadDir under a
// sanitized, uniquified name, returning the names written.
func saveMultipart(uploadDir string, body []byte, boundary string) ([]string, error) {
	if boundary == "" {
		return nil, errNoBoundary
	}
	mr := multipart.NewReader(strings.NewReader(string(body)), boundary)
	var saved []string
	for {
		part, err := mr.NextPart()
		if err != nil {
			break
		}
		if part.FileName() == "" {
			continue
		}
		name := uniquifyName(sanitizeFilename(part.FileName()))
		dst, err := os.Create(filepath.Join(uploadDir, name))
		if err != nil {
			return saved, err
		}
		_, copyErr := io.Copy(dst, part)
		dst.Close()
		if copyErr != nil {
			return saved, copyErr
		}
		saved = append(saved, name)
	}
	return saved, nil
}

// saveURLEncoded stores the URL-decoded body (or the raw body, if it
// fails to decode) as a single uploaded file, since
// application/x-www-form-urlencoded carries no filename.
func saveURLEncoded(uploadDir string, body []byte) ([]string, error) {
	decoded, err := url.QueryUnescape(string(body))
	if err != nil {
		decoded = string(body)
	}
	name := uniquifyName("upload.txt")
	if err := os.WriteFile(filepath.Join(uploadDir, name), []byte(decoded), 0o644); err != nil {
		return nil, err
	}
	return []string{name}, nil
}

func sanitizeFilename(name string) string {
	name = filepath.Base(name)
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
	if name == "" {
		name = "file"
	}
	return name
}

// uniquifyName prefixes name with a UUID so concurrent or repeated
// uploads of the same filename never collide.
func uniquifyName(name string) string {
	return uuid.NewString() + "-" + name
}

var errNoBoundary = multipartBoundaryError{}

type multipartBoundaryError struct{}

func (multipartBoundaryError) Error() string { return "router: multipart request missing boundary" }
