package router

import (
	"errors"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/yourusername/webserv/internal/config"
	"github.com/yourusername/webserv/internal/response"
)

func readFileBody(path string) ([]byte, error) {
	return os.ReadFile(path)
}

func (r *Router) handleGet(srv *config.ServerRule, loc *config.LocationRule, resolved string) *response.Response {
	info, err := os.Stat(resolved)
	if err != nil {
		return r.errorPageFor(srv, statError(err))
	}

	if info.IsDir() {
		return r.serveDirectory(srv, loc, resolved)
	}
	return r.serveFile(srv, resolved)
}

func (r *Router) serveFile(srv *config.ServerRule, path string) *response.Response {
	body, err := readFileBody(path)
	if err != nil {
		return r.errorPageFor(srv, statError(err))
	}
	return response.OK(body, response.MIMEType(filepath.Ext(path)))
}

func statError(err error) int {
	switch {
	case errors.Is(err, os.ErrNotExist):
		return 404
	case errors.Is(err, os.ErrPermission):
		return 403
	default:
		return 500
	}
}

func (r *Router) serveDirectory(srv *config.ServerRule, loc *config.LocationRule, dirPath string) *response.Response {
	if loc.Index != "" {
		indexPath := filepath.Join(dirPath, loc.Index)
		if info, err := os.Stat(indexPath); err == nil && !info.IsDir() {
			return r.serveFile(srv, indexPath)
		}
	}
	if loc.Autoindex {
		return r.listDirectory(srv, loc, dirPath)
	}
	return r.errorPageFor(srv, 403)
}

type listingEntry struct {
	name    string
	isDir   bool
	size    int64
	modTime string
}

func (r *Router) listDirectory(srv *config.ServerRule, loc *config.LocationRule, dirPath string) *response.Response {
	entries, err := os.ReadDir(dirPath)
	if err != nil {
		return r.errorPageFor(srv, statError(err))
	}

	var rows []listingEntry
	atRoot, _ := filepath.Abs(dirPath)
	rootAbs, _ := filepath.Abs(loc.Root)
	if atRoot != rootAbs {
		rows = append(rows, listingEntry{name: "..", isDir: true})
	}

	for _, e := range entries {
		if e.Name() == "." {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		rows = append(rows, listingEntry{
			name:    e.Name(),
			isDir:   e.IsDir(),
			size:    info.Size(),
			modTime: info.ModTime().Format("2006-01-02 15:04"),
		})
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].name == ".." {
			return true
		}
		if rows[j].name == ".." {
			return false
		}
		if rows[i].isDir != rows[j].isDir {
			return rows[i].isDir
		}
		return strings.ToLower(rows[i].name) < strings.ToLower(rows[j].name)
	})

	body := renderListing(rows)
	return response.OK(body, "text/html")
}

func renderListing(rows []listingEntry) []byte {
	var b strings.Builder
	b.WriteString("<html><body><table>\n")
	for _, e := range rows {
		name := e.name
		sizeCell := ""
		if e.isDir {
			name += "/"
		} else {
			sizeCell = humanSize(e.size)
		}
		b.WriteString("<tr><td>")
		b.WriteString(html.EscapeString(name))
		b.WriteString("</td><td>")
		b.WriteString(html.EscapeString(sizeCell))
		b.WriteString("</td><td>")
		b.WriteString(html.EscapeString(e.modTime))
		b.WriteString("</td></tr>\n")
	}
	b.WriteString("</table></body></html>")
	return []byte(b.String())
}

func humanSize(n int64) string {
	const (
		kb = 1 << 10
		mb = 1 << 20
		gb = 1 << 30
	)
	switch {
	case n >= gb:
		return fmt.Sprintf("%.1fGB", float64(n)/gb)
	case n >= mb:
		return fmt.Sprintf("%.1fMB", float64(n)/mb)
	case n >= kb:
		return fmt.Sprintf("%.1fKB", float64(n)/kb)
	default:
		return fmt.Sprintf("%dB", n)
	}
}
