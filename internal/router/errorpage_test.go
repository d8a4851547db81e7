package router

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/yourusername/webserv/internal/config"
)

func TestErrorPageForServesConfiguredFile(t *testing.T) {
	root := t.TempDir()
	errPage := filepath.Join(root, "404.html")
	require.NoError(t, os.WriteFile(errPage, []byte("<h1>not found</h1>"), 0o644))

	model := &config.Model{Servers: []config.ServerRule{{
		Port:        8080,
		ServerNames: []string{"localhost"},
		ErrorPages:  map[int]string{404: errPage},
		Locations:   []config.LocationRule{{Prefix: "/", Root: root, Methods: map[string]bool{"GET": true}}},
	}}}
	r := New(model)

	req := newTestRequest("GET", "/missing.txt", "localhost")
	resp, _ := r.Route(req, 8080, PeerInfo{})
	require.Equal(t, 404, resp.Code)
	require.Equal(t, "<h1>not found</h1>", string(resp.Body))
}

func TestErrorPageForPicksUpChangedFile(t *testing.T) {
	root := t.TempDir()
	errPage := filepath.Join(root, "500.html")
	require.NoError(t, os.WriteFile(errPage, []byte("first"), 0o644))

	srv := &config.ServerRule{ErrorPages: map[int]string{500: errPage}}
	r := New(&config.Model{})

	resp := r.errorPageFor(srv, 500)
	require.Equal(t, "first", string(resp.Body))

	// Bump the mtime forward so the cache is forced to notice the change
	// even if the filesystem's timestamp resolution is coarse.
	future := time.Now().Add(time.Second)
	require.NoError(t, os.WriteFile(errPage, []byte("second"), 0o644))
	require.NoError(t, os.Chtimes(errPage, future, future))

	resp2 := r.errorPageFor(srv, 500)
	require.Equal(t, "second", string(resp2.Body))
}

func TestErrorPageForFallsBackWhenFileMissing(t *testing.T) {
	srv := &config.ServerRule{ErrorPages: map[int]string{403: "/does/not/exist.html"}}
	r := New(&config.Model{})
	resp := r.errorPageFor(srv, 403)
	require.Equal(t, 403, resp.Code)
}
