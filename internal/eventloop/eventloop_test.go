package eventloop

import (
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/yourusername/webserv/internal/config"
	"github.com/yourusername/webserv/internal/router"
)

// testPort is a high, rarely-used port chosen fixed rather than
// kernel-assigned, since Listen() binds every configured port up
// front and the test only needs one reliable target to dial.
const testPort = 18532

func TestEventLoopServesStaticFileEndToEnd(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "index.html"), []byte("hello from the event loop"), 0o644))

	model := &config.Model{Servers: []config.ServerRule{{
		Port:        testPort,
		Host:        "127.0.0.1",
		ServerNames: []string{"localhost"},
		Locations: []config.LocationRule{{
			Prefix:  "/",
			Root:    root,
			Index:   "index.html",
			Methods: map[string]bool{"GET": true},
		}},
	}}}

	rtr := router.New(model)
	loop, err := New(model, rtr, nil)
	require.NoError(t, err)
	require.NoError(t, loop.Listen())

	done := make(chan error, 1)
	go func() { done <- loop.Run() }()
	defer func() {
		loop.Shutdown()
		<-done
	}()

	addr := "127.0.0.1:" + strconv.Itoa(testPort)
	var conn net.Conn
	for i := 0; i < 100; i++ {
		conn, err = net.DialTimeout("tcp", addr, 100*time.Millisecond)
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("GET /index.html HTTP/1.1\r\nHost: localhost\r\nConnection: close\r\n\r\n"))
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 4096)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	got := string(buf[:n])
	require.Contains(t, got, "200 OK")
	require.Contains(t, got, "hello from the event loop")
}

func TestBindAddrsDeduplicatesExactPairs(t *testing.T) {
	model := &config.Model{Servers: []config.ServerRule{
		{Host: "127.0.0.1", Port: 80},
		{Host: "127.0.0.1", Port: 80},
		{Host: "127.0.0.2", Port: 80},
	}}
	require.Equal(t, []config.BindAddr{
		{Host: "127.0.0.1", Port: 80},
		{Host: "127.0.0.2", Port: 80},
	}, model.BindAddrs())
}

func TestMaxBodySizeForPortUsesLargestConfigured(t *testing.T) {
	model := &config.Model{Servers: []config.ServerRule{
		{Port: 80, MaxBodySize: 1024},
		{Port: 80, MaxBodySize: 4096},
	}}
	require.EqualValues(t, 4096, maxBodySizeForPort(model, 80))
}
