// Package conn models one accepted peer: its raw non-blocking socket,
// write buffer, lifecycle state, and the Request parser it owns.
package conn

import (
	"time"

	"github.com/valyala/bytebufferpool"
	"golang.org/x/sys/unix"

	"github.com/yourusername/webserv/internal/httpparse"
)

// State is the connection's position in its read/dispatch/write cycle.
type State uint8

const (
	// StateReading means the connection is waiting for readable bytes
	// to feed the parser.
	StateReading State = iota
	// StateWriting means a Response is buffered and draining to the peer.
	StateWriting
	// StateClosed means the socket has been closed and the Connection
	// is ready to be dropped from the event loop's table.
	StateClosed
	// StateError means an unrecoverable I/O error occurred; treated
	// the same as StateClosed by the sweep, kept distinct for logging.
	StateError
	// StateCGI means the request has been handed off to a CGI process
	// and the connection's socket is parked: the event loop neither
	// reads nor writes it again until the process finishes and hands
	// back a Response.
	StateCGI
)

// stagingSize bounds a single recv() call: large enough to make few
// syscalls, small enough to bound per-iteration latency under many
// connections.
const stagingSize = 16 * 1024

// Connection owns a peer socket from accept to close. The EventLoop
// holds these in a map keyed by fd; nothing else retains a reference
// across readiness iterations.
type Connection struct {
	FD           int
	PeerAddr     string
	PeerPort     int
	AcceptedPort int

	ConnectedAt  time.Time
	LastActivity time.Time

	State State

	// writeBuf holds the serialized Response draining to the peer.
	// The read side needs no equivalent buffer: Parser.Feed keeps its
	// own pending bytes internally, so Connection only stages one
	// recv() at a time before handing it to the parser.
	writeBuf *bytebufferpool.ByteBuffer
	writeOff int

	Parser *httpparse.Parser

	// KeepAlive is decided by the Router/Connection from the request's
	// version and Connection header, and mirrored into the Response
	// before it is serialized.
	KeepAlive bool

	// Requests counts request/response cycles after which this one
	// socket was reset for keep-alive, for the "one socket per N
	// keep-alive requests" invariant.
	Requests int
}

// New wraps an already-accepted, already-non-blocking fd.
func New(fd int, peerAddr string, peerPort, acceptedPort int, now time.Time) *Connection {
	return &Connection{
		FD:           fd,
		PeerAddr:     peerAddr,
		PeerPort:     peerPort,
		AcceptedPort: acceptedPort,
		ConnectedAt:  now,
		LastActivity: now,
		State:        StateReading,
		writeBuf:     bytebufferpool.Get(),
		Parser:       httpparse.NewParser(),
	}
}

// SetMaxBodySize configures the parser's body-size ceiling, normally
// called once right after New with the matching ServerRule's limit
// (the accepting port may front several servers with different
// limits, so the caller resolves which one applies before the first
// byte is parsed — in practice the largest configured limit for the
// port, since the exact server isn't known until the Host header
// arrives).
func (c *Connection) SetMaxBodySize(n int64) {
	c.Parser.SetMaxBodySize(n)
}

// ReadReady performs one recv() and feeds whatever arrived to the
// parser. EOF (a zero-byte read) moves the connection to StateClosed,
// any other read error (ECONNRESET included) to StateError;
// EAGAIN/EWOULDBLOCK is not an error, just "nothing to do yet".
func (c *Connection) ReadReady(now time.Time) (httpparse.Status, *httpparse.Request, int, error) {
	staging := make([]byte, stagingSize)
	n, err := unix.Read(c.FD, staging)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return httpparse.StatusNeedMore, nil, 0, nil
		}
		c.State = StateError
		return httpparse.StatusNeedMore, nil, 0, err
	}
	if n == 0 {
		c.State = StateClosed
		return httpparse.StatusNeedMore, nil, 0, nil
	}

	c.LastActivity = now
	status, req, code := c.Parser.Feed(staging[:n])
	return status, req, code, nil
}

// BeginWrite loads the serialized response bytes and switches to
// StateWriting.
func (c *Connection) BeginWrite(body []byte) {
	c.writeBuf.Reset()
	c.writeBuf.Write(body)
	c.writeOff = 0
	c.State = StateWriting
}

// WriteReady sends as much of the write buffer as the socket accepts.
// It returns true once the whole buffer has drained.
func (c *Connection) WriteReady(now time.Time) (drained bool, err error) {
	buf := c.writeBuf.B
	for c.writeOff < len(buf) {
		n, werr := unix.Write(c.FD, buf[c.writeOff:])
		if werr != nil {
			if werr == unix.EAGAIN || werr == unix.EWOULDBLOCK {
				return false, nil
			}
			c.State = StateError
			return false, werr
		}
		c.writeOff += n
		c.LastActivity = now
	}
	return true, nil
}

// Reset prepares the connection for the next keep-alive request:
// buffers and parser state are cleared, socket and timestamps
// survive.
func (c *Connection) Reset() {
	c.writeBuf.Reset()
	c.writeOff = 0
	c.Parser.Reset()
	c.State = StateReading
	c.Requests++
}

// IdleDuration reports how long it has been since the last successful
// I/O event, for the event loop's idle-timeout sweep.
func (c *Connection) IdleDuration(now time.Time) time.Duration {
	return now.Sub(c.LastActivity)
}

// Close releases the socket and returns the write buffer to the pool.
// Idempotent: closing an already-closed Connection is a no-op.
func (c *Connection) Close() error {
	if c.State == StateClosed && c.writeBuf == nil {
		return nil
	}
	err := unix.Close(c.FD)
	if c.writeBuf != nil {
		bytebufferpool.Put(c.writeBuf)
		c.writeBuf = nil
	}
	c.State = StateClosed
	return err
}
