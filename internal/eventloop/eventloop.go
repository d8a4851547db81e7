// Package eventloop is the single-threaded, readiness-driven server
// core: it owns every listening socket, every accepted Connection, and
// every in-flight CGI process, waits on one readiness notifier per
// iteration, and dispatches reads and writes without ever blocking in
// the main loop.
package eventloop

import (
	"fmt"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/valyala/bytebufferpool"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/yourusername/webserv/internal/applog"
	"github.com/yourusername/webserv/internal/cgi"
	"github.com/yourusername/webserv/internal/config"
	"github.com/yourusername/webserv/internal/conn"
	"github.com/yourusername/webserv/internal/httpparse"
	"github.com/yourusername/webserv/internal/response"
	"github.com/yourusername/webserv/internal/router"
)

// listenBacklog is the pending-connection queue depth passed to listen(2).
const listenBacklog = 128

// waitTimeoutMs bounds each readiness wait, so the idle sweep and the
// cooperative shutdown-flag check both run at least this often even
// under no traffic.
const waitTimeoutMs = 1000

// DefaultIdleTimeout closes a connection that has seen no I/O for
// this long.
const DefaultIdleTimeout = 60 * time.Second

// EventLoop accepts clients on every configured (host, port), drives
// each Connection's read/dispatch/write cycle, drives every in-flight
// CGI process's pipes to completion, and enforces idle and CGI
// timeouts. It is not safe for concurrent use — by design, it only
// ever runs on the goroutine that called Run.
type EventLoop struct {
	model  *config.Model
	router *router.Router
	log    *zap.Logger

	poller      poller
	listeners   map[int]int // listening fd -> bound port
	conns       map[int]*conn.Connection
	idleTimeout time.Duration

	cgiJobs     map[*cgiJob]struct{}
	cgiByStdout map[int]*cgiJob
	cgiByStdin  map[int]*cgiJob

	// running is atomic because Shutdown is called from the signal
	// relay goroutine while Run reads it on the loop's own goroutine;
	// everything else in this struct stays single-goroutine.
	running atomic.Bool
}

// cgiJob ties a running CGI process back to the connection awaiting
// its response and the request facts the eventual access-log entry
// needs (the Router has already returned by the time the process
// finishes, so nothing else keeps these around).
type cgiJob struct {
	proc   *cgi.Process
	conn   *conn.Connection
	method string
	path   string
	start  time.Time

	timedOut bool
	failed   bool
}

// New builds an EventLoop for model, serving requests through rtr.
func New(model *config.Model, rtr *router.Router, log *zap.Logger) (*EventLoop, error) {
	p, err := newPoller()
	if err != nil {
		return nil, fmt.Errorf("eventloop: creating readiness notifier: %w", err)
	}
	return &EventLoop{
		model:       model,
		router:      rtr,
		log:         log,
		poller:      p,
		listeners:   make(map[int]int),
		conns:       make(map[int]*conn.Connection),
		idleTimeout: DefaultIdleTimeout,
		cgiJobs:     make(map[*cgiJob]struct{}),
		cgiByStdout: make(map[int]*cgiJob),
		cgiByStdin:  make(map[int]*cgiJob),
	}, nil
}

// Listen creates, tunes, and registers one non-blocking listening
// socket per distinct (host, port) pair in the model.
func (e *EventLoop) Listen() error {
	for _, addr := range e.model.BindAddrs() {
		fd, err := bindListener(addr.Host, addr.Port)
		if err != nil {
			return fmt.Errorf("eventloop: listen on %s:%d: %w", addr.Host, addr.Port, err)
		}
		if err := e.poller.add(fd, false); err != nil {
			unix.Close(fd)
			return fmt.Errorf("eventloop: registering listener %s:%d: %w", addr.Host, addr.Port, err)
		}
		e.listeners[fd] = addr.Port
		if e.log != nil {
			e.log.Info("listening", zap.String("host", addr.Host), zap.Int("port", addr.Port))
		}
	}
	return nil
}

// maxBodySizeForPort is the largest client_max_body_size configured
// among server blocks sharing port: the exact server isn't known
// until the Host header arrives, so the parser is given the most
// permissive ceiling and the Router independently re-checks once the
// matching ServerRule is known. In practice servers sharing a port
// are expected to use the same limit.
func maxBodySizeForPort(model *config.Model, port int) int64 {
	var max int64
	for _, s := range model.ServersOnPort(port) {
		if s.MaxBodySize > max {
			max = s.MaxBodySize
		}
	}
	if max == 0 {
		return httpparse.DefaultMaxBodySize
	}
	return max
}

// bindListener creates a non-blocking IPv4 TCP socket, applies
// SO_REUSEADDR, binds, and starts listening.
func bindListener(host string, port int) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, err
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, err
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, err
	}
	sa, err := sockaddrFor(host, port)
	if err != nil {
		unix.Close(fd)
		return -1, err
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, err
	}
	if err := unix.Listen(fd, listenBacklog); err != nil {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

func sockaddrFor(host string, port int) (unix.Sockaddr, error) {
	ip := net.ParseIP(host)
	if host == "" || ip == nil {
		ip = net.IPv4zero
	}
	ip4 := ip.To4()
	if ip4 == nil {
		return nil, fmt.Errorf("only IPv4 bind addresses are supported, got %q", host)
	}
	addr := &unix.SockaddrInet4{Port: port}
	copy(addr.Addr[:], ip4)
	return addr, nil
}

// Run drives the readiness loop until Shutdown is called or an
// unrecoverable notifier error occurs. This is the event loop's only
// suspension point: wait(); every other branch below returns without
// blocking.
func (e *EventLoop) Run() error {
	e.running.Store(true)
	for e.running.Load() {
		events, err := e.poller.wait(waitTimeoutMs)
		if err != nil {
			return fmt.Errorf("eventloop: readiness wait: %w", err)
		}
		for _, ev := range events {
			e.dispatch(ev)
		}
		now := time.Now()
		e.sweepIdle(now)
		e.sweepCGI(now)
	}
	return e.drain()
}

// Shutdown sets the cooperative shutdown flag read at the top of
// every Run iteration; signal handlers call this instead of acting on
// the main loop's goroutine directly. The bounded readiness wait means
// Run notices within one waitTimeoutMs interval at worst.
func (e *EventLoop) Shutdown() {
	e.running.Store(false)
}

// drain closes every listening socket (refusing new work) and every
// still-open connection, then releases the notifier.
func (e *EventLoop) drain() error {
	for fd := range e.listeners {
		e.poller.remove(fd)
		unix.Close(fd)
	}
	for fd, c := range e.conns {
		e.poller.remove(fd)
		c.Close()
		delete(e.conns, fd)
	}
	for job := range e.cgiJobs {
		job.proc.Abort()
	}
	return e.poller.close()
}

func (e *EventLoop) dispatch(ev Event) {
	if port, ok := e.listeners[ev.FD]; ok {
		if ev.Readable {
			e.acceptAll(ev.FD, port)
		}
		return
	}

	if job, ok := e.cgiByStdout[ev.FD]; ok {
		if ev.Readable {
			e.handleCGIReadable(job)
		}
		return
	}
	if job, ok := e.cgiByStdin[ev.FD]; ok {
		if ev.Writable {
			e.handleCGIWritable(job)
		}
		return
	}

	c, ok := e.conns[ev.FD]
	if !ok {
		return
	}
	switch c.State {
	case conn.StateReading:
		if ev.Readable {
			e.handleRead(c)
		}
	case conn.StateWriting:
		if ev.Writable {
			e.handleWrite(c)
		}
	}
}

// acceptAll drains the listening socket's accept queue: level-
// triggered readiness only fires once per batch of pending
// connections, so every ready connection must be accepted before
// returning to wait().
func (e *EventLoop) acceptAll(listenFD, port int) {
	for {
		nfd, sa, err := unix.Accept(listenFD)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return
			}
			if e.log != nil {
				e.log.Warn("accept failed", zap.Int("port", port), zap.Error(err))
			}
			return
		}
		if err := unix.SetNonblock(nfd, true); err != nil {
			unix.Close(nfd)
			continue
		}

		peerAddr, peerPort := peerFromSockaddr(sa)
		c := conn.New(nfd, peerAddr, peerPort, port, time.Now())
		c.SetMaxBodySize(maxBodySizeForPort(e.model, port))
		e.conns[nfd] = c
		if err := e.poller.add(nfd, false); err != nil {
			c.Close()
			delete(e.conns, nfd)
			continue
		}
	}
}

func peerFromSockaddr(sa unix.Sockaddr) (string, int) {
	if v4, ok := sa.(*unix.SockaddrInet4); ok {
		ip := net.IP(v4.Addr[:])
		return ip.String(), v4.Port
	}
	return "", 0
}

// handleRead drives one readiness-triggered recv() and, once the
// parser reports a terminal outcome, invokes the Router. A CGI match
// hands the connection off to beginCGI instead of writing a response
// immediately; everything else moves straight to StateWriting.
func (e *EventLoop) handleRead(c *conn.Connection) {
	start := time.Now()
	status, req, code, err := c.ReadReady(start)
	if err != nil || c.State == conn.StateError {
		e.closeConn(c)
		return
	}
	if c.State == conn.StateClosed {
		e.closeConn(c)
		return
	}

	e.dispatchParsed(c, status, req, code, start)
}

// dispatchParsed acts on one parser outcome: nothing yet, a malformed
// request answered with its error code, or a complete request handed
// to the Router (and possibly parked on a CGI process).
func (e *EventLoop) dispatchParsed(c *conn.Connection, status httpparse.Status, req *httpparse.Request, code int, start time.Time) {
	switch status {
	case httpparse.StatusNeedMore:
		return

	case httpparse.StatusFailed:
		c.KeepAlive = false
		// The Router sees Request.ErrorCode and answers without
		// consulting config, using the default error page.
		resp, _ := e.router.Route(req, c.AcceptedPort, router.PeerInfo{
			RemoteAddr: c.PeerAddr,
			RemotePort: strconv.Itoa(c.PeerPort),
		})
		resp.KeepAlive = false
		e.finishRequest(c, "", "", code, start, resp)

	case httpparse.StatusComplete:
		c.KeepAlive = conn.DecideKeepAlive(req)
		peer := router.PeerInfo{
			RemoteAddr: c.PeerAddr,
			RemotePort: strconv.Itoa(c.PeerPort),
		}
		resp, proc := e.router.Route(req, c.AcceptedPort, peer)
		if proc != nil {
			e.beginCGI(c, proc, req.Method, req.Path, start)
			return
		}
		resp.KeepAlive = c.KeepAlive
		e.finishRequest(c, req.Method, req.Path, resp.Code, start, resp)
	}
}

func (e *EventLoop) finishRequest(c *conn.Connection, method, path string, status int, start time.Time, resp *response.Response) {
	buf := response.Write(resp, time.Now())
	if e.log != nil {
		applog.Access(e.log, method, path, status, time.Since(start), buf.Len(), c.PeerAddr)
	}
	// BeginWrite copies buf's bytes into the connection's own write
	// buffer, so it's safe to return buf to the pool immediately after.
	c.BeginWrite(buf.B)
	bytebufferpool.Put(buf)
	e.poller.modify(c.FD, true)
}

func (e *EventLoop) handleWrite(c *conn.Connection) {
	drained, err := c.WriteReady(time.Now())
	if err != nil {
		e.closeConn(c)
		return
	}
	if !drained {
		return
	}

	if c.KeepAlive {
		c.Reset()
		e.poller.modify(c.FD, false)
		// A pipelined follow-up request may already be sitting in the
		// parser's buffer; an empty Feed resumes it without waiting for
		// the socket to become readable again.
		status, req, code := c.Parser.Feed(nil)
		e.dispatchParsed(c, status, req, code, time.Now())
		return
	}
	e.closeConn(c)
}

// beginCGI parks the client connection (it is neither read from nor
// written to while its script runs) and registers the process's pipes
// with the poller: stdout for read-readiness always, stdin for
// write-readiness only if the request carried a body the process
// hasn't already fully consumed.
func (e *EventLoop) beginCGI(c *conn.Connection, proc *cgi.Process, method, path string, start time.Time) {
	e.poller.remove(c.FD)
	c.State = conn.StateCGI

	job := &cgiJob{proc: proc, conn: c, method: method, path: path, start: start}
	e.cgiJobs[job] = struct{}{}

	stdoutFD := proc.StdoutFD()
	if err := e.poller.add(stdoutFD, false); err != nil {
		e.finishCGIStartFailure(job)
		return
	}
	e.cgiByStdout[stdoutFD] = job

	if fd, ok := proc.StdinFD(); ok {
		if err := e.poller.add(fd, true); err != nil {
			// The body can't be delivered; give the child EOF now so it
			// doesn't sit waiting on stdin until the timeout.
			proc.CloseStdin()
			job.failed = true
		} else {
			e.cgiByStdin[fd] = job
		}
	}
}

// finishCGIStartFailure handles the rare case where the process's own
// pipes couldn't be registered with the poller; the child is killed
// and reaped immediately rather than left to run unsupervised.
func (e *EventLoop) finishCGIStartFailure(job *cgiJob) {
	job.proc.Abort()
	delete(e.cgiJobs, job)
	e.respondCGI(job, response.Error(500, nil))
}

func (e *EventLoop) handleCGIWritable(job *cgiJob) {
	fd, ok := job.proc.StdinFD()
	if !ok {
		return
	}
	done, err := job.proc.WriteReady()
	if err != nil {
		job.failed = true
		job.proc.Terminate()
	}
	if done || err != nil {
		e.poller.remove(fd)
		delete(e.cgiByStdin, fd)
	}
}

func (e *EventLoop) handleCGIReadable(job *cgiJob) {
	fd := job.proc.StdoutFD()
	eof, err := job.proc.ReadReady()
	if err != nil {
		job.failed = true
		eof = true
	}
	if !eof {
		return
	}
	e.poller.remove(fd)
	delete(e.cgiByStdout, fd)
	if job.proc.Reap() {
		e.finalizeCGI(job)
	}
	// Otherwise the child hasn't exited yet even though it closed its
	// stdout; sweepCGI keeps retrying the reap every iteration.
}

// sweepCGI enforces each job's wall-clock timeout (SIGTERM, then
// SIGKILL after killGrace) and retries the non-blocking reap for any
// job whose child hasn't been waited on yet, finalizing it the moment
// both its stdout is drained and its exit status is known.
func (e *EventLoop) sweepCGI(now time.Time) {
	for job := range e.cgiJobs {
		if !job.timedOut && job.proc.Expired(now) {
			job.timedOut = true
			job.proc.Terminate()
		}
		if job.timedOut && job.proc.KillGraceExpired(now) {
			job.proc.ForceKill()
		}
		if !job.proc.Reap() {
			continue
		}
		if job.proc.StdoutOpen() {
			continue
		}
		e.finalizeCGI(job)
	}
}

// finalizeCGI converts a fully-reaped, fully-drained process into a
// Response and resumes its connection.
func (e *EventLoop) finalizeCGI(job *cgiJob) {
	delete(e.cgiJobs, job)

	var resp *response.Response
	switch {
	case job.timedOut:
		resp = response.Error(504, nil)
	case job.failed:
		resp = response.Error(500, nil)
	default:
		r, code := job.proc.Finish()
		if code != 0 {
			resp = response.Error(code, nil)
		} else {
			resp = r
		}
	}
	job.proc.Close()
	e.respondCGI(job, resp)
}

// respondCGI re-registers the parked connection's socket and hands it
// the finished response, mirroring the normal request path's
// finishRequest call.
func (e *EventLoop) respondCGI(job *cgiJob, resp *response.Response) {
	c := job.conn
	resp.KeepAlive = c.KeepAlive
	if err := e.poller.add(c.FD, false); err != nil {
		e.closeConn(c)
		return
	}
	e.finishRequest(c, job.method, job.path, resp.Code, job.start, resp)
}

// sweepIdle closes every connection whose last activity is older than
// idleTimeout. Connections parked in StateCGI are excluded: they are
// being actively serviced by their CGI process, not idle.
func (e *EventLoop) sweepIdle(now time.Time) {
	for _, c := range e.conns {
		if c.State == conn.StateCGI {
			continue
		}
		if c.IdleDuration(now) > e.idleTimeout {
			e.closeConn(c)
		}
	}
}

func (e *EventLoop) closeConn(c *conn.Connection) {
	e.poller.remove(c.FD)
	c.Close()
	delete(e.conns, c.FD)
}
