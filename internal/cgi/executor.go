package cgi

import (
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/yourusername/webserv/internal/response"
)

// DefaultTimeout is the wall-clock budget a CGI script gets from fork
// to completion before it is killed.
const DefaultTimeout = 30 * time.Second

// killGrace is how long a SIGTERM'd child is given before SIGKILL.
const killGrace = 2 * time.Second

// stagingSize bounds a single read from the child's stdout pipe.
const stagingSize = 16 * 1024

// Executor validates and starts CGI scripts. It holds no state across
// calls; one Executor is shared by every request the Router handles.
type Executor struct {
	Timeout time.Duration
}

// NewExecutor returns an Executor using DefaultTimeout.
func NewExecutor() *Executor {
	return &Executor{Timeout: DefaultTimeout}
}

// Process is one running (or finished) CGI child. Its stdin and
// stdout pipes are plain non-blocking file descriptors: nothing in
// this type ever blocks the calling goroutine, so a caller can drive
// it from a readiness-notification loop exactly like a client socket,
// polling StdinFD/StdoutFD and calling WriteReady/ReadReady only when
// the poller reports those fds ready.
type Process struct {
	cmd *exec.Cmd
	pid int

	stdin  *os.File
	stdout *os.File

	// stdinFD and stdoutFD are captured once, after the pipes are made
	// non-blocking: each os.File.Fd call switches the fd back to
	// blocking mode, so the methods below never call it again.
	stdinFD  int
	stdoutFD int

	writeBuf  []byte
	writeOff  int
	stdinOpen bool

	output     []byte
	stdoutOpen bool

	deadline time.Time
	killedAt time.Time
	reaped   bool
	exitOK   bool
}

// Start validates the script and interpreter and forks the child with
// its stdin and stdout wired to non-blocking pipes. It never waits for
// the child to produce output or exit — Process's methods are driven
// to completion by the caller's own readiness loop. The second return
// value is a nonzero HTTP status when validation failed before any
// process was started; the caller must not use the returned Process
// in that case.
func (e *Executor) Start(req Request) (*Process, int) {
	scriptInfo, err := os.Stat(req.ScriptPath)
	if err != nil {
		return nil, 404
	}
	if scriptInfo.IsDir() || !isExecutable(scriptInfo) {
		return nil, 403
	}

	interpInfo, err := os.Stat(req.Interpreter)
	if err != nil || interpInfo.IsDir() || !isExecutable(interpInfo) {
		return nil, 500
	}

	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		return nil, 500
	}
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		stdinR.Close()
		stdinW.Close()
		return nil, 500
	}

	cmd := exec.Command(req.Interpreter, filepath.Base(req.ScriptPath))
	cmd.Dir = filepath.Dir(req.ScriptPath)
	cmd.Env = buildEnv(req)
	cmd.Stdin = stdinR
	cmd.Stdout = stdoutW

	startErr := cmd.Start()
	// The child now holds its own dup of both ends; the parent's
	// copies of the child's ends must close so the parent's read on
	// stdoutR eventually sees EOF instead of blocking on a pipe it is
	// itself still holding open.
	stdinR.Close()
	stdoutW.Close()
	if startErr != nil {
		stdinW.Close()
		stdoutR.Close()
		return nil, 500
	}

	stdinFD := int(stdinW.Fd())
	stdoutFD := int(stdoutR.Fd())
	if err := unix.SetNonblock(stdinFD, true); err != nil {
		killAndReap(cmd)
		stdinW.Close()
		stdoutR.Close()
		return nil, 500
	}
	if err := unix.SetNonblock(stdoutFD, true); err != nil {
		killAndReap(cmd)
		stdinW.Close()
		stdoutR.Close()
		return nil, 500
	}

	timeout := e.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	p := &Process{
		cmd:        cmd,
		pid:        cmd.Process.Pid,
		stdin:      stdinW,
		stdout:     stdoutR,
		stdinFD:    stdinFD,
		stdoutFD:   stdoutFD,
		writeBuf:   req.Body,
		stdinOpen:  true,
		stdoutOpen: true,
		deadline:   time.Now().Add(timeout),
	}
	if len(p.writeBuf) == 0 {
		p.closeStdin()
	}
	return p, 0
}

func killAndReap(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	cmd.Process.Kill()
	var ws unix.WaitStatus
	unix.Wait4(cmd.Process.Pid, &ws, 0, nil)
}

func isExecutable(info os.FileInfo) bool {
	return info.Mode()&0o111 != 0
}

// StdinFD reports the pipe fd to poll for write-readiness and whether
// there's still body data to push; false means the caller doesn't
// need to watch it, either because the request carried no body or
// because it has already drained and been closed.
func (p *Process) StdinFD() (int, bool) {
	if !p.stdinOpen {
		return -1, false
	}
	return p.stdinFD, true
}

// StdoutFD is the pipe fd to poll for read-readiness until the script
// closes its stdout (or exits).
func (p *Process) StdoutFD() int {
	return p.stdoutFD
}

// StdoutOpen reports whether the stdout pipe is still open, i.e.
// ReadReady hasn't observed EOF yet.
func (p *Process) StdoutOpen() bool {
	return p.stdoutOpen
}

// WriteReady pushes as much of the buffered request body as the pipe
// accepts right now. It returns true once the body has fully drained
// and stdin has been closed, signalling EOF to the child.
func (p *Process) WriteReady() (done bool, err error) {
	for p.writeOff < len(p.writeBuf) {
		n, werr := unix.Write(p.stdinFD, p.writeBuf[p.writeOff:])
		if werr != nil {
			if werr == unix.EAGAIN || werr == unix.EWOULDBLOCK {
				return false, nil
			}
			if werr == unix.EPIPE {
				// The child stopped reading, most likely because it
				// already exited; that's not itself a write failure.
				p.closeStdin()
				return true, nil
			}
			return false, werr
		}
		p.writeOff += n
	}
	p.closeStdin()
	return true, nil
}

func (p *Process) closeStdin() {
	if p.stdinOpen {
		p.stdin.Close()
		p.stdinOpen = false
	}
}

// CloseStdin signals EOF to the child without waiting for the body to
// drain, for callers that can no longer feed it.
func (p *Process) CloseStdin() {
	p.closeStdin()
}

// ReadReady reads whatever the child has written to stdout so far. It
// returns true once the child has closed its stdout (EOF).
func (p *Process) ReadReady() (eof bool, err error) {
	staging := make([]byte, stagingSize)
	n, rerr := unix.Read(p.stdoutFD, staging)
	if rerr != nil {
		if rerr == unix.EAGAIN || rerr == unix.EWOULDBLOCK {
			return false, nil
		}
		return false, rerr
	}
	if n == 0 {
		p.stdoutOpen = false
		p.stdout.Close()
		return true, nil
	}
	p.output = append(p.output, staging[:n]...)
	return false, nil
}

// Expired reports whether the timeout has elapsed without a
// termination already having been sent.
func (p *Process) Expired(now time.Time) bool {
	return p.killedAt.IsZero() && now.After(p.deadline)
}

// Terminate sends SIGTERM and records when, so the caller can escalate
// to SIGKILL after killGrace elapses.
func (p *Process) Terminate() {
	p.killedAt = time.Now()
	if p.cmd.Process != nil {
		p.cmd.Process.Signal(syscall.SIGTERM)
	}
}

// KillGraceExpired reports whether killGrace has elapsed since
// Terminate without the process having been reaped yet.
func (p *Process) KillGraceExpired(now time.Time) bool {
	return !p.killedAt.IsZero() && now.Sub(p.killedAt) > killGrace
}

// ForceKill sends SIGKILL, the last resort when a terminated child
// hasn't exited within its grace period.
func (p *Process) ForceKill() {
	if p.cmd.Process != nil {
		p.cmd.Process.Kill()
	}
}

// Reap performs one non-blocking waitpid. It returns true once the
// child has been reaped (recording whether it exited cleanly);
// callers should keep calling it until it returns true.
func (p *Process) Reap() bool {
	if p.reaped {
		return true
	}
	var ws unix.WaitStatus
	wpid, err := unix.Wait4(p.pid, &ws, unix.WNOHANG, nil)
	if err != nil || wpid != p.pid {
		return false
	}
	p.reaped = true
	p.exitOK = ws.Exited() && ws.ExitStatus() == 0
	return true
}

// Done reports whether the process is ready for Finish: stdout has
// hit EOF and the child has been reaped.
func (p *Process) Done() bool {
	return !p.stdoutOpen && p.reaped
}

// Finish converts the accumulated stdout into a Response. Callers must
// only call this once Done reports true and the process wasn't killed
// for running past its deadline.
func (p *Process) Finish() (*response.Response, int) {
	if !p.exitOK {
		return nil, 500
	}
	return parseOutput(p.output)
}

// Abort kills the child outright and waits for it, for callers that
// are abandoning the process entirely (poller registration failure,
// server shutdown) and will never drive Reap again. The blocking wait
// is bounded: the child has just been SIGKILLed.
func (p *Process) Abort() {
	p.Close()
	if p.reaped {
		return
	}
	if p.cmd.Process != nil {
		p.cmd.Process.Kill()
	}
	var ws unix.WaitStatus
	if wpid, err := unix.Wait4(p.pid, &ws, 0, nil); err == nil && wpid == p.pid {
		p.reaped = true
	}
}

// Close releases both pipe ends; safe to call more than once and at
// any point in the process's lifecycle.
func (p *Process) Close() {
	if p.stdinOpen {
		p.stdin.Close()
		p.stdinOpen = false
	}
	if p.stdoutOpen {
		p.stdout.Close()
		p.stdoutOpen = false
	}
}
