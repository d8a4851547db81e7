package eventloop

import (
	"os"
	"os/signal"
	"syscall"
)

// HandleSignals ignores SIGPIPE (so a client that closes its read
// side mid-write yields EPIPE from a send() call instead of killing
// the process) and funnels SIGINT/SIGTERM into Shutdown's cooperative
// flag instead of acting on the main loop's goroutine directly. The
// returned func stops the signal relay; callers should defer it.
func (e *EventLoop) HandleSignals() func() {
	signal.Ignore(syscall.SIGPIPE)

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		select {
		case <-ch:
			e.Shutdown()
		case <-done:
		}
	}()
	return func() {
		signal.Stop(ch)
		close(done)
	}
}
