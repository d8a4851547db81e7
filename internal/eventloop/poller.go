package eventloop

// Event reports one fd's readiness after a Wait call.
type Event struct {
	FD       int
	Readable bool
	Writable bool
}

// poller is the platform readiness notifier: epoll on Linux, kqueue
// on Darwin, and a poll(2)-based fallback everywhere else. The
// EventLoop drives exactly one suspension point: wait.
type poller interface {
	// add registers fd for read readiness, and for write readiness too
	// when writable is true.
	add(fd int, writable bool) error
	// modify changes whether fd is also watched for write readiness.
	modify(fd int, writable bool) error
	// remove deregisters fd. Safe to call on an fd already removed.
	remove(fd int) error
	// wait blocks up to timeoutMs (or until an fd is ready) and
	// reports the ready set.
	wait(timeoutMs int) ([]Event, error)
	// close releases the notifier's own resources (epoll/kqueue fd).
	close() error
}
