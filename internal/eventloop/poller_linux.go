//go:build linux

package eventloop

import (
	"golang.org/x/sys/unix"
)

// epollPoller is the Linux readiness notifier: one small file per OS,
// behind a shared interface everywhere else.
type epollPoller struct {
	fd int
}

func newPoller() (poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &epollPoller{fd: fd}, nil
}

func (p *epollPoller) eventsFor(writable bool) uint32 {
	ev := uint32(unix.EPOLLIN)
	if writable {
		ev |= uint32(unix.EPOLLOUT)
	}
	return ev
}

func (p *epollPoller) add(fd int, writable bool) error {
	ev := &unix.EpollEvent{Events: p.eventsFor(writable), Fd: int32(fd)}
	return unix.EpollCtl(p.fd, unix.EPOLL_CTL_ADD, fd, ev)
}

func (p *epollPoller) modify(fd int, writable bool) error {
	ev := &unix.EpollEvent{Events: p.eventsFor(writable), Fd: int32(fd)}
	return unix.EpollCtl(p.fd, unix.EPOLL_CTL_MOD, fd, ev)
}

func (p *epollPoller) remove(fd int) error {
	err := unix.EpollCtl(p.fd, unix.EPOLL_CTL_DEL, fd, nil)
	if err == unix.ENOENT || err == unix.EBADF {
		return nil
	}
	return err
}

func (p *epollPoller) wait(timeoutMs int) ([]Event, error) {
	raw := make([]unix.EpollEvent, 256)
	for {
		n, err := unix.EpollWait(p.fd, raw, timeoutMs)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return nil, err
		}
		out := make([]Event, 0, n)
		for i := 0; i < n; i++ {
			out = append(out, Event{
				FD:       int(raw[i].Fd),
				Readable: raw[i].Events&uint32(unix.EPOLLIN) != 0 || raw[i].Events&uint32(unix.EPOLLHUP) != 0 || raw[i].Events&uint32(unix.EPOLLERR) != 0,
				Writable: raw[i].Events&uint32(unix.EPOLLOUT) != 0,
			})
		}
		return out, nil
	}
}

func (p *epollPoller) close() error {
	return unix.Close(p.fd)
}
