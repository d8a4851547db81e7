//go:build !linux && !darwin

package eventloop

import (
	"golang.org/x/sys/unix"
)

// pollPoller is the readiness notifier for platforms without a
// dedicated epoll/kqueue implementation here: a poll(2)-based
// fallback, rebuilding its fd list on every wait() call rather than
// maintaining a kernel-side registration the way epoll/kqueue do.
type pollPoller struct {
	writable map[int]bool
	fds      map[int]bool
}

func newPoller() (poller, error) {
	return &pollPoller{writable: make(map[int]bool), fds: make(map[int]bool)}, nil
}

func (p *pollPoller) add(fd int, writable bool) error {
	p.fds[fd] = true
	if writable {
		p.writable[fd] = true
	}
	return nil
}

func (p *pollPoller) modify(fd int, writable bool) error {
	if writable {
		p.writable[fd] = true
	} else {
		delete(p.writable, fd)
	}
	return nil
}

func (p *pollPoller) remove(fd int) error {
	delete(p.fds, fd)
	delete(p.writable, fd)
	return nil
}

func (p *pollPoller) wait(timeoutMs int) ([]Event, error) {
	fds := make([]unix.PollFd, 0, len(p.fds))
	for fd := range p.fds {
		events := int16(unix.POLLIN)
		if p.writable[fd] {
			events |= int16(unix.POLLOUT)
		}
		fds = append(fds, unix.PollFd{Fd: int32(fd), Events: events})
	}

	for {
		_, err := unix.Poll(fds, timeoutMs)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return nil, err
		}
		break
	}

	out := make([]Event, 0, len(fds))
	for _, pfd := range fds {
		if pfd.Revents == 0 {
			continue
		}
		out = append(out, Event{
			FD:       int(pfd.Fd),
			Readable: pfd.Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0,
			Writable: pfd.Revents&unix.POLLOUT != 0,
		})
	}
	return out, nil
}

func (p *pollPoller) close() error {
	return nil
}
