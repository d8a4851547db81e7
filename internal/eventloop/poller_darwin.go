//go:build darwin

package eventloop

import (
	"golang.org/x/sys/unix"
)

// kqueuePoller is the Darwin/BSD readiness notifier, the kqueue
// counterpart to epollPoller, mirroring
// shockwave/pkg/shockwave/socket/tuning_darwin.go's per-platform split.
type kqueuePoller struct {
	fd int
	// writable tracks which fds currently have an EVFILT_WRITE
	// registration, since kqueue has no single "modify" call — we
	// delete and re-add the write filter instead.
	writable map[int]bool
}

func newPoller() (poller, error) {
	fd, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	return &kqueuePoller{fd: fd, writable: make(map[int]bool)}, nil
}

func (p *kqueuePoller) change(fd int, filter int16, flags uint16) error {
	kev := unix.Kevent_t{
		Ident:  uint64(fd),
		Filter: filter,
		Flags:  flags,
	}
	_, err := unix.Kevent(p.fd, []unix.Kevent_t{kev}, nil, nil)
	return err
}

func (p *kqueuePoller) add(fd int, writable bool) error {
	if err := p.change(fd, unix.EVFILT_READ, unix.EV_ADD|unix.EV_ENABLE); err != nil {
		return err
	}
	if writable {
		if err := p.change(fd, unix.EVFILT_WRITE, unix.EV_ADD|unix.EV_ENABLE); err != nil {
			return err
		}
		p.writable[fd] = true
	}
	return nil
}

func (p *kqueuePoller) modify(fd int, writable bool) error {
	switch {
	case writable && !p.writable[fd]:
		if err := p.change(fd, unix.EVFILT_WRITE, unix.EV_ADD|unix.EV_ENABLE); err != nil {
			return err
		}
		p.writable[fd] = true
	case !writable && p.writable[fd]:
		if err := p.change(fd, unix.EVFILT_WRITE, unix.EV_DELETE); err != nil {
			return err
		}
		delete(p.writable, fd)
	}
	return nil
}

func (p *kqueuePoller) remove(fd int) error {
	p.change(fd, unix.EVFILT_READ, unix.EV_DELETE)
	if p.writable[fd] {
		p.change(fd, unix.EVFILT_WRITE, unix.EV_DELETE)
		delete(p.writable, fd)
	}
	return nil
}

func (p *kqueuePoller) wait(timeoutMs int) ([]Event, error) {
	var ts *unix.Timespec
	if timeoutMs >= 0 {
		t := unix.NsecToTimespec(int64(timeoutMs) * int64(1e6))
		ts = &t
	}
	raw := make([]unix.Kevent_t, 256)
	for {
		n, err := unix.Kevent(p.fd, nil, raw, ts)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return nil, err
		}
		byFD := make(map[int]*Event, n)
		for i := 0; i < n; i++ {
			fd := int(raw[i].Ident)
			ev, ok := byFD[fd]
			if !ok {
				ev = &Event{FD: fd}
				byFD[fd] = ev
			}
			switch raw[i].Filter {
			case unix.EVFILT_READ:
				ev.Readable = true
			case unix.EVFILT_WRITE:
				ev.Writable = true
			}
		}
		out := make([]Event, 0, len(byFD))
		for _, ev := range byFD {
			out = append(out, *ev)
		}
		return out, nil
	}
}

func (p *kqueuePoller) close() error {
	return unix.Close(p.fd)
}
