//go:build !linux && unix
// +build !linux,unix

package poller

import (
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// pollPoller is the portable non-Linux backend (Darwin/BSD), built on
// unix.Poll rather than a platform-specific kqueue: Linux gets the
// optimized epoll backend, everything else gets this portable one.
type pollPoller struct {
	mu       sync.Mutex
	registry map[int]Interest
}

// New returns the portable poll(2)-backed Poller.
func New() (Poller, error) {
	return &pollPoller{registry: make(map[int]Interest)}, nil
}

func (p *pollPoller) Add(fd int, interest Interest) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.registry[fd] = interest
	return nil
}

func (p *pollPoller) Modify(fd int, interest Interest) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.registry[fd] = interest
	return nil
}

func (p *pollPoller) Remove(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.registry, fd)
	return nil
}

func (p *pollPoller) Wait(timeout time.Duration) ([]Event, error) {
	p.mu.Lock()
	fds := make([]unix.PollFd, 0, len(p.registry))
	for fd, interest := range p.registry {
		var events int16
		if interest&Read != 0 {
			events |= unix.POLLIN
		}
		if interest&Write != 0 {
			events |= unix.POLLOUT
		}
		fds = append(fds, unix.PollFd{Fd: int32(fd), Events: events})
	}
	p.mu.Unlock()

	ms := int(timeout / time.Millisecond)
	if timeout > 0 && ms == 0 {
		ms = 1
	}

	var n int
	var err error
	for {
		n, err = unix.Poll(fds, ms)
		if err == unix.EINTR {
			continue
		}
		break
	}
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Event, 0, n)
	for _, pfd := range fds {
		if pfd.Revents == 0 {
			continue
		}
		fd := int(pfd.Fd)
		if _, ok := p.registry[fd]; !ok {
			continue
		}
		hup := pfd.Revents&(unix.POLLHUP|unix.POLLERR) != 0
		out = append(out, Event{
			FD:       fd,
			Readable: hup || pfd.Revents&unix.POLLIN != 0,
			Writable: hup || pfd.Revents&unix.POLLOUT != 0,
		})
	}
	return out, nil
}

func (p *pollPoller) Close() error { return nil }
