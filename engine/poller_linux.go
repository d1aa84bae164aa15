//go:build linux

package engine

import (
	"sync"

	"golang.org/x/sys/unix"
)

// Poller adds an epoll-backed idle-connection reaper to an Engine, for
// the "poller" backend. It owns its own epoll descriptor and the set of
// fds registered with it; the Engine keeps the mapping from those fds back
// to its connections, so IdleConnections can exclude anything epoll
// reports as currently readable.
type Poller struct {
	epfd int

	mu     sync.Mutex
	active map[int]struct{}
}

// NewPoller creates the epoll descriptor backing a "poller" engine.
func NewPoller() (*Poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &Poller{epfd: fd, active: make(map[int]struct{})}, nil
}

// Watch registers fd for readability events.
func (p *Poller) Watch(fd int) error {
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return err
	}
	p.mu.Lock()
	p.active[fd] = struct{}{}
	p.mu.Unlock()
	return nil
}

// Unwatch deregisters fd.
func (p *Poller) Unwatch(fd int) {
	unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	p.mu.Lock()
	delete(p.active, fd)
	p.mu.Unlock()
}

// ReapIdle returns every watched fd with no pending readable event, as
// reported by a zero-timeout epoll_wait; these are the candidates the
// supervisor's idle-connection sweep may close.
func (p *Poller) ReapIdle() ([]int, error) {
	events := make([]unix.EpollEvent, 64)
	n, err := unix.EpollWait(p.epfd, events, 0)
	if err != nil {
		return nil, err
	}

	ready := make(map[int]struct{}, n)
	for i := 0; i < n; i++ {
		ready[int(events[i].Fd)] = struct{}{}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	idle := make([]int, 0, len(p.active))
	for fd := range p.active {
		if _, isReady := ready[fd]; !isReady {
			idle = append(idle, fd)
		}
	}
	return idle, nil
}

// Close releases the epoll descriptor.
func (p *Poller) Close() error {
	return unix.Close(p.epfd)
}
