//go:build linux
// +build linux

// File: reactor/reactor_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux epoll(7)-based reactor implementation and factory.
// Level-triggered: a descriptor keeps reporting readiness until drained,
// so a call that leaves bytes unread is woken again.

package reactor

import (
	"fmt"
	"sync"

	"github.com/momentics/hioload-dispatch/api"
	"golang.org/x/sys/unix"
)

// linuxReactor is an epoll-based event reactor. Everything except Wake is
// called from the owning goroutine.
type linuxReactor struct {
	epfd int
	wake int // eventfd, registered under wakeToken
	raw  []unix.EpollEvent

	mu     sync.RWMutex // guards closed against Wake
	closed bool
}

// NewReactor constructs a new platform-specific Poller for Linux.
func NewReactor() (api.Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}
	wfd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	r := &linuxReactor{epfd: epfd, wake: wfd}
	if err := r.ctl(unix.EPOLL_CTL_ADD, wfd, api.InterestRead, wakeToken); err != nil {
		unix.Close(wfd)
		unix.Close(epfd)
		return nil, fmt.Errorf("epoll ctl add eventfd: %w", err)
	}
	return r, nil
}

func epollMask(interest api.Interest) uint32 {
	var mask uint32
	if interest&api.InterestRead != 0 {
		mask |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if interest&api.InterestWrite != 0 {
		mask |= unix.EPOLLOUT
	}
	return mask
}

func (r *linuxReactor) ctl(op, fd int, interest api.Interest, token uint64) error {
	if r.closed {
		return ErrClosed
	}
	ev := unix.EpollEvent{Events: epollMask(interest)}
	ev.Fd, ev.Pad = splitToken(token)
	return unix.EpollCtl(r.epfd, op, fd, &ev)
}

// Register adds fd to the epoll interest set.
func (r *linuxReactor) Register(fd int, interest api.Interest, token uint64) error {
	if err := r.ctl(unix.EPOLL_CTL_ADD, fd, interest, token); err != nil {
		return fmt.Errorf("epoll ctl add: %w", err)
	}
	return nil
}

// Modify changes the interest or token of a registered fd.
func (r *linuxReactor) Modify(fd int, interest api.Interest, token uint64) error {
	if err := r.ctl(unix.EPOLL_CTL_MOD, fd, interest, token); err != nil {
		return fmt.Errorf("epoll ctl mod: %w", err)
	}
	return nil
}

// Unregister removes fd from the epoll interest set.
func (r *linuxReactor) Unregister(fd int) error {
	if r.closed {
		return ErrClosed
	}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return fmt.Errorf("epoll ctl del: %w", err)
	}
	return nil
}

// Wait blocks until events are available and writes them into events.
func (r *linuxReactor) Wait(events []api.Event) (int, error) {
	if r.closed {
		return 0, ErrClosed
	}
	if len(events) == 0 {
		return 0, nil
	}
	if cap(r.raw) < len(events) {
		r.raw = make([]unix.EpollEvent, len(events))
	}
	raw := r.raw[:len(events)]

	n, err := unix.EpollWait(r.epfd, raw, -1)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, fmt.Errorf("epoll wait: %w", err)
	}
	out := 0
	for i := 0; i < n; i++ {
		ev := raw[i]
		token := joinToken(ev.Fd, ev.Pad)
		if token == wakeToken {
			var b [8]byte
			_, _ = unix.Read(r.wake, b[:])
			continue
		}
		events[out] = api.Event{
			Token:    token,
			Readable: ev.Events&(unix.EPOLLIN|unix.EPOLLRDHUP) != 0,
			Writable: ev.Events&unix.EPOLLOUT != 0,
			Hangup:   ev.Events&(unix.EPOLLHUP|unix.EPOLLERR) != 0,
		}
		out++
	}
	return out, nil
}

// Wake interrupts a blocked Wait. Safe from any goroutine.
func (r *linuxReactor) Wake() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return ErrClosed
	}
	var b [8]byte
	b[0] = 1 // eventfd counters are host-endian; any nonzero value wakes
	if _, err := unix.Write(r.wake, b[:]); err != nil && err != unix.EAGAIN {
		return fmt.Errorf("eventfd write: %w", err)
	}
	return nil
}

// Close closes the epoll instance.
func (r *linuxReactor) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	unix.Close(r.wake)
	return unix.Close(r.epfd)
}
