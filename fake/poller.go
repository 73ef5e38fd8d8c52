// Author: momentics <momentics@gmail.com>
// SPDX-License-Identifier: MIT

package fake

import (
	"sync"

	"github.com/momentics/hioload-dispatch/api"
)

// Poller is a channel-backed api.Poller. Events are delivered through Post;
// Wait blocks for the first one and then drains what else is queued.
type Poller struct {
	events chan api.Event
	done   chan struct{}
	once   sync.Once

	mu       sync.Mutex
	waits    int
	failNext error
	regs     map[int]uint64
}

var _ api.Poller = (*Poller)(nil)

// NewPoller creates an empty Poller.
func NewPoller() *Poller {
	return &Poller{
		events: make(chan api.Event, 1024),
		done:   make(chan struct{}),
		regs:   make(map[int]uint64),
	}
}

func (p *Poller) Register(fd int, _ api.Interest, token uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.regs[fd] = token
	return nil
}

func (p *Poller) Modify(fd int, _ api.Interest, token uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.regs[fd] = token
	return nil
}

func (p *Poller) Unregister(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.regs, fd)
	return nil
}

// Post queues a readiness event.
func (p *Poller) Post(ev api.Event) {
	select {
	case p.events <- ev:
	case <-p.done:
	}
}

// Wake posts an event with token 0, which no fake transport ever issues.
func (p *Poller) Wake() error {
	select {
	case p.events <- api.Event{}:
	case <-p.done:
		return api.ErrClosed
	default:
	}
	return nil
}

// FailNext makes the next Wait return err.
func (p *Poller) FailNext(err error) {
	p.mu.Lock()
	p.failNext = err
	p.mu.Unlock()
}

func (p *Poller) Wait(events []api.Event) (int, error) {
	p.mu.Lock()
	p.waits++
	err := p.failNext
	p.failNext = nil
	p.mu.Unlock()
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}

	select {
	case ev := <-p.events:
		events[0] = ev
	case <-p.done:
		return 0, api.ErrClosed
	}
	n := 1
	for n < len(events) {
		select {
		case ev := <-p.events:
			events[n] = ev
			n++
		default:
			return n, nil
		}
	}
	return n, nil
}

// WaitCount reports how many times Wait was called.
func (p *Poller) WaitCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waits
}

// Registered reports the number of live registrations.
func (p *Poller) Registered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.regs)
}

// Closed reports whether Close was called.
func (p *Poller) Closed() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func (p *Poller) Close() error {
	p.once.Do(func() { close(p.done) })
	return nil
}
