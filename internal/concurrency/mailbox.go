// File: internal/concurrency/mailbox.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// A Mailbox is a multi-producer FIFO with non-blocking Push, so a submitting
// host never waits on the engine. Values move through it by ownership
// transfer. Closing rejects further pushes; values already queued can still
// be taken, and ErrClosed is reported only once the mailbox is drained.

package concurrency

import (
	"context"
	"errors"
	"sync"

	"github.com/eapache/queue"
)

// ErrClosed is returned by Push on a closed mailbox and by the receive
// operations once a closed mailbox is empty.
var ErrClosed = errors.New("mailbox: closed")

// Mailbox is an unbounded FIFO channel replacement.
type Mailbox[T any] struct {
	mu      sync.Mutex
	q       *queue.Queue
	closed  bool
	ready   chan struct{} // closed while items are queued or the mailbox is closed
	waiting int
	notify  func()
}

// NewMailbox creates an empty open mailbox.
func NewMailbox[T any]() *Mailbox[T] {
	return &Mailbox[T]{
		q:     queue.New(),
		ready: make(chan struct{}),
	}
}

// Push enqueues v. It never blocks.
func (m *Mailbox[T]) Push(v T) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.q.Add(v)
	if m.q.Length() == 1 {
		close(m.ready)
	}
	notify := m.notify
	m.mu.Unlock()

	if notify != nil {
		notify()
	}
	return nil
}

// SetNotify installs fn to run after every successful Push and after the
// Close that closes the mailbox, outside the mailbox lock. A nil fn removes
// it.
func (m *Mailbox[T]) SetNotify(fn func()) {
	m.mu.Lock()
	m.notify = fn
	m.mu.Unlock()
}

// TryPop dequeues without blocking. ok is false when nothing is queued;
// err is ErrClosed when the mailbox is closed and drained.
func (m *Mailbox[T]) TryPop() (v T, ok bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.popLocked()
}

func (m *Mailbox[T]) popLocked() (v T, ok bool, err error) {
	if m.q.Length() == 0 {
		if m.closed {
			return v, false, ErrClosed
		}
		return v, false, nil
	}
	v = m.q.Remove().(T)
	if m.q.Length() == 0 && !m.closed {
		m.ready = make(chan struct{})
	}
	return v, true, nil
}

// Pop dequeues, blocking until a value arrives, the mailbox is closed and
// drained, or ctx is done.
func (m *Mailbox[T]) Pop(ctx context.Context) (T, error) {
	for {
		m.mu.Lock()
		v, ok, err := m.popLocked()
		if ok || err != nil {
			m.mu.Unlock()
			return v, err
		}
		ready := m.ready
		m.waiting++
		m.mu.Unlock()

		select {
		case <-ready:
			m.doneWaiting()
		case <-ctx.Done():
			m.doneWaiting()
			var zero T
			return zero, ctx.Err()
		}
	}
}

// Wait blocks until a value is queued or the mailbox is closed, without
// dequeuing. It returns ErrClosed once the mailbox is closed and drained.
func (m *Mailbox[T]) Wait(ctx context.Context) error {
	m.mu.Lock()
	if m.q.Length() > 0 {
		m.mu.Unlock()
		return nil
	}
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	ready := m.ready
	m.waiting++
	m.mu.Unlock()

	defer m.doneWaiting()
	select {
	case <-ready:
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.q.Length() == 0 && m.closed {
			return ErrClosed
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Mailbox[T]) doneWaiting() {
	m.mu.Lock()
	m.waiting--
	m.mu.Unlock()
}

// Close stops accepting values. It is idempotent.
func (m *Mailbox[T]) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	if m.q.Length() == 0 {
		close(m.ready)
	}
	notify := m.notify
	m.mu.Unlock()

	if notify != nil {
		notify()
	}
}

// Closed reports whether Close was called.
func (m *Mailbox[T]) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Len returns the number of queued values.
func (m *Mailbox[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.q.Length()
}

// Waiters returns the number of goroutines blocked in Pop or Wait.
func (m *Mailbox[T]) Waiters() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.waiting
}
