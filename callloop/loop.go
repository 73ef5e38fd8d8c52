// File: callloop/loop.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package callloop

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/momentics/hioload-dispatch/api"
	"github.com/momentics/hioload-dispatch/control"
	"github.com/momentics/hioload-dispatch/internal/concurrency"
)

// Metric keys published when WithMetrics is set.
const (
	MetricInflight  = "calls.inflight"
	MetricCompleted = "calls.completed"
	MetricFailed    = "calls.failed"
)

// policy is layered over every call: the loop follows resends itself, so
// the transport must not chase redirects.
var policy = api.CallPolicy{MaxRedirects: 0, AcceptGzip: true}

var noCache = api.Pair{Key: "Cache-Control", Value: "no-cache"}

// Loop is one engine instance. It is not reusable: build a new Loop with a
// fresh poller and transport to restart.
type Loop struct {
	in     *concurrency.Mailbox[api.Submission]
	out    *concurrency.Mailbox[api.Completion]
	poller api.Poller
	tr     api.Transport

	log       *slog.Logger
	metrics   *control.MetricsRegistry
	maxEvents int
	cpu       int

	calls     map[api.CallID]*call
	refs      map[api.CallRef]api.CallID
	accepting bool
}

// New builds a loop over the given mailboxes. The loop takes ownership of
// poller and tr and closes both when Run returns.
func New(in *concurrency.Mailbox[api.Submission], out *concurrency.Mailbox[api.Completion],
	poller api.Poller, tr api.Transport, opts ...Option) *Loop {
	l := &Loop{
		in:        in,
		out:       out,
		poller:    poller,
		tr:        tr,
		log:       slog.Default(),
		maxEvents: defaultMaxEvents(),
		cpu:       -1,
		calls:     make(map[api.CallID]*call),
		refs:      make(map[api.CallRef]api.CallID),
		accepting: true,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Run drives calls until the inbound mailbox is closed with nothing in
// flight, or the outbound mailbox stops accepting completions; both are
// clean exits. Any other exit is an error, including a recovered panic
// reported as *EngineFault.
func (l *Loop) Run() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &EngineFault{Value: r, Stack: debug.Stack()}
		}
	}()
	defer l.shutdown()

	if unpin, err := concurrency.PinCurrentThread(l.cpu); err != nil {
		l.log.Warn("running unpinned", slog.Int("cpu", l.cpu), slog.Any("error", err))
	} else {
		defer unpin()
	}

	// Submissions arriving while Wait blocks on in-flight calls must not
	// sit until the next socket event, and neither may a closed outbound
	// mailbox.
	l.in.SetNotify(func() { _ = l.poller.Wake() })
	l.out.SetNotify(func() {
		if l.out.Closed() {
			_ = l.poller.Wake()
		}
	})

	events := make([]api.Event, l.maxEvents)
	for {
		if !l.acquire() {
			return nil
		}
		if len(l.calls) == 0 {
			continue
		}
		if l.outboundClosed() {
			return nil
		}

		n, err := l.poller.Wait(events)
		if err != nil {
			return fmt.Errorf("callloop: wait: %w", err)
		}
		if l.outboundClosed() {
			return nil
		}
		for _, ev := range events[:n] {
			if !l.dispatch(ev) {
				return nil
			}
		}
	}
}

// acquire takes every queued submission. It blocks only while nothing is
// in flight. It returns false when the loop should exit.
func (l *Loop) acquire() bool {
	if !l.accepting {
		return len(l.calls) > 0
	}

	if len(l.calls) == 0 {
		sub, err := l.in.Pop(context.Background())
		if err != nil {
			l.log.Debug("inbound closed, loop idle")
			return false
		}
		if !l.start(&sub) {
			return false
		}
	}

	for {
		sub, ok, err := l.in.TryPop()
		if err != nil {
			l.accepting = false
			l.log.Debug("inbound closed, draining", slog.Int("pending", len(l.calls)))
			return len(l.calls) > 0
		}
		if !ok {
			return true
		}
		if !l.start(&sub) {
			return false
		}
	}
}

func (l *Loop) outboundClosed() bool {
	if !l.out.Closed() {
		return false
	}
	l.log.Debug("outbound closed, stopping", slog.Int("abandoned", len(l.calls)))
	return true
}

// start opens the call for sub. A construction failure completes the call
// at once without queueing any I/O.
func (l *Loop) start(sub *api.Submission) bool {
	req := *sub
	req.Headers = make([]api.Pair, 0, len(sub.Headers)+1)
	req.Headers = append(append(req.Headers, sub.Headers...), noCache)

	ref, err := l.tr.Open(&req, policy, l.poller)
	if err != nil {
		l.log.Debug("call construction failed", slog.Int64("id", int64(sub.ID)), slog.Any("error", err))
		return l.emit(api.Completion{ID: sub.ID, Err: &api.CallError{Action: api.ActionCreate, Err: err}})
	}
	l.calls[sub.ID] = newCall(sub.ID, ref)
	l.refs[ref] = sub.ID
	l.gauge()
	return true
}

// dispatch routes one readiness event. It returns false when the outbound
// mailbox is gone.
func (l *Loop) dispatch(ev api.Event) bool {
	ref, ok := l.tr.Resolve(ev)
	if !ok {
		return true
	}
	id, ok := l.refs[ref]
	if !ok {
		l.log.Debug("dropping stale event", slog.Uint64("ref", uint64(ref)))
		return true
	}
	c := l.calls[id]

	done, moved := c.step(l.tr, l.poller)
	if moved != 0 {
		delete(l.refs, c.ref)
		c.ref = moved
		l.refs[moved] = c.id
	}
	if !done {
		return true
	}
	return l.finish(c)
}

func (l *Loop) finish(c *call) bool {
	delete(l.calls, c.id)
	delete(l.refs, c.ref)
	l.tr.Release(l.poller, c.ref)
	l.gauge()
	return l.emit(c.completion())
}

func (l *Loop) emit(comp api.Completion) bool {
	if err := l.out.Push(comp); err != nil {
		l.log.Debug("outbound closed, stopping", slog.Int("abandoned", len(l.calls)))
		return false
	}
	if l.metrics != nil {
		if comp.OK() {
			l.metrics.Add(MetricCompleted, 1)
		} else {
			l.metrics.Add(MetricFailed, 1)
		}
	}
	return true
}

func (l *Loop) gauge() {
	if l.metrics != nil {
		l.metrics.Set(MetricInflight, int64(len(l.calls)))
	}
}

// shutdown frees the instance. Calls still in flight are abandoned.
func (l *Loop) shutdown() {
	l.in.SetNotify(nil)
	l.out.SetNotify(nil)
	if n := len(l.calls); n > 0 {
		l.log.Warn("abandoning calls in flight", slog.Int("count", n))
	}
	clear(l.calls)
	clear(l.refs)
	l.gauge()
	if err := l.tr.Close(); err != nil {
		l.log.Debug("transport close", slog.Any("error", err))
	}
	if err := l.poller.Close(); err != nil {
		l.log.Debug("poller close", slog.Any("error", err))
	}
}
