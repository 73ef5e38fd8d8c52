// File: caller/caller.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package caller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/momentics/hioload-dispatch/api"
	"github.com/momentics/hioload-dispatch/control"
	"github.com/momentics/hioload-dispatch/internal/concurrency"
)

// Header names stamped on every submission.
const (
	HeaderTraceparent = "Traceparent"
	HeaderClient      = "X-Client"
	HeaderTimeout     = "X-Timeout"
)

// MetricSubmitted counts accepted submissions.
const MetricSubmitted = "caller.submitted"

// Caller correlates submissions with their completions.
//
// An id stays pending from Submit until the next Clear, including after its
// completion has been retrieved, so it can be polled or waited on again.
type Caller struct {
	in  *concurrency.Mailbox[api.Submission]
	out *concurrency.Mailbox[api.Completion]

	now            func() time.Time
	defaultTimeout time.Duration
	log            *slog.Logger
	metrics        *control.MetricsRegistry

	mu        sync.Mutex
	nextID    api.CallID
	pending   map[api.CallID]struct{}
	completed map[api.CallID]api.Completion
	filed     chan struct{} // closed and replaced whenever a completion is filed
	traceID   string
	parentID  string
	client    string
}

// New creates a Caller feeding in and consuming out.
func New(in *concurrency.Mailbox[api.Submission], out *concurrency.Mailbox[api.Completion], opts ...Option) *Caller {
	c := &Caller{
		in:             in,
		out:            out,
		now:            time.Now,
		defaultTimeout: DefaultTimeout,
		log:            slog.Default(),
		pending:        make(map[api.CallID]struct{}),
		completed:      make(map[api.CallID]api.Completion),
		filed:          make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Submit assigns the next id to req and forwards it to the call loop. It
// never blocks. It fails with api.ErrTransportUnavailable once the inbound
// mailbox is closed.
func (c *Caller) Submit(req api.Request) (api.CallID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if req.Timeout <= 0 {
		req.Timeout = c.defaultTimeout
	}
	req.Headers = c.stampLocked(req.Headers, req.Timeout)

	c.nextID++
	id := c.nextID
	c.pending[id] = struct{}{}
	if err := c.in.Push(api.Submission{ID: id, Request: req}); err != nil {
		delete(c.pending, id)
		return 0, fmt.Errorf("submit: %w", api.ErrTransportUnavailable)
	}

	if c.metrics != nil {
		c.metrics.Add(MetricSubmitted, 1)
	}
	c.log.Debug("call submitted", slog.Int64("id", int64(id)), slog.String("method", req.Method), slog.String("host", req.Host))
	return id, nil
}

// stampLocked returns a copy of headers with the trace, client and
// deadline headers appended.
func (c *Caller) stampLocked(headers []api.Pair, timeout time.Duration) []api.Pair {
	out := make([]api.Pair, 0, len(headers)+3)
	out = append(out, headers...)
	if c.traceID != "" {
		out = append(out, api.Pair{Key: HeaderTraceparent, Value: "00-" + c.traceID + "-" + c.parentID + "-00"})
	}
	if c.client != "" {
		out = append(out, api.Pair{Key: HeaderClient, Value: c.client})
	}
	deadline := c.now().Add(timeout).Unix()
	return append(out, api.Pair{Key: HeaderTimeout, Value: strconv.FormatInt(deadline, 10)})
}

// PollReady files every completion already delivered and reports whether
// id has completed. It never blocks and may be repeated.
func (c *Caller) PollReady(id api.CallID) (api.Completion, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.pending[id]; !ok {
		return api.Completion{}, false, &api.ContractError{Op: "poll", ID: id, Err: api.ErrUnknownID}
	}
	closed := c.drainLocked()
	if comp, ok := c.completed[id]; ok {
		return comp, true, nil
	}
	if closed {
		return api.Completion{}, false, fmt.Errorf("poll: %w", api.ErrTransportUnavailable)
	}
	return api.Completion{}, false, nil
}

// BlockOnIDs returns the first of ids to complete. Ids already completed
// win in argument order. Every id must be pending.
//
// There is no timeout: the wait is bounded by the per-call timeouts the
// transport enforces.
func (c *Caller) BlockOnIDs(ids []api.CallID) (api.CallID, error) {
	if len(ids) == 0 {
		return 0, &api.ContractError{Op: "block", Err: api.ErrNoIDs}
	}

	c.mu.Lock()
	if err := c.checkPendingLocked(ids); err != nil {
		c.mu.Unlock()
		return 0, err
	}
	c.drainLocked()
	if id, ok := c.firstCompletedLocked(ids); ok {
		c.mu.Unlock()
		return id, nil
	}
	filed := c.filed
	c.mu.Unlock()

	for {
		waitErr := c.waitOutbound(filed)

		c.mu.Lock()
		// Clear may have run while we were parked.
		if err := c.checkPendingLocked(ids); err != nil {
			c.mu.Unlock()
			return 0, err
		}
		closed := errors.Is(waitErr, concurrency.ErrClosed)
		for !closed {
			comp, ok, err := c.out.TryPop()
			if err != nil {
				closed = true
				break
			}
			if !ok {
				break
			}
			c.fileLocked(comp)
			if slices.Contains(ids, comp.ID) {
				c.mu.Unlock()
				return comp.ID, nil
			}
		}
		// A concurrent poller may have filed one of ours.
		if id, ok := c.firstCompletedLocked(ids); ok {
			c.mu.Unlock()
			return id, nil
		}
		filed = c.filed
		c.mu.Unlock()
		if closed {
			return 0, fmt.Errorf("block: %w", api.ErrTransportUnavailable)
		}
	}
}

// waitOutbound parks until the outbound mailbox has a value or is closed,
// or until another goroutine files a completion.
func (c *Caller) waitOutbound(filed <-chan struct{}) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-filed:
			cancel()
		case <-ctx.Done():
		}
	}()
	return c.out.Wait(ctx)
}

func (c *Caller) checkPendingLocked(ids []api.CallID) error {
	for _, id := range ids {
		if _, ok := c.pending[id]; !ok {
			return &api.ContractError{Op: "block", ID: id, Err: api.ErrUnknownID}
		}
	}
	return nil
}

func (c *Caller) firstCompletedLocked(ids []api.CallID) (api.CallID, bool) {
	for _, id := range ids {
		if _, ok := c.completed[id]; ok {
			return id, true
		}
	}
	return 0, false
}

// drainLocked files every queued completion. It reports whether the
// outbound mailbox is closed and empty.
func (c *Caller) drainLocked() bool {
	for {
		comp, ok, err := c.out.TryPop()
		if err != nil {
			return true
		}
		if !ok {
			return false
		}
		c.fileLocked(comp)
	}
}

// fileLocked records comp if its id is pending and has no completion yet.
// Completions of cleared ids are dropped.
func (c *Caller) fileLocked(comp api.Completion) {
	if _, ok := c.pending[comp.ID]; !ok {
		c.log.Debug("dropping completion for unknown id", slog.Int64("id", int64(comp.ID)))
		return
	}
	if _, dup := c.completed[comp.ID]; dup {
		c.log.Warn("duplicate completion ignored", slog.Int64("id", int64(comp.ID)))
		return
	}
	c.completed[comp.ID] = comp
	close(c.filed)
	c.filed = make(chan struct{})
	c.log.Debug("call completed", append([]any{slog.Int64("id", int64(comp.ID))}, attrsAny(comp.LogAttrs())...)...)
}

func attrsAny(attrs []slog.Attr) []any {
	out := make([]any, len(attrs))
	for i, a := range attrs {
		out[i] = a
	}
	return out
}

// Clear forgets every pending and completed id. Calls still in flight run
// to completion and their results are dropped. Ids keep increasing.
func (c *Caller) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.pending)
	clear(c.completed)
}

// SetTrace makes later submissions carry a Traceparent header.
func (c *Caller) SetTrace(traceID, parentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.traceID, c.parentID = traceID, parentID
}

// SetClient makes later submissions carry an X-Client header.
func (c *Caller) SetClient(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.client = name
}

// Stats returns the number of pending and completed ids.
func (c *Caller) Stats() (pending, completed int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending), len(c.completed)
}

// Close shuts both mailboxes. Later submissions fail and the call loop
// exits without delivering further completions.
func (c *Caller) Close() {
	c.in.Close()
	c.out.Close()
}
