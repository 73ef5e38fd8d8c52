package caller_test

import (
	"errors"
	"testing"
	"time"

	"github.com/momentics/hioload-dispatch/api"
	"github.com/momentics/hioload-dispatch/caller"
	"github.com/momentics/hioload-dispatch/control"
	"github.com/momentics/hioload-dispatch/internal/concurrency"
)

type harness struct {
	in  *concurrency.Mailbox[api.Submission]
	out *concurrency.Mailbox[api.Completion]
	c   *caller.Caller
}

func newHarness(opts ...caller.Option) *harness {
	h := &harness{
		in:  concurrency.NewMailbox[api.Submission](),
		out: concurrency.NewMailbox[api.Completion](),
	}
	h.c = caller.New(h.in, h.out, opts...)
	return h
}

func (h *harness) submit(t *testing.T) api.CallID {
	t.Helper()
	id, err := h.c.Submit(api.Request{Method: "GET", Host: "svc.local", Port: 8080})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	return id
}

func (h *harness) complete(id api.CallID, code int) {
	h.out.Push(api.Completion{ID: id, Response: &api.Response{Code: code}})
}

// waitBlocked waits until n goroutines are parked on the outbound mailbox.
func (h *harness) waitBlocked(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for h.out.Waiters() < n {
		if time.Now().After(deadline) {
			t.Fatal("caller never blocked")
		}
		time.Sleep(time.Millisecond)
	}
}

type blockResult struct {
	id  api.CallID
	err error
}

func (h *harness) blockAsync(ids ...api.CallID) <-chan blockResult {
	ch := make(chan blockResult, 1)
	go func() {
		id, err := h.c.BlockOnIDs(ids)
		ch <- blockResult{id, err}
	}()
	return ch
}

func recvResult(t *testing.T, ch <-chan blockResult) blockResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("BlockOnIDs did not return")
		return blockResult{}
	}
}

func TestSubmit_IDsStrictlyIncrease(t *testing.T) {
	h := newHarness()
	var last api.CallID
	for i := 0; i < 50; i++ {
		id := h.submit(t)
		if id <= last {
			t.Fatalf("id %d after %d", id, last)
		}
		last = id
	}
	if last != 50 || h.in.Len() != 50 {
		t.Errorf("last id %d, queued %d", last, h.in.Len())
	}

	h.c.Clear()
	if id := h.submit(t); id != 51 {
		t.Errorf("id after Clear = %d, want 51", id)
	}
}

func TestSubmit_StampsHeaders(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	h := newHarness(caller.WithClock(func() time.Time { return now }), caller.WithDefaultTimeout(30*time.Second))

	tests := []struct {
		name    string
		setup   func()
		timeout time.Duration
		want    []api.Pair
	}{
		{
			name: "deadline only, default timeout",
			want: []api.Pair{
				{Key: "Accept", Value: "*/*"},
				{Key: caller.HeaderTimeout, Value: "1700000030"},
			},
		},
		{
			name:    "trace and client",
			setup:   func() { h.c.SetTrace("4bf92f3577b34da6a3ce929d0e0e4736", "00f067aa0ba902b7"); h.c.SetClient("billing") },
			timeout: 1500 * time.Millisecond,
			want: []api.Pair{
				{Key: "Accept", Value: "*/*"},
				{Key: caller.HeaderTraceparent, Value: "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-00"},
				{Key: caller.HeaderClient, Value: "billing"},
				{Key: caller.HeaderTimeout, Value: "1700000001"},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.setup != nil {
				tt.setup()
			}
			orig := []api.Pair{{Key: "Accept", Value: "*/*"}}
			if _, err := h.c.Submit(api.Request{Method: "GET", Host: "h", Timeout: tt.timeout, Headers: orig}); err != nil {
				t.Fatalf("Submit: %v", err)
			}
			sub, ok, _ := h.in.TryPop()
			if !ok {
				t.Fatal("nothing queued")
			}
			if len(sub.Headers) != len(tt.want) {
				t.Fatalf("headers = %v, want %v", sub.Headers, tt.want)
			}
			for i := range tt.want {
				if sub.Headers[i] != tt.want[i] {
					t.Errorf("header %d = %v, want %v", i, sub.Headers[i], tt.want[i])
				}
			}
			if len(orig) != 1 {
				t.Error("caller's header slice was modified")
			}
			if sub.Timeout <= 0 {
				t.Errorf("queued timeout = %v", sub.Timeout)
			}
		})
	}
}

func TestSubmit_TransportUnavailable(t *testing.T) {
	h := newHarness()
	h.in.Close()
	if _, err := h.c.Submit(api.Request{Method: "GET", Host: "h"}); !errors.Is(err, api.ErrTransportUnavailable) {
		t.Fatalf("Submit on closed inbound = %v", err)
	}
	if p, _ := h.c.Stats(); p != 0 {
		t.Errorf("failed submission left %d pending", p)
	}
}

func TestPollReady(t *testing.T) {
	mr := control.NewMetricsRegistry()
	h := newHarness(caller.WithMetrics(mr))
	id := h.submit(t)

	if _, ok, err := h.c.PollReady(id); ok || err != nil {
		t.Fatalf("PollReady before completion = %v, %v", ok, err)
	}
	h.complete(id, 200)

	first, ok, err := h.c.PollReady(id)
	if !ok || err != nil || first.Response.Code != 200 {
		t.Fatalf("PollReady = %+v, %v, %v", first, ok, err)
	}
	for i := 0; i < 3; i++ {
		again, ok, err := h.c.PollReady(id)
		if !ok || err != nil || again.Response != first.Response {
			t.Fatalf("repeat PollReady = %+v, %v, %v", again, ok, err)
		}
	}
	if mr.Counter(caller.MetricSubmitted) != 1 {
		t.Errorf("%s = %d", caller.MetricSubmitted, mr.Counter(caller.MetricSubmitted))
	}
}

func TestPollReady_DuplicateCompletionIgnored(t *testing.T) {
	h := newHarness()
	id := h.submit(t)
	h.complete(id, 200)
	h.complete(id, 500)

	comp, ok, err := h.c.PollReady(id)
	if !ok || err != nil || comp.Response.Code != 200 {
		t.Fatalf("PollReady = %+v, %v, %v; want first completion", comp, ok, err)
	}
	if _, completed := h.c.Stats(); completed != 1 {
		t.Errorf("completed = %d", completed)
	}
}

func TestPollReady_ClosedOutbound(t *testing.T) {
	h := newHarness()
	id := h.submit(t)
	h.out.Close()
	if _, _, err := h.c.PollReady(id); !errors.Is(err, api.ErrTransportUnavailable) {
		t.Errorf("PollReady = %v, want ErrTransportUnavailable", err)
	}
}

func TestBlockOnIDs_AlreadyCompletedWinsInArgumentOrder(t *testing.T) {
	h := newHarness()
	a, b := h.submit(t), h.submit(t)
	h.complete(a, 200)

	for _, order := range [][]api.CallID{{a, b}, {b, a}} {
		got, err := h.c.BlockOnIDs(order)
		if err != nil || got != a {
			t.Errorf("BlockOnIDs(%v) = %d, %v; want %d", order, got, err, a)
		}
	}

	h.complete(b, 200)
	if got, _ := h.c.BlockOnIDs([]api.CallID{b, a}); got != b {
		t.Errorf("BlockOnIDs([b a]) with both done = %d, want %d", got, b)
	}
}

func TestBlockOnIDs_FirstRequestedToArrive(t *testing.T) {
	h := newHarness()
	a, b, c := h.submit(t), h.submit(t), h.submit(t)

	ch := h.blockAsync(a, c)
	h.waitBlocked(t, 1)
	h.complete(b, 200)
	h.complete(c, 201)
	h.complete(a, 202)

	r := recvResult(t, ch)
	if r.err != nil || r.id != c {
		t.Fatalf("BlockOnIDs([a c]) = %d, %v; want %d", r.id, r.err, c)
	}
	if comp, ok, _ := h.c.PollReady(b); !ok || comp.Response.Code != 200 {
		t.Error("completion for b was not filed")
	}

	got, err := h.c.BlockOnIDs([]api.CallID{a})
	if err != nil || got != a {
		t.Errorf("BlockOnIDs([a]) = %d, %v", got, err)
	}
}

func TestBlockOnIDs_ContractViolations(t *testing.T) {
	h := newHarness()
	known := h.submit(t)

	tests := []struct {
		name string
		ids  []api.CallID
		want error
	}{
		{name: "empty", ids: nil, want: api.ErrNoIDs},
		{name: "never submitted", ids: []api.CallID{known, 99}, want: api.ErrUnknownID},
		{name: "zero", ids: []api.CallID{0}, want: api.ErrUnknownID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.c.BlockOnIDs(tt.ids)
			if !errors.Is(err, tt.want) || !api.IsContractViolation(err) {
				t.Errorf("BlockOnIDs(%v) = %v, want contract error %v", tt.ids, err, tt.want)
			}
		})
	}
}

func TestClear_ForgetsIDs(t *testing.T) {
	h := newHarness()
	a := h.submit(t)
	h.complete(a, 200)
	if _, ok, _ := h.c.PollReady(a); !ok {
		t.Fatal("not completed")
	}

	b := h.submit(t)
	h.c.Clear()
	if _, _, err := h.c.PollReady(a); !errors.Is(err, api.ErrUnknownID) {
		t.Errorf("PollReady after Clear = %v", err)
	}
	if _, err := h.c.BlockOnIDs([]api.CallID{b}); !api.IsContractViolation(err) {
		t.Errorf("BlockOnIDs after Clear = %v", err)
	}

	// A late completion of a cleared id is dropped.
	h.complete(b, 200)
	c := h.submit(t)
	if _, ok, err := h.c.PollReady(c); ok || err != nil {
		t.Fatalf("PollReady(c) = %v, %v", ok, err)
	}
	if p, done := h.c.Stats(); p != 1 || done != 0 {
		t.Errorf("Stats() = %d, %d; want 1, 0", p, done)
	}
}

func TestBlockOnIDs_OutboundClosed(t *testing.T) {
	h := newHarness()
	a := h.submit(t)

	ch := h.blockAsync(a)
	h.waitBlocked(t, 1)
	h.c.Close()

	r := recvResult(t, ch)
	if !errors.Is(r.err, api.ErrTransportUnavailable) {
		t.Fatalf("BlockOnIDs after Close = %v", r.err)
	}
	if _, err := h.c.Submit(api.Request{Method: "GET", Host: "h"}); !errors.Is(err, api.ErrTransportUnavailable) {
		t.Errorf("Submit after Close = %v", err)
	}
}

func TestBlockOnIDs_ConcurrentWaiters(t *testing.T) {
	h := newHarness()
	a, b := h.submit(t), h.submit(t)

	chA := h.blockAsync(a)
	chB := h.blockAsync(b)
	h.waitBlocked(t, 2)
	h.complete(b, 200)
	h.complete(a, 200)

	if r := recvResult(t, chA); r.err != nil || r.id != a {
		t.Errorf("waiter a = %d, %v", r.id, r.err)
	}
	if r := recvResult(t, chB); r.err != nil || r.id != b {
		t.Errorf("waiter b = %d, %v", r.id, r.err)
	}
}
