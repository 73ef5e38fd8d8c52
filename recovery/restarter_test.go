package recovery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/momentics/hioload-dispatch/api"
	"github.com/momentics/hioload-dispatch/caller"
	"github.com/momentics/hioload-dispatch/callloop"
	"github.com/momentics/hioload-dispatch/control"
	"github.com/momentics/hioload-dispatch/fake"
	"github.com/momentics/hioload-dispatch/internal/concurrency"
	"github.com/momentics/hioload-dispatch/observability"
)

type runFunc func() error

func (f runFunc) Run() error { return f() }

// syncBuffer lets the JSON sink be read while the restarter writes to it.
type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) records(t *testing.T) []map[string]any {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(s.b.String()), "\n") {
		if line == "" {
			continue
		}
		var rec map[string]any
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Fatalf("fault sink line %q: %v", line, err)
		}
		out = append(out, rec)
	}
	return out
}

func faultSink() (*syncBuffer, observability.Observer) {
	buf := &syncBuffer{}
	return buf, observability.NewSlogObserver(observability.NewJSONLogger(buf, slog.LevelInfo))
}

// recordBackoff makes waits return at once and records their durations.
func recordBackoff(r *Restarter) *[]time.Duration {
	var waits []time.Duration
	r.after = func(d time.Duration) <-chan time.Time {
		waits = append(waits, d)
		ch := make(chan time.Time, 1)
		ch <- time.Time{}
		return ch
	}
	return &waits
}

func TestRestarter_FaultThenCleanStop(t *testing.T) {
	buf, obs := faultSink()
	mr := control.NewMetricsRegistry()

	var instances []uuid.UUID
	results := []error{errors.New("epoll wait: bad file descriptor"), nil}
	r := New("orders", func(id uuid.UUID) (Runner, error) {
		instances = append(instances, id)
		res := results[0]
		results = results[1:]
		return runFunc(func() error { return res }), nil
	}, WithBackoff(250*time.Millisecond), WithObserver(obs), WithMetrics(mr))
	waits := recordBackoff(r)

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run() = %v", err)
	}

	if len(instances) != 2 || instances[0] == instances[1] {
		t.Errorf("instances = %v, want two distinct ids", instances)
	}
	if len(*waits) != 1 || (*waits)[0] != 250*time.Millisecond {
		t.Errorf("backoff waits = %v", *waits)
	}
	if got := mr.Counter(MetricRestarts); got != 1 {
		t.Errorf("%s = %d", MetricRestarts, got)
	}

	recs := buf.records(t)
	if len(recs) != 1 {
		t.Fatalf("fault sink has %d records, want 1: %v", len(recs), recs)
	}
	rec := recs[0]
	if rec["msg"] != "call loop exited" || rec["level"] != "ERROR" || rec["service"] != "orders" {
		t.Errorf("fault record = %v", rec)
	}
	if rec["error"] != "epoll wait: bad file descriptor" || rec["instance"] != instances[0].String() {
		t.Errorf("fault detail = %v", rec)
	}
}

func TestRestarter_StartFailureAndPanicAreFaults(t *testing.T) {
	buf, obs := faultSink()
	attempt := 0
	r := New("svc", func(uuid.UUID) (Runner, error) {
		attempt++
		switch attempt {
		case 1:
			return nil, errors.New("epoll create: too many open files")
		case 2:
			return runFunc(func() error { panic("nil transport") }), nil
		default:
			return runFunc(func() error { return nil }), nil
		}
	}, WithObserver(obs))
	waits := recordBackoff(r)

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run() = %v", err)
	}
	if len(*waits) != 2 || (*waits)[0] != DefaultBackoff {
		t.Errorf("waits = %v", *waits)
	}
	recs := buf.records(t)
	if len(recs) != 2 {
		t.Fatalf("records = %v", recs)
	}
	if e, _ := recs[0]["error"].(string); !strings.Contains(e, "start engine") {
		t.Errorf("first fault = %q", e)
	}
	if e, _ := recs[1]["error"].(string); !strings.Contains(e, "nil transport") {
		t.Errorf("second fault = %q", e)
	}
}

func TestRestarter_ContextEndsBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := New("svc", func(uuid.UUID) (Runner, error) {
		return runFunc(func() error { return errors.New("boom") }), nil
	})
	r.after = func(time.Duration) <-chan time.Time {
		cancel()
		return make(chan time.Time)
	}

	if err := r.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() = %v, want context.Canceled", err)
	}
}

func TestRestarter_FreshLoopServesNewSubmissions(t *testing.T) {
	in := concurrency.NewMailbox[api.Submission]()
	out := concurrency.NewMailbox[api.Completion]()
	c := caller.New(in, out)
	buf, obs := faultSink()

	hang := make(chan struct{})
	defer close(hang)
	var mu sync.Mutex
	started := 0
	r := New("svc", func(uuid.UUID) (Runner, error) {
		mu.Lock()
		started++
		mu.Unlock()
		p := fake.NewPoller()
		tr := fake.NewTransport(p)
		tr.Script("hang.local", fake.Plan{Gate: hang})
		tr.Script("crash.local", fake.Plan{Panic: "call table corrupted"})
		return callloop.New(in, out, p, tr), nil
	}, WithObserver(obs), WithBackoff(10*time.Millisecond))

	lost1, err := c.Submit(api.Request{Method: "GET", Host: "hang.local"})
	if err != nil {
		t.Fatal(err)
	}
	lost2, err := c.Submit(api.Request{Method: "GET", Host: "crash.local"})
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()

	deadline := time.Now().Add(5 * time.Second)
	for len(buf.records(t)) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no fault record")
		}
		time.Sleep(time.Millisecond)
	}

	fresh, err := c.Submit(api.Request{Method: "GET", Host: "ok.local"})
	if err != nil {
		t.Fatalf("Submit after fault: %v", err)
	}
	got, err := c.BlockOnIDs([]api.CallID{fresh})
	if err != nil || got != fresh {
		t.Fatalf("BlockOnIDs = %d, %v", got, err)
	}
	for _, id := range []api.CallID{lost1, lost2} {
		if _, ok, err := c.PollReady(id); ok || err != nil {
			t.Errorf("pre-fault call %d: ok=%v err=%v, want absent", id, ok, err)
		}
	}

	c.Close()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("restarter did not stop")
	}
	if n := len(buf.records(t)); n != 1 {
		t.Errorf("%d fault records, want 1", n)
	}
	mu.Lock()
	defer mu.Unlock()
	if started != 2 {
		t.Errorf("started %d instances, want 2", started)
	}
}
