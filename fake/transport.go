// Package fake
// Author: momentics <momentics@gmail.com>
//
// Fake implementations for testing and development.
// Provides predictable, controllable behavior for the call loop's
// collaborators.

package fake

import (
	"fmt"
	"sync"

	"github.com/momentics/hioload-dispatch/api"
)

// RecvStep is one scripted receive outcome. Body is appended to the call's
// body buffer before Result is returned.
type RecvStep struct {
	Result api.RecvResult
	Body   []byte
}

// Plan scripts the life of every call opened against one host.
type Plan struct {
	OpenErr error
	// Send outcomes in order; once exhausted Send reports SendReceiving.
	Send []api.SendResult
	// Recv outcomes in order; once exhausted Recv reports a 200 with an
	// empty body.
	Recv []RecvStep
	// Gate, when set, holds back the call's first readiness event until
	// it is closed.
	Gate <-chan struct{}
	// Panic makes Send panic with this value.
	Panic any
}

type fakeCall struct {
	plan Plan
	send int
	recv int
}

// Transport is a scripted api.Transport. Readiness events for calls are
// posted to the paired Poller whenever a call needs more I/O. Refs double
// as registration tokens.
type Transport struct {
	mu       sync.Mutex
	poller   *Poller
	plans    map[string]Plan
	calls    map[api.CallRef]*fakeCall
	issued   map[api.CallRef]bool
	nextRef  api.CallRef
	opened   []api.Submission
	policies []api.CallPolicy
	released int
	closed   bool
}

var _ api.Transport = (*Transport)(nil)

// NewTransport creates a transport posting its events to p.
func NewTransport(p *Poller) *Transport {
	return &Transport{
		poller: p,
		plans:  make(map[string]Plan),
		calls:  make(map[api.CallRef]*fakeCall),
		issued: make(map[api.CallRef]bool),
	}
}

// Script sets the plan for calls to host. Hosts without a plan succeed
// immediately.
func (t *Transport) Script(host string, p Plan) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.plans[host] = p
}

func (t *Transport) Open(sub *api.Submission, policy api.CallPolicy, reg api.Registry) (api.CallRef, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, api.ErrClosed
	}
	t.opened = append(t.opened, *sub)
	t.policies = append(t.policies, policy)

	plan := t.plans[sub.Host]
	if plan.OpenErr != nil {
		return 0, plan.OpenErr
	}
	ref := t.issue()
	t.calls[ref] = &fakeCall{plan: plan}
	if err := reg.Register(int(ref), api.InterestWrite, uint64(ref)); err != nil {
		delete(t.calls, ref)
		return 0, err
	}

	if plan.Gate != nil {
		go func() {
			<-plan.Gate
			t.poller.Post(api.Event{Token: uint64(ref), Writable: true})
		}()
	} else {
		t.post(ref)
	}
	return ref, nil
}

func (t *Transport) issue() api.CallRef {
	t.nextRef++
	t.issued[t.nextRef] = true
	return t.nextRef
}

func (t *Transport) post(ref api.CallRef) {
	t.poller.Post(api.Event{Token: uint64(ref), Writable: true, Readable: true})
}

// Resolve accepts the token of any ref ever issued, live or replaced, so
// the loop's own index decides what is stale.
func (t *Transport) Resolve(ev api.Event) (api.CallRef, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ref := api.CallRef(ev.Token)
	return ref, t.issued[ref]
}

func (t *Transport) Send(_ api.Registry, ref api.CallRef) api.SendResult {
	t.mu.Lock()
	c, ok := t.calls[ref]
	if !ok {
		t.mu.Unlock()
		return api.SendResult{State: api.SendError, Err: fmt.Errorf("send on ref %d: %w", ref, api.ErrUnknownCall)}
	}
	if c.plan.Panic != nil {
		t.mu.Unlock()
		panic(c.plan.Panic)
	}
	defer t.mu.Unlock()

	res := api.SendResult{State: api.SendReceiving}
	if c.send < len(c.plan.Send) {
		res = c.plan.Send[c.send]
		c.send++
	}
	if res.State == api.SendWait {
		t.post(ref)
	}
	return res
}

func (t *Transport) Recv(reg api.Registry, ref api.CallRef, body *[]byte) api.RecvResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.calls[ref]
	if !ok {
		return api.RecvResult{State: api.RecvError, Err: fmt.Errorf("recv on ref %d: %w", ref, api.ErrUnknownCall)}
	}

	step := RecvStep{Result: api.RecvResult{State: api.RecvHeaders, Code: 200, BodyDone: true}}
	if c.recv < len(c.plan.Recv) {
		step = c.plan.Recv[c.recv]
		c.recv++
	}
	*body = append(*body, step.Body...)
	res := step.Result

	switch res.State {
	case api.RecvWait:
		t.post(ref)
	case api.RecvHeaders:
		if !res.BodyDone {
			t.post(ref)
		}
	case api.RecvResend:
		// The old ref stays resolvable and gets one more event, which the
		// loop must drop.
		delete(t.calls, ref)
		_ = reg.Unregister(int(ref))
		next := t.issue()
		t.calls[next] = c
		_ = reg.Register(int(next), api.InterestWrite, uint64(next))
		res.Ref = next
		t.post(ref)
		t.post(next)
	}
	return res
}

func (t *Transport) Release(reg api.Registry, ref api.CallRef) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.calls[ref]; !ok {
		return
	}
	delete(t.calls, ref)
	_ = reg.Unregister(int(ref))
	t.released++
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.calls = make(map[api.CallRef]*fakeCall)
	return nil
}

// Opened returns copies of every submission passed to Open.
func (t *Transport) Opened() []api.Submission {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]api.Submission(nil), t.opened...)
}

// Policies returns the policy of every Open call.
func (t *Transport) Policies() []api.CallPolicy {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]api.CallPolicy(nil), t.policies...)
}

// Released reports how many live calls were released.
func (t *Transport) Released() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.released
}

// Live reports the number of calls not yet released.
func (t *Transport) Live() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}

// Closed reports whether Close was called.
func (t *Transport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}
