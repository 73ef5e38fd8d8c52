// File: callloop/call.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Per-call state machine: Send, then Recv, then terminal.

package callloop

import "github.com/momentics/hioload-dispatch/api"

const initialBodyCap = 4096

type phase uint8

const (
	phaseSend phase = iota
	phaseRecv
)

// call is the loop-owned state of one in-flight submission.
type call struct {
	id      api.CallID
	ref     api.CallRef
	phase   phase
	code    int
	headers []api.Pair
	body    []byte
	err     *api.CallError
}

func newCall(id api.CallID, ref api.CallRef) *call {
	return &call{
		id:    id,
		ref:   ref,
		phase: phaseSend,
		body:  make([]byte, 0, initialBodyCap),
	}
}

// step advances c by one readiness event. It reports whether c reached a
// terminal state and, when the transport asked for a resend on another
// ref, that ref. The caller owns the ref index and must rekey it.
func (c *call) step(tr api.Transport, reg api.Registry) (done bool, moved api.CallRef) {
	if c.phase == phaseSend {
		res := tr.Send(reg, c.ref)
		switch res.State {
		case api.SendError:
			c.fail(api.ActionSend, res.Err)
			return true, 0
		case api.SendReceiving:
			c.phase = phaseRecv
		default:
			return false, 0
		}
	}

	res := tr.Recv(reg, c.ref, &c.body)
	switch res.State {
	case api.RecvError:
		c.fail(api.ActionRecv, res.Err)
		return true, 0
	case api.RecvHeaders:
		c.code = res.Code
		c.headers = res.Headers
		return res.BodyDone, 0
	case api.RecvBodyDone:
		return true, 0
	case api.RecvResend:
		c.body = c.body[:0]
		c.phase = phaseSend
		if res.Ref != 0 && res.Ref != c.ref {
			return false, res.Ref
		}
	}
	return false, 0
}

func (c *call) fail(action string, err error) {
	c.err = &api.CallError{Action: action, Err: err}
}

// completion hands the accumulated result over; c must not be used after.
func (c *call) completion() api.Completion {
	if c.err != nil {
		return api.Completion{ID: c.id, Err: c.err}
	}
	return api.Completion{ID: c.id, Response: &api.Response{
		Code:    c.code,
		Headers: c.headers,
		Body:    c.body,
	}}
}
