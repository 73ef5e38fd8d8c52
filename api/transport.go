// File: api/transport.go
// Author: momentics <momentics@gmail.com>
//
// Defines the non-blocking HTTP transport capability driven by the call loop.
// A transport places calls, maps readiness events back to call refs and
// advances calls through their send and receive phases.

package api

// CallPolicy is the fixed policy the call loop layers on every call.
type CallPolicy struct {
	MaxRedirects int  // redirects the transport may follow on its own
	AcceptGzip   bool // advertise and decode gzip response bodies
}

// SendState is the outcome of advancing a call's send phase.
type SendState int

const (
	SendWait      SendState = iota // more I/O needed
	SendReceiving                  // request written, awaiting response
	SendError
)

// SendResult carries a SendState and, for SendError, its cause.
type SendResult struct {
	State SendState
	Err   error
}

// RecvState is the outcome of advancing a call's receive phase.
type RecvState int

const (
	RecvWait     RecvState = iota // more I/O needed
	RecvHeaders                   // status and headers available
	RecvBodyDone                  // body complete
	RecvResend                    // request must be sent again, possibly on a new ref
	RecvError
)

// RecvResult carries a RecvState and its payload.
type RecvResult struct {
	State RecvState

	// RecvHeaders
	Code    int
	Headers []Pair
	// BodyDone is set with RecvHeaders when nothing more is to be received:
	// the body is empty or arrived entirely with the headers.
	BodyDone bool

	// RecvResend: the ref future readiness events resolve to.
	Ref CallRef

	// RecvError
	Err error
}

// Transport is the capability the call loop drives. All methods are called
// from the loop's goroutine only.
type Transport interface {
	// Open places a call and registers its descriptors with reg.
	Open(sub *Submission, policy CallPolicy, reg Registry) (CallRef, error)

	// Resolve maps a readiness event to the ref it belongs to.
	// Events of released or replaced refs report false.
	Resolve(ev Event) (CallRef, bool)

	// Send continues writing the request.
	Send(reg Registry, ref CallRef) SendResult

	// Recv continues reading the response, appending body bytes to body.
	Recv(reg Registry, ref CallRef, body *[]byte) RecvResult

	// Release unregisters and frees a call.
	Release(reg Registry, ref CallRef)

	// Close frees every remaining call.
	Close() error
}
