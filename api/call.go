// File: api/call.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Call records exchanged between the host-facing caller and the call loop.
// Submissions flow host→engine, completions flow engine→host; both are
// handed over by value and never shared after enqueue.

package api

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// CallID correlates a submission with its completion. Issued by the caller,
// starting at 1 and strictly increasing per caller instance.
type CallID int64

// CallRef is the transport-level handle of one in-flight network call.
// A retry or reconnect may replace the ref of a live call.
type CallRef uint64

// Pair is an ordered key/value entry. Used for query parameters and headers,
// where order is significant and duplicate keys are allowed.
type Pair struct {
	Key   string
	Value string
}

// Failure actions reported in CallError.Action.
const (
	ActionCreate = "couldn't create call"
	ActionSend   = "couldn't send request"
	ActionRecv   = "couldn't receive response"
)

// Request describes one outbound HTTP call as given by the host.
type Request struct {
	Timeout      time.Duration
	Method       string
	Host         string
	Port         uint16
	PathSegments []string
	UseTLS       bool
	Params       []Pair
	Headers      []Pair
	Body         []byte
}

// Submission is a Request stamped with its correlation identifier.
type Submission struct {
	ID CallID
	Request
}

// Response is a successfully received HTTP response.
type Response struct {
	Code    int
	Headers []Pair
	Body    []byte
}

// Header returns the first value of the named header, matched case-insensitively.
func (r *Response) Header(name string) (string, bool) {
	for _, h := range r.Headers {
		if strings.EqualFold(h.Key, name) {
			return h.Value, true
		}
	}
	return "", false
}

// CallError is a per-call failure tagged with the phase that failed.
type CallError struct {
	Action string
	Err    error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("%s - %v", e.Action, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// Completion is the terminal result for one CallID.
// Exactly one of Response and Err is set.
type Completion struct {
	ID       CallID
	Response *Response
	Err      *CallError
}

// OK reports whether the call produced a response.
func (c Completion) OK() bool { return c.Err == nil }

// Result returns the response, or the failure as an error.
func (c Completion) Result() (*Response, error) {
	if c.Err != nil {
		return nil, c.Err
	}
	return c.Response, nil
}

// LogAttrs returns the attributes a host attaches to its "call complete" record.
func (c Completion) LogAttrs() []slog.Attr {
	if c.Err != nil {
		return []slog.Attr{slog.String("error", c.Err.Error())}
	}
	return []slog.Attr{
		slog.Int("http.code", c.Response.Code),
		slog.Int("http.resp_content_length", len(c.Response.Body)),
	}
}
