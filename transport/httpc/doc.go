// File: transport/httpc/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package httpc is a non-blocking HTTP/1.1 client driven by readiness events.
//
// Every call owns a non-blocking TCP socket and, when it carries a timeout,
// a timerfd; both are registered with the caller-supplied api.Registry and
// tagged with the call's ref. The owner of the registry waits for readiness,
// maps events back to refs with Resolve and advances each call with Send
// and Recv. The client never blocks on the network and never follows
// redirects. A connection that closes before yielding any response byte is
// re-established on a fresh socket and reported as api.RecvResend.
//
// TLS is not implemented; calls with UseTLS fail at Open.
package httpc
