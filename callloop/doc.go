// Package callloop runs the transport event loop: a single goroutine that
// owns the readiness poller and the transport, takes submissions from the
// inbound mailbox, drives every call through its send and receive phases
// and hands each terminal result to the outbound mailbox.
//
// Call state and the ref index are confined to the loop goroutine and are
// never locked.
package callloop
