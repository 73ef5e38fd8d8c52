// Package recovery supervises the call loop: every unexpected exit is
// reported once to an observability sink, and after a fixed backoff a fresh
// engine instance is started on the same mailboxes.
//
// Calls in flight inside a crashed instance are lost; their ids never
// complete.
package recovery
