// File: facade/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package facade wires a complete dispatcher from a control.Config: the
// two mailboxes, the host-facing Caller, and a supervised call loop built
// on the epoll reactor and the httpc transport.
package facade
