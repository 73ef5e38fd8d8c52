// File: internal/concurrency/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Concurrency primitives shared by the caller and the call loop.
// The two Mailboxes are the only points of contact between the host's
// goroutines and the loop's single owning goroutine.
package concurrency
