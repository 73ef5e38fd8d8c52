// File: caller/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package caller is the host-facing side of the dispatcher. It issues call
// ids, forwards submissions to the call loop and files completions so the
// host can poll for one id or block until any of a set completes.
//
// Every method is safe for concurrent use.
package caller
