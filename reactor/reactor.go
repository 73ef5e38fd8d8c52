// File: reactor/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral helpers shared by reactor implementations.

package reactor

import "errors"

// DefaultMaxEvents is the event batch size used when callers do not pick one.
const DefaultMaxEvents = 128

// wakeToken is reserved for the reactor's own wakeup descriptor.
const wakeToken = ^uint64(0)

// ErrClosed is returned by operations on a closed reactor.
var ErrClosed = errors.New("reactor: closed")

// splitToken spreads a 64-bit token over the two 32-bit user words of an event.
func splitToken(token uint64) (lo, hi int32) {
	return int32(uint32(token)), int32(uint32(token >> 32))
}

// joinToken reverses splitToken.
func joinToken(lo, hi int32) uint64 {
	return uint64(uint32(lo)) | uint64(uint32(hi))<<32
}
