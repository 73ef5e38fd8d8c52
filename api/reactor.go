// File: api/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Defines the abstract interface for the OS readiness multiplexer
// driven by the call loop (epoll on Linux).

package api

// Interest selects which readiness a registered descriptor reports.
type Interest uint8

const (
	InterestRead Interest = 1 << iota
	InterestWrite
)

// Event encapsulates one OS-level readiness notification.
// The all-ones token is reserved by the reactor.
type Event struct {
	Token    uint64 // opaque value supplied at registration
	Readable bool
	Writable bool
	Hangup   bool // peer hangup or socket error
}

// Registry associates descriptors with the multiplexer.
// Transports use it to (re)arm the sockets and timers of their calls.
type Registry interface {
	Register(fd int, interest Interest, token uint64) error
	Modify(fd int, interest Interest, token uint64) error
	Unregister(fd int) error
}

// Poller is a Registry that can block for readiness.
type Poller interface {
	Registry

	// Wait blocks without timeout until at least one event is ready
	// and fills events. An interrupted wait returns 0, nil.
	Wait(events []Event) (int, error)

	// Wake makes a blocked or upcoming Wait return early, possibly with
	// no events. It is the only method safe to call from other goroutines.
	Wake() error

	// Close releases the multiplexer.
	Close() error
}
