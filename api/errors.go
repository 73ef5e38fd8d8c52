// Package api
// Author: momentics <momentics@gmail.com>
//
// Common error types and error classification for hioload-dispatch.

package api

import (
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"
)

// Common errors used across the library.
var (
	ErrTransportUnavailable = errors.New("transport unavailable")
	ErrClosed               = errors.New("closed")
	ErrUnknownID            = errors.New("unknown call id")
	ErrNoIDs                = errors.New("no call ids given")
	ErrTimeout              = errors.New("call timed out")
	ErrTLSUnsupported       = errors.New("tls not supported by transport")
	ErrUnknownCall          = errors.New("unknown call reference")
	ErrInvalidArgument      = errors.New("invalid argument")
)

// ContractError reports caller misuse such as an unknown or cleared CallID.
// It signals a programming error in the host, not a runtime failure.
type ContractError struct {
	Op  string
	ID  CallID
	Err error
}

func (e *ContractError) Error() string {
	if e.ID == 0 {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %v: %d", e.Op, e.Err, e.ID)
}

func (e *ContractError) Unwrap() error { return e.Err }

// IsContractViolation reports whether err stems from caller misuse.
func IsContractViolation(err error) bool {
	var ce *ContractError
	return errors.As(err, &ce)
}

// ErrorKind classifies a call failure cause.
type ErrorKind int

const (
	KindRuntime ErrorKind = iota
	KindIO
	KindTimeout
)

func (k ErrorKind) String() string {
	switch k {
	case KindIO:
		return "io"
	case KindTimeout:
		return "timeout"
	default:
		return "runtime"
	}
}

// Classify maps a failure cause to the kind a host uses to pick its native
// error representation (OS error, timeout, generic runtime error).
func Classify(err error) ErrorKind {
	var (
		sysErr *os.SyscallError
		errno  syscall.Errno
	)
	switch {
	case err == nil:
		return KindRuntime
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.As(err, &sysErr), errors.As(err, &errno), errors.Is(err, io.ErrUnexpectedEOF):
		return KindIO
	default:
		return KindRuntime
	}
}
