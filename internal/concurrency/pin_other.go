//go:build !linux
// +build !linux

// hioload-dispatch/internal/concurrency/pin_other.go
// Author: momentics <momentics@gmail.com>
//
// Thread locking without CPU affinity on platforms other than Linux.

package concurrency

import "runtime"

// PinCurrentThread locks the calling goroutine to its OS thread. The cpu
// argument is ignored here.
func PinCurrentThread(cpu int) (unpin func(), err error) {
	runtime.LockOSThread()
	return runtime.UnlockOSThread, nil
}
