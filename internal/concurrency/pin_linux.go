//go:build linux
// +build linux

// hioload-dispatch/internal/concurrency/pin_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux thread pinning through sched_setaffinity(2), without cgo.

package concurrency

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

// PinCurrentThread locks the calling goroutine to its OS thread and, when
// cpu >= 0, restricts that thread to the given core. The returned func
// restores the previous mask and unlocks the thread; call it from the same
// goroutine.
func PinCurrentThread(cpu int) (unpin func(), err error) {
	runtime.LockOSThread()
	if cpu < 0 {
		return runtime.UnlockOSThread, nil
	}

	var prev unix.CPUSet
	if err := unix.SchedGetaffinity(0, &prev); err != nil {
		runtime.UnlockOSThread()
		return nil, fmt.Errorf("sched_getaffinity: %w", err)
	}
	var mask unix.CPUSet
	mask.Set(cpu)
	if err := unix.SchedSetaffinity(0, &mask); err != nil {
		runtime.UnlockOSThread()
		return nil, fmt.Errorf("sched_setaffinity cpu %d: %w", cpu, err)
	}
	return func() {
		_ = unix.SchedSetaffinity(0, &prev)
		runtime.UnlockOSThread()
	}, nil
}
