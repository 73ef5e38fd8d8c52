// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides the OS readiness multiplexer the call loop waits on.
// Linux uses epoll through golang.org/x/sys/unix; other platforms get a stub
// that fails at construction.
package reactor
