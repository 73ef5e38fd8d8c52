// File: caller/options.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package caller

import (
	"log/slog"
	"time"

	"github.com/momentics/hioload-dispatch/control"
)

// DefaultTimeout applies to requests submitted with a zero timeout.
const DefaultTimeout = 10 * time.Second

// Option customizes a Caller.
type Option func(*Caller)

// WithClock replaces time.Now when computing deadline headers.
func WithClock(now func() time.Time) Option {
	return func(c *Caller) {
		if now != nil {
			c.now = now
		}
	}
}

// WithDefaultTimeout sets the timeout for requests that carry none.
func WithDefaultTimeout(d time.Duration) Option {
	return func(c *Caller) {
		if d > 0 {
			c.defaultTimeout = d
		}
	}
}

// WithLogger sets the caller's logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Caller) {
		if l != nil {
			c.log = l
		}
	}
}

// WithMetrics publishes submission counters to mr.
func WithMetrics(mr *control.MetricsRegistry) Option {
	return func(c *Caller) {
		c.metrics = mr
	}
}
