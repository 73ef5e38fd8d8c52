// File: callloop/options.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package callloop

import (
	"log/slog"

	"github.com/momentics/hioload-dispatch/control"
	"github.com/momentics/hioload-dispatch/reactor"
)

// Option customizes a Loop.
type Option func(*Loop)

// WithLogger sets the loop's logger.
func WithLogger(l *slog.Logger) Option {
	return func(lp *Loop) {
		if l != nil {
			lp.log = l
		}
	}
}

// WithMetrics publishes call counters to mr.
func WithMetrics(mr *control.MetricsRegistry) Option {
	return func(lp *Loop) {
		lp.metrics = mr
	}
}

// WithMaxEvents sets how many readiness events one Wait may return.
func WithMaxEvents(n int) Option {
	return func(lp *Loop) {
		if n > 0 {
			lp.maxEvents = n
		}
	}
}

// WithCPU pins the loop's OS thread to cpu. Negative values only lock the
// goroutine to its thread.
func WithCPU(cpu int) Option {
	return func(lp *Loop) {
		lp.cpu = cpu
	}
}

func defaultMaxEvents() int { return reactor.DefaultMaxEvents }
