// File: recovery/options.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package recovery

import (
	"log/slog"
	"time"

	"github.com/momentics/hioload-dispatch/control"
	"github.com/momentics/hioload-dispatch/observability"
)

// DefaultBackoff is the pause between a fault and the restart.
const DefaultBackoff = time.Second

// Option customizes a Restarter.
type Option func(*Restarter)

// WithBackoff sets the pause before each restart.
func WithBackoff(d time.Duration) Option {
	return func(r *Restarter) {
		if d > 0 {
			r.backoff = d
		}
	}
}

// WithObserver sets the sink for fault records.
func WithObserver(o observability.Observer) Option {
	return func(r *Restarter) {
		if o != nil {
			r.observer = o
		}
	}
}

// WithMetrics publishes the restart counter to mr.
func WithMetrics(mr *control.MetricsRegistry) Option {
	return func(r *Restarter) {
		r.metrics = mr
	}
}

// WithLogger sets the logger for lifecycle notices.
func WithLogger(l *slog.Logger) Option {
	return func(r *Restarter) {
		if l != nil {
			r.log = l
		}
	}
}
