// File: facade/options.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package facade

import (
	"io"
	"log/slog"
)

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the base logger; components derive theirs from it.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.log = l
		}
	}
}

// WithFaultSink sets where fault records are written as JSON lines.
// The default is standard output.
func WithFaultSink(w io.Writer) Option {
	return func(d *Dispatcher) {
		if w != nil {
			d.faultSink = w
		}
	}
}

// WithEngine replaces the engine factory, e.g. to run over test doubles.
func WithEngine(start EngineFunc) Option {
	return func(d *Dispatcher) {
		if start != nil {
			d.engine = start
		}
	}
}
