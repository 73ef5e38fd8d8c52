// File: recovery/restarter.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/momentics/hioload-dispatch/control"
	"github.com/momentics/hioload-dispatch/observability"
)

// MetricRestarts counts engine restarts.
const MetricRestarts = "engine.restarts"

// Runner is one engine instance. Run returns nil on a clean stop.
type Runner interface {
	Run() error
}

// StartFunc builds a fresh engine instance tagged with instance.
type StartFunc func(instance uuid.UUID) (Runner, error)

// Restarter runs engine instances one after another until one stops
// cleanly or the context ends.
type Restarter struct {
	service  string
	start    StartFunc
	backoff  time.Duration
	observer observability.Observer
	metrics  *control.MetricsRegistry
	log      *slog.Logger

	now   func() time.Time
	after func(time.Duration) <-chan time.Time
}

// New creates a Restarter for service.
func New(service string, start StartFunc, opts ...Option) *Restarter {
	r := &Restarter{
		service:  service,
		start:    start,
		backoff:  DefaultBackoff,
		observer: observability.NoOpObserver{},
		log:      slog.Default(),
		now:      time.Now,
		after:    time.After,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run supervises until an instance returns nil or ctx is done. The context
// only bounds the backoff and the decision to start again; stopping a
// running instance is up to its owner, typically by closing its mailboxes.
func (r *Restarter) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		instance := uuid.New()
		err := r.runOnce(ctx, instance)
		if err == nil {
			r.log.Info("call loop stopped", slog.String("instance", instance.String()))
			return nil
		}

		r.observer.OnEvent(ctx, observability.Event{
			Type:      observability.EventLoopExited,
			Level:     observability.LevelError,
			Timestamp: r.now(),
			Service:   r.service,
			Data: map[string]any{
				"error":    err.Error(),
				"instance": instance.String(),
			},
		})
		if r.metrics != nil {
			r.metrics.Add(MetricRestarts, 1)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.after(r.backoff):
		}
	}
}

func (r *Restarter) runOnce(ctx context.Context, instance uuid.UUID) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("engine panic: %v", p)
		}
	}()

	runner, err := r.start(instance)
	if err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	r.observer.OnEvent(ctx, observability.Event{
		Type:      observability.EventLoopStarted,
		Level:     observability.LevelVerbose,
		Timestamp: r.now(),
		Service:   r.service,
		Data:      map[string]any{"instance": instance.String()},
	})
	return runner.Run()
}
