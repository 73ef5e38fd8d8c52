// File: facade/dispatch.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package facade

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/momentics/hioload-dispatch/adapters"
	"github.com/momentics/hioload-dispatch/api"
	"github.com/momentics/hioload-dispatch/caller"
	"github.com/momentics/hioload-dispatch/callloop"
	"github.com/momentics/hioload-dispatch/control"
	"github.com/momentics/hioload-dispatch/internal/concurrency"
	"github.com/momentics/hioload-dispatch/observability"
	"github.com/momentics/hioload-dispatch/reactor"
	"github.com/momentics/hioload-dispatch/recovery"
	"github.com/momentics/hioload-dispatch/transport/httpc"
)

// ErrAlreadyStarted is returned by a second Start.
var ErrAlreadyStarted = errors.New("dispatcher already started")

// EngineFunc builds one engine instance over the dispatcher's mailboxes.
type EngineFunc func(in *concurrency.Mailbox[api.Submission], out *concurrency.Mailbox[api.Completion], instance uuid.UUID) (recovery.Runner, error)

// Dispatcher is the host-facing entry point. The embedded Caller provides
// Submit, PollReady, BlockOnIDs, Clear, SetTrace and SetClient.
type Dispatcher struct {
	*caller.Caller

	cfg       control.Config
	in        *concurrency.Mailbox[api.Submission]
	out       *concurrency.Mailbox[api.Completion]
	control   *adapters.ControlAdapter
	log       *slog.Logger
	faultSink io.Writer
	engine    EngineFunc

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{} // closed when the supervisor returns
	runErr  error
}

// New builds a dispatcher from cfg. Nothing runs until Start.
func New(cfg control.Config, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		cfg:       cfg,
		in:        concurrency.NewMailbox[api.Submission](),
		out:       concurrency.NewMailbox[api.Completion](),
		log:       slog.Default(),
		faultSink: os.Stdout,
	}
	for _, o := range opts {
		o(d)
	}
	if d.engine == nil {
		d.engine = d.defaultEngine
	}

	d.control = adapters.NewControlAdapter(cfg, nil)
	d.Caller = caller.New(d.in, d.out,
		caller.WithDefaultTimeout(cfg.DefaultTimeout),
		caller.WithLogger(d.log.With(slog.String("component", "caller"))),
		caller.WithMetrics(d.control.Metrics()),
	)
	d.control.RegisterDebugProbe("caller.pending", func() any {
		p, _ := d.Caller.Stats()
		return p
	})
	d.control.RegisterDebugProbe("caller.completed", func() any {
		_, c := d.Caller.Stats()
		return c
	})
	d.control.RegisterDebugProbe("mailbox.inbound", func() any { return d.in.Len() })
	d.control.RegisterDebugProbe("mailbox.outbound", func() any { return d.out.Len() })
	return d
}

// Start runs the supervised call loop on its own goroutine.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return ErrAlreadyStarted
	}
	d.started = true

	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.done = make(chan struct{})

	faults := observability.NewSlogObserver(observability.NewJSONLogger(d.faultSink, slog.LevelInfo))
	r := recovery.New(d.cfg.ServiceName,
		func(instance uuid.UUID) (recovery.Runner, error) {
			return d.engine(d.in, d.out, instance)
		},
		recovery.WithBackoff(d.cfg.RestartBackoff),
		recovery.WithObserver(faults),
		recovery.WithMetrics(d.control.Metrics()),
		recovery.WithLogger(d.log.With(slog.String("component", "recovery"))),
	)
	done := d.done
	go func() {
		err := r.Run(ctx)
		d.mu.Lock()
		d.runErr = err
		d.mu.Unlock()
		close(done)
	}()

	d.log.Info("dispatcher started", slog.String("service", d.cfg.ServiceName))
	return nil
}

func (d *Dispatcher) defaultEngine(in *concurrency.Mailbox[api.Submission], out *concurrency.Mailbox[api.Completion], instance uuid.UUID) (recovery.Runner, error) {
	poller, err := reactor.NewReactor()
	if err != nil {
		return nil, err
	}
	log := d.log.With(slog.String("instance", instance.String()))
	tr := httpc.New(
		httpc.WithMaxRetries(d.cfg.MaxRetries),
		httpc.WithLogger(log.With(slog.String("component", "httpc"))),
	)
	return callloop.New(in, out, poller, tr,
		callloop.WithLogger(log.With(slog.String("component", "callloop"))),
		callloop.WithMetrics(d.control.Metrics()),
		callloop.WithMaxEvents(d.cfg.MaxEvents),
		callloop.WithCPU(d.cfg.LoopCPU),
	), nil
}

// Control exposes configuration, metrics and debug probes.
func (d *Dispatcher) Control() api.Control {
	return d.control
}

// Close shuts the mailboxes and waits for the supervisor to stop. Calls
// still in flight are abandoned; Close does not wait for their timeouts.
func (d *Dispatcher) Close() error {
	d.Caller.Close()

	d.mu.Lock()
	started, cancel, done := d.started, d.cancel, d.done
	d.mu.Unlock()
	if !started {
		return nil
	}
	cancel()
	<-done

	d.mu.Lock()
	err := d.runErr
	d.mu.Unlock()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("dispatcher: %w", err)
	}
	return nil
}
