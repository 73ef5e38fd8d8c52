// File: observability/slog.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package observability

import (
	"context"
	"io"
	"log/slog"
	"sort"
)

// SlogObserver emits events to a slog.Logger. The event type becomes the
// message, the service and Data keys become attributes.
type SlogObserver struct {
	logger *slog.Logger
}

// NewSlogObserver creates a SlogObserver that emits to the given logger.
func NewSlogObserver(logger *slog.Logger) *SlogObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogObserver{logger: logger}
}

func (o *SlogObserver) OnEvent(ctx context.Context, event Event) {
	keys := make([]string, 0, len(event.Data))
	for k := range event.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	attrs := make([]slog.Attr, 0, len(keys)+1)
	attrs = append(attrs, slog.String("service", event.Service))
	for _, k := range keys {
		attrs = append(attrs, slog.Any(k, event.Data[k]))
	}
	o.logger.LogAttrs(ctx, event.Level.SlogLevel(), string(event.Type), attrs...)
}

// NewJSONLogger returns a logger writing one JSON object per line to w.
func NewJSONLogger(w io.Writer, level slog.Leveler) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}
