// File: observability/observer.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package observability carries structured events (fault records, lifecycle
// notices) from dispatcher components to a logging sink. Level values align
// with OpenTelemetry SeverityNumbers.
package observability

import (
	"context"
	"log/slog"
	"time"
)

// Level represents event severity aligned with OTel SeverityNumber ranges.
type Level int

const (
	LevelVerbose Level = 5  // OTel DEBUG (5-8)
	LevelInfo    Level = 9  // OTel INFO (9-12)
	LevelWarning Level = 13 // OTel WARN (13-16)
	LevelError   Level = 17 // OTel ERROR (17-20)
)

// String returns the OTel severity text for the level.
func (l Level) String() string {
	switch {
	case l <= 4:
		return "TRACE"
	case l <= 8:
		return "DEBUG"
	case l <= 12:
		return "INFO"
	case l <= 16:
		return "WARN"
	case l <= 20:
		return "ERROR"
	default:
		return "FATAL"
	}
}

// SlogLevel maps this level to the corresponding slog.Level.
func (l Level) SlogLevel() slog.Level {
	switch {
	case l <= 8:
		return slog.LevelDebug
	case l <= 12:
		return slog.LevelInfo
	case l <= 16:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

// EventType identifies the kind of event. It becomes the log message.
type EventType string

// Event types emitted by dispatcher components.
const (
	EventLoopExited  EventType = "call loop exited"
	EventLoopStarted EventType = "call loop started"
)

// Event is an observability event. Service identifies the emitting service;
// Data keys become top-level attributes.
type Event struct {
	Type      EventType
	Level     Level
	Timestamp time.Time
	Service   string
	Data      map[string]any
}

// Observer receives events for logging, tracing, or metrics.
type Observer interface {
	OnEvent(ctx context.Context, event Event)
}

// NoOpObserver discards all events.
type NoOpObserver struct{}

func (NoOpObserver) OnEvent(ctx context.Context, event Event) {}
