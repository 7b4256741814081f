// Package telemetry defines the logging, metrics, and tracing interfaces
// every orchestrator component accepts through its constructor. There are no
// package-level loggers or global tracers: components are always wired with
// explicit instances, defaulting to no-ops in tests.
package telemetry

import (
	"context"
	"time"
)

type (
	// Logger emits structured log records. Implementations must be safe for
	// concurrent use.
	Logger interface {
		Debug(ctx context.Context, msg string, kv ...any)
		Info(ctx context.Context, msg string, kv ...any)
		Warn(ctx context.Context, msg string, kv ...any)
		Error(ctx context.Context, msg string, kv ...any)
	}

	// Metrics records counters, timers, and gauges. Implementations must be
	// safe for concurrent use.
	Metrics interface {
		IncCounter(name string, value float64, tags ...string)
		RecordTimer(name string, d time.Duration, tags ...string)
		RecordGauge(name string, value float64, tags ...string)
	}

	// Tracer starts spans around suspension points (LLM calls, tool calls,
	// backoff sleeps). Implementations must be safe for concurrent use.
	Tracer interface {
		StartSpan(ctx context.Context, name string) (context.Context, Span)
	}

	// Span is a single unit of tracing work.
	Span interface {
		SetAttributes(kv ...any)
		SetStatusError(err error)
		End()
	}
)
