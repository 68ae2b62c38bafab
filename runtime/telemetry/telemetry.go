// Package telemetry defines the observability facade used across the engine.
// The conductor and lifecycle manager log, count and trace exclusively
// through these interfaces; production wiring delegates to goa.design/clue
// logging and OpenTelemetry (see NewClueLogger and friends), while tests use
// the no-op implementations.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
)

type (
	// Logger emits structured log messages with alternating key/value pairs.
	Logger interface {
		Debug(ctx context.Context, msg string, keyvals ...any)
		Info(ctx context.Context, msg string, keyvals ...any)
		Warn(ctx context.Context, msg string, keyvals ...any)
		Error(ctx context.Context, msg string, keyvals ...any)
	}

	// Metrics records engine counters and timers. Tags are alternating
	// key/value strings.
	Metrics interface {
		IncCounter(name string, value float64, tags ...string)
		RecordTimer(name string, duration time.Duration, tags ...string)
	}

	// Tracer creates spans around node execution.
	Tracer interface {
		Start(ctx context.Context, name string, attrs ...any) (context.Context, Span)
	}

	// Span is an in-flight trace span.
	Span interface {
		End()
		SetStatus(code codes.Code, description string)
		RecordError(err error)
	}
)
