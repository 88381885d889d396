// Package observability holds the logging and metrics seams shared by the
// services, the update hub and the client session.
package observability

import (
	"context"
	"time"
)

// Logger is the structured logging surface used across the module.
// *slog.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// NoopLogger discards everything.
type NoopLogger struct{}

func (NoopLogger) Debug(string, ...any) {}
func (NoopLogger) Info(string, ...any)  {}
func (NoopLogger) Warn(string, ...any)  {}
func (NoopLogger) Error(string, ...any) {}

// MetricsRecorder observes the outcome of one service operation.
type MetricsRecorder interface {
	Observe(ctx context.Context, store, operation string, success bool, duration time.Duration)
}

// NoopMetrics drops every observation.
type NoopMetrics struct{}

func (NoopMetrics) Observe(context.Context, string, string, bool, time.Duration) {}

// LoggerOrNoop returns l, or a NoopLogger when l is nil.
func LoggerOrNoop(l Logger) Logger {
	if l == nil {
		return NoopLogger{}
	}
	return l
}
