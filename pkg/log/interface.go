// Package log provides the structured logging interface used across fastinference.
//
// The interface is slog-compatible in shape so call sites read the same whether
// the backend is zerolog (the default) or a test logger capturing output in
// memory. Keys from attributes.go keep pipeline, transform and artifact logs
// consistent.
//
// Example usage:
//
//	logger := log.GetLogger().With(
//	    log.PipelineStageKey, "after_item",
//	)
//	logger.Info("Transform instantiated",
//	    log.TransformNameKey, "Resize",
//	    log.TransformOrderKey, 1,
//	)
package log

import (
	"context"
)

// Logger defines a structured logging interface compatible with Go's log/slog.
//
// Fields are key-value pairs. An error given as the first field of Error is
// logged under the "error" key together with its stack trace.
type Logger interface {
	// Debug logs a debug-level message with optional structured fields.
	Debug(msg string, fields ...any)

	// Info logs an info-level message with optional structured fields.
	Info(msg string, fields ...any)

	// Warn logs a warning-level message with optional structured fields.
	Warn(msg string, fields ...any)

	// Error logs an error-level message with optional structured fields.
	//
	// Example:
	//   logger.Error("Pipeline build failed",
	//       err,
	//       log.PipelineStageKey, "after_batch",
	//   )
	Error(msg string, fields ...any)

	// With returns a new Logger with the given fields pre-populated.
	With(fields ...any) Logger

	// Enabled reports whether the logger emits log records at the given level.
	Enabled(ctx context.Context, level Level) bool
}

// Level represents a logging level, compatible with slog.Level.
type Level int

// Standard logging levels, values are compatible with slog.Level.
const (
	LevelDebug Level = -4
	LevelInfo  Level = 0
	LevelWarn  Level = 4
	LevelError Level = 8
)

// String returns the string representation of the log level.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}
