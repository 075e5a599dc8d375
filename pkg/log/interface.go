// Package log provides the structured logging interface used across scigbm.
//
// The interface is slog-shaped (message plus alternating key/value fields) and is
// backed by zerolog. Engine components never reach for a global logger directly:
// they receive one through config.Context, and fall back to GetLoggerWithName when
// no context logger is configured.
//
// Example usage:
//
//	logger := log.GetLoggerWithName("boosting").With(log.ComponentKey, "booster")
//	logger.Info("Iteration finished",
//	    log.IterationKey, 12,
//	    log.NumLeavesKey, 31,
//	)
package log

import (
	"context"
)

// Logger defines a structured logging interface compatible with Go's log/slog.
//
// Fields are alternating key/value pairs. If the first field passed to Error is an
// error value, it is logged under the "error" key together with its stack trace.
type Logger interface {
	Debug(msg string, fields ...any)
	Info(msg string, fields ...any)
	Warn(msg string, fields ...any)
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

// LevelFromVerbosity maps the LightGBM style verbose parameter to a level:
// negative values only report errors, 0 warnings, 1 info and above 1 debug.
func LevelFromVerbosity(verbose int) Level {
	switch {
	case verbose < 0:
		return LevelError
	case verbose == 0:
		return LevelWarn
	case verbose == 1:
		return LevelInfo
	default:
		return LevelDebug
	}
}

// LoggerProvider defines an interface for creating and configuring loggers.
type LoggerProvider interface {
	// GetLogger returns the default logger instance.
	GetLogger() Logger

	// GetLoggerWithName returns a logger with a specific name/component identifier.
	GetLoggerWithName(name string) Logger

	// SetLevel sets the minimum log level for all loggers created by this provider.
	SetLevel(level Level)
}
