package logging

import (
	"context"
)

type contextKey string

const loggerKey contextKey = "logger"

// FromContext returns the logger stored in ctx, or fallback when there is
// none. A nil fallback means the global logger.
func FromContext(ctx context.Context, fallback *Logger) *Logger {
	if ctx != nil {
		if logger, ok := ctx.Value(loggerKey).(*Logger); ok {
			return logger
		}
	}
	if fallback != nil {
		return fallback
	}
	return GetGlobalLogger()
}

// IntoContext returns a new context with the logger
func IntoContext(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// LoggerForSwitch returns a logger with switch-specific fields
func LoggerForSwitch(base *Logger, id uint64) *Logger {
	return base.WithValues("switch", id)
}

// LoggerForComponent returns a named logger for one subsystem
// (controller, executor, provider, replay)
func LoggerForComponent(name string) *Logger {
	return GetGlobalLogger().WithName(name)
}

// LoggerForProvider returns a logger for configuration providers
func LoggerForProvider(provider string) *Logger {
	return GetGlobalLogger().WithName("provider").WithValues(
		"provider", provider,
	)
}
