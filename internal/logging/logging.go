// Package logging provides structured logging for sdnctl.
//
// The zap logger is wrapped with the logr interface. It supports:
// - JSON and text output formats
// - Structured key-value logging
// - Context-aware logging
//
// Usage:
//
//	logger, err := logging.NewLogger(logging.Options{Level: "info", Format: "json"})
//	logger.Info("Decision", "switch", 1, "action", "ACCEPT")
//	logger.Error(err, "Flow install failed", "switch", 2)
package logging

import (
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log level constants
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Log format constants
const (
	FormatJSON = "json"
	FormatText = "text"
)

// Options contains configuration options for the logger
type Options struct {
	// Level is the log level: debug, info, warn, error
	// Default: info
	Level string

	// Format is the log format: json or text
	// Default: json
	Format string

	// OutputPath is the output file path
	// If empty, logs to stdout unless Output is set
	OutputPath string

	// Output overrides OutputPath; used by tests and embedding callers
	Output io.Writer

	// AddCaller adds caller information to log entries
	AddCaller bool
}

// DefaultOptions returns default logging options
func DefaultOptions() Options {
	return Options{
		Level:     LevelInfo,
		Format:    FormatJSON,
		AddCaller: true,
	}
}

// Logger wraps a zap logger behind the logr interface
type Logger struct {
	zapLogger *zap.Logger
	logr      logr.Logger
}

var (
	globalLogger atomic.Value
	initMu       sync.Mutex
)

// NewLogger creates a new logger with the given options
func NewLogger(opts Options) (*Logger, error) {
	atomicLevel := zap.NewAtomicLevelAt(parseLevel(opts.Level))

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var encoder zapcore.Encoder
	if opts.Format == FormatText {
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	var output zapcore.WriteSyncer
	switch {
	case opts.Output != nil:
		output = zapcore.Lock(zapcore.AddSync(opts.Output))
	case opts.OutputPath != "":
		file, err := os.OpenFile(opts.OutputPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, err
		}
		output = zapcore.Lock(file)
	default:
		output = zapcore.Lock(os.Stdout)
	}

	core := zapcore.NewCore(encoder, output, atomicLevel)

	zapOpts := []zap.Option{}
	if opts.AddCaller {
		zapOpts = append(zapOpts, zap.AddCaller(), zap.AddCallerSkip(1))
	}

	zapLogger := zap.New(core, zapOpts...)

	return &Logger{
		zapLogger: zapLogger,
		logr:      zapr.NewLogger(zapLogger),
	}, nil
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// WithName returns a new logger with the given name
func (l *Logger) WithName(name string) *Logger {
	return &Logger{
		zapLogger: l.zapLogger.Named(name),
		logr:      l.logr.WithName(name),
	}
}

// WithValues returns a new logger with the given key-value pairs
func (l *Logger) WithValues(keysAndValues ...interface{}) *Logger {
	return &Logger{
		zapLogger: l.zapLogger.With(toZapFields(keysAndValues)...),
		logr:      l.logr.WithValues(keysAndValues...),
	}
}

// Debug logs a debug message with key-value pairs
func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.logr.V(1).Info(msg, keysAndValues...)
}

// Info logs an info message with key-value pairs
func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.logr.Info(msg, keysAndValues...)
}

// Warn logs a warning message with key-value pairs
func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	// logr has no warn level
	l.zapLogger.Warn(msg, toZapFields(keysAndValues)...)
}

// Error logs an error message with key-value pairs
func (l *Logger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logr.Error(err, msg, keysAndValues...)
}

// Sync flushes any buffered log entries
func (l *Logger) Sync() error {
	return l.zapLogger.Sync()
}

func toZapFields(keysAndValues []interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		if key, ok := keysAndValues[i].(string); ok {
			fields = append(fields, zap.Any(key, keysAndValues[i+1]))
		}
	}
	return fields
}

// InitGlobalLogger builds a logger from opts and makes it the global one.
// Later calls replace the previous global logger.
func InitGlobalLogger(opts Options) (*Logger, error) {
	initMu.Lock()
	defer initMu.Unlock()

	logger, err := NewLogger(opts)
	if err != nil {
		return nil, err
	}
	globalLogger.Store(logger)
	return logger, nil
}

// GetGlobalLogger returns the global logger instance, creating a default one
// when none was initialized
func GetGlobalLogger() *Logger {
	if l := globalLogger.Load(); l != nil {
		return l.(*Logger)
	}
	initMu.Lock()
	defer initMu.Unlock()
	if l := globalLogger.Load(); l != nil {
		return l.(*Logger)
	}
	logger, _ := NewLogger(DefaultOptions())
	globalLogger.Store(logger)
	return logger
}
