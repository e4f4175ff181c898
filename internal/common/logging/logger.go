// Package logging provides structured logging using zap
package logging

import (
	"context"
	"fmt"
	"io"
	"time"
)

// NewDefaultLogger creates a logger with default configuration using zap
func NewDefaultLogger() Logger {
	logger, err := NewZapLogger(DefaultLogConfig())
	if err != nil {
		panic(fmt.Sprintf("failed to initialize default zap logger: %v", err))
	}
	return logger
}

// InitGlobalLogger replaces the global logger with one at the given level
// and format, writing to out (stdout when nil).
func InitGlobalLogger(level, format string, out io.Writer) Logger {
	parsed := ParseLevel(level)
	logger, err := NewZapLogger(LogConfig{
		Level:  parsed,
		Format: format,
		Output: out,
		Prefix: "dsrouter",
	})
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}

	SetGlobalLogger(logger)
	logger.Debug("Logger initialized", String("level", parsed.String()))
	return logger
}

// MustSync flushes any buffered log entries for zap loggers
// This should be called before application exit
func MustSync() {
	if zapLogger, ok := GetGlobalLogger().(*ZapAdapter); ok {
		_ = zapLogger.Sync()
	}
}

// WithContext is a convenience function to add context to the global logger
func WithContext(ctx context.Context) Logger {
	return GetGlobalLogger().WithContext(ctx)
}

// WithFields is a convenience function to add fields to the global logger
func WithFields(fields ...Field) Logger {
	return GetGlobalLogger().WithFields(fields...)
}

// Field constructors

// String creates a string field
func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

// Strings creates a string slice field
func Strings(key string, values []string) Field {
	return Field{Key: key, Value: values}
}

// Int creates an int field
func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

// Bool creates a bool field
func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

// Duration creates a duration field
func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value}
}

// Any creates a field with any value
func Any(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

// Err creates an error field with key "error"
func Err(err error) Field {
	return Field{Key: "error", Value: err}
}

// DataSource names the datasource an entry concerns
func DataSource(name string) Field {
	return Field{Key: "datasource", Value: name}
}

// RoutingKey names the routing key in effect
func RoutingKey(key string) Field {
	return Field{Key: "routing_key", Value: key}
}

// Group names a datasource group
func Group(group string) Field {
	return Field{Key: "group", Value: group}
}
