// Package logger provides the structured logging interface used across the
// relay, with zerolog-backed console, file and no-op implementations.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Field represents a key-value pair for structured log output.
type Field struct {
	Key   string
	Value any
}

// Err is shorthand for an "error" field.
func Err(err error) Field {
	return Field{Key: "error", Value: err}
}

// Logger is an interface for structured logging. Implementations write log
// entries at different levels and support attaching structured fields.
// Loggers may be derived with With for component-scoped or session-scoped
// fields.
type Logger interface {
	// Debug logs a message at debug level with optional structured fields.
	Debug(msg string, fields ...Field)

	// Info logs a message at info level with optional structured fields.
	Info(msg string, fields ...Field)

	// Warn logs a message at warn level with optional structured fields.
	Warn(msg string, fields ...Field)

	// Error logs a message at error level with optional structured fields.
	Error(msg string, fields ...Field)

	// With returns a new Logger that includes the given fields in all
	// subsequent log entries. The original Logger is unchanged.
	//
	// Parameters:
	//   - fields: Key-value pairs to attach to the derived logger
	//
	// Returns:
	//   - A new Logger with the specified fields
	With(fields ...Field) Logger

	// SetLevel changes the minimum level of this logger and every logger
	// derived from it.
	SetLevel(level zerolog.Level)

	// Close releases resources held by the logger (e.g. file handles).
	// It is safe to call multiple times. Derived loggers never close the
	// underlying file.
	Close() error
}

// zerologLogger is the zerolog-based implementation of Logger.
type zerologLogger struct {
	logger zerolog.Logger
	level  *levelVar
	file   *os.File
}

// levelVar is shared between a root logger and everything derived from it
// so that a live config reload can change verbosity in one place.
type levelVar struct {
	v atomic.Int32
}

func newLevelVar(level zerolog.Level) *levelVar {
	lv := &levelVar{}
	lv.v.Store(int32(level))
	return lv
}

func (l *levelVar) Run(e *zerolog.Event, level zerolog.Level, _ string) {
	if level < zerolog.Level(l.v.Load()) {
		e.Discard()
	}
}

// NewZerologLogger builds a Logger that wraps the given zerolog.Logger,
// adding a service name and timestamp to all entries and filtering by level.
//
// Parameters:
//   - l: The zerolog.Logger to wrap
//   - serviceName: Name of the service, added as a field to every log entry
//   - level: Minimum level to log (e.g. zerolog.InfoLevel)
//
// Returns:
//   - A Logger that writes through the given zerolog instance
func NewZerologLogger(l zerolog.Logger, serviceName string, level zerolog.Level) Logger {
	lv := newLevelVar(level)
	return &zerologLogger{
		logger: l.With().Str("service", serviceName).Timestamp().Logger().Hook(lv),
		level:  lv,
	}
}

// NewConsole creates a Logger that writes human-readable lines to stdout.
//
// Parameters:
//   - serviceName: Name of the service, added as a field to every log entry
//   - level: Minimum level to log
//
// Returns:
//   - A console Logger
func NewConsole(serviceName string, level zerolog.Level) Logger {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}

	return NewZerologLogger(zerolog.New(output), serviceName, level)
}

// NewFile creates a Logger that writes JSON entries to both stdout and the
// file at path. The file is opened in append mode and its parent directory
// is created when missing.
//
// Parameters:
//   - serviceName: Name of the service, added as a field to every log entry
//   - path: Log file path
//   - level: Minimum level to log
//
// Returns:
//   - The Logger, or an error if the file could not be opened
func NewFile(serviceName string, path string, level zerolog.Level) (Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}

	l := NewZerologLogger(zerolog.New(io.MultiWriter(os.Stdout, file)), serviceName, level).(*zerologLogger)
	l.file = file
	return l, nil
}

// Nop returns a Logger that discards everything. Intended for tests.
func Nop() Logger {
	return &zerologLogger{logger: zerolog.Nop(), level: newLevelVar(zerolog.Disabled)}
}

// ParseLevel maps a level name (debug, info, warn, error) to a zerolog level.
// Unknown names map to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Debug implements Logger.
func (z *zerologLogger) Debug(msg string, fields ...Field) {
	z.logger.Debug().Fields(toMap(fields)).Msg(msg)
}

// Info implements Logger.
func (z *zerologLogger) Info(msg string, fields ...Field) {
	z.logger.Info().Fields(toMap(fields)).Msg(msg)
}

// Warn implements Logger.
func (z *zerologLogger) Warn(msg string, fields ...Field) {
	z.logger.Warn().Fields(toMap(fields)).Msg(msg)
}

// Error implements Logger.
func (z *zerologLogger) Error(msg string, fields ...Field) {
	z.logger.Error().Fields(toMap(fields)).Msg(msg)
}

// With implements Logger.
func (z *zerologLogger) With(fields ...Field) Logger {
	return &zerologLogger{
		logger: z.logger.With().Fields(toMap(fields)).Logger(),
		level:  z.level,
	}
}

// SetLevel implements Logger.
func (z *zerologLogger) SetLevel(level zerolog.Level) {
	z.level.v.Store(int32(level))
}

// Close implements Logger.
func (z *zerologLogger) Close() error {
	if z.file == nil {
		return nil
	}

	err := z.file.Close()
	z.file = nil
	return err
}

// toMap converts a slice of Field into a map for zerolog.
func toMap(fields []Field) map[string]any {
	if len(fields) == 0 {
		return nil
	}

	m := make(map[string]any, len(fields))
	for _, f := range fields {
		m[f.Key] = f.Value
	}

	return m
}
