// Package logger provides structured logging for all components, built on
// log/slog with a human text handler for terminals and a JSON handler for
// machine consumption.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Config holds logger configuration.
type Config struct {
	Level  string // DEBUG, INFO, WARN, ERROR
	Format string // text, json
	Output string // stdout, stderr, or a file path
}

var (
	mu       sync.RWMutex
	levelVar = func() *slog.LevelVar {
		v := new(slog.LevelVar)
		v.Set(slog.LevelInfo)
		return v
	}()
	slogger = slog.New(newTextHandler(os.Stderr, levelVar, isTerminal(os.Stderr)))
)

// ParseLevel converts a level name to a slog level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "INFO", "":
		return slog.LevelInfo, nil
	case "WARN":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level: %q", level)
	}
}

// Init configures the package logger. Safe to call more than once; the last
// call wins.
func Init(cfg Config) error {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return err
	}

	var w io.Writer
	switch cfg.Output {
	case "", "stderr":
		w = os.Stderr
	case "stdout":
		w = os.Stdout
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log output: %w", err)
		}
		w = f
	}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: levelVar})
	case "", "text":
		color := false
		if f, ok := w.(*os.File); ok {
			color = isTerminal(f)
		}
		handler = newTextHandler(w, levelVar, color)
	default:
		return fmt.Errorf("unknown log format: %q", cfg.Format)
	}

	mu.Lock()
	defer mu.Unlock()
	levelVar.Set(level)
	slogger = slog.New(handler)
	return nil
}

// InitWithWriter points the logger at w without color; used by tests.
func InitWithWriter(w io.Writer, level string) {
	parsed, err := ParseLevel(level)
	if err != nil {
		parsed = slog.LevelInfo
	}
	mu.Lock()
	defer mu.Unlock()
	levelVar.Set(parsed)
	slogger = slog.New(newTextHandler(w, levelVar, false))
}

// SetLevel adjusts the minimum level at runtime.
func SetLevel(level string) error {
	parsed, err := ParseLevel(level)
	if err != nil {
		return err
	}
	levelVar.Set(parsed)
	return nil
}

func get() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return slogger
}

// Debug logs at debug level with structured key/value pairs.
func Debug(msg string, args ...any) {
	get().Debug(msg, args...)
}

// Info logs at info level with structured key/value pairs.
func Info(msg string, args ...any) {
	get().Info(msg, args...)
}

// Warn logs at warn level with structured key/value pairs.
func Warn(msg string, args ...any) {
	get().Warn(msg, args...)
}

// Error logs at error level with structured key/value pairs.
func Error(msg string, args ...any) {
	get().Error(msg, args...)
}

// Debugf logs a formatted message at debug level.
func Debugf(format string, v ...any) {
	get().Debug(fmt.Sprintf(format, v...))
}

// Infof logs a formatted message at info level.
func Infof(format string, v ...any) {
	get().Info(fmt.Sprintf(format, v...))
}

// Warnf logs a formatted message at warn level.
func Warnf(format string, v ...any) {
	get().Warn(fmt.Sprintf(format, v...))
}

// Errorf logs a formatted message at error level.
func Errorf(format string, v ...any) {
	get().Error(fmt.Sprintf(format, v...))
}

// With returns a component logger carrying the given attributes.
func With(args ...any) *slog.Logger {
	return get().With(args...)
}
