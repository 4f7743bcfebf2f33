// Package logger provides structured logging for the VoltDB client.
//
// It wraps log/slog with a package-level API so the wire, executor, and pool
// layers can log without threading a logger handle through every call site.
// Applications embedding the client can redirect or silence output via Init.
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
	// Level is the minimum level to output: DEBUG, INFO, WARN, ERROR.
	Level string `mapstructure:"level" yaml:"level"`

	// Format selects the output encoding: text or json.
	Format string `mapstructure:"format" yaml:"format"`

	// Output is where logs are written: stdout, stderr, or a file path.
	Output string `mapstructure:"output" yaml:"output"`
}

var (
	mu       sync.RWMutex
	levelVar = func() *slog.LevelVar {
		v := new(slog.LevelVar)
		v.Set(slog.LevelInfo)
		return v
	}()
	output  io.Writer = os.Stderr
	slogger           = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar}))
)

// Init configures the package logger. An unset Level or Output keeps its
// current value; an unset Format selects the text handler.
func Init(cfg Config) error {
	mu.Lock()
	defer mu.Unlock()

	if cfg.Output != "" {
		switch strings.ToLower(cfg.Output) {
		case "stdout":
			output = os.Stdout
		case "stderr":
			output = os.Stderr
		default:
			f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
			if err != nil {
				return fmt.Errorf("failed to open log file %q: %w", cfg.Output, err)
			}
			output = f
		}
	}

	if cfg.Level != "" {
		lvl, err := parseLevel(cfg.Level)
		if err != nil {
			return err
		}
		levelVar.Set(lvl)
	}

	opts := &slog.HandlerOptions{Level: levelVar}
	switch strings.ToLower(cfg.Format) {
	case "", "text":
		slogger = slog.New(slog.NewTextHandler(output, opts))
	case "json":
		slogger = slog.New(slog.NewJSONHandler(output, opts))
	default:
		return fmt.Errorf("unknown log format %q", cfg.Format)
	}

	return nil
}

// InitWithWriter redirects log output to w. Primarily useful for testing.
func InitWithWriter(w io.Writer, level string) {
	mu.Lock()
	defer mu.Unlock()

	output = w
	if level != "" {
		if lvl, err := parseLevel(level); err == nil {
			levelVar.Set(lvl)
		}
	}
	slogger = slog.New(slog.NewTextHandler(output, &slog.HandlerOptions{Level: levelVar}))
}

// SetLevel changes the minimum log level. Invalid levels are ignored.
func SetLevel(level string) {
	if lvl, err := parseLevel(level); err == nil {
		levelVar.Set(lvl)
	}
}

func parseLevel(level string) (slog.Level, error) {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "INFO":
		return slog.LevelInfo, nil
	case "WARN":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", level)
	}
}

func get() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return slogger
}

// Debug logs at DEBUG level with alternating key/value pairs.
func Debug(msg string, args ...any) { get().Debug(msg, args...) }

// Info logs at INFO level with alternating key/value pairs.
func Info(msg string, args ...any) { get().Info(msg, args...) }

// Warn logs at WARN level with alternating key/value pairs.
func Warn(msg string, args ...any) { get().Warn(msg, args...) }

// Error logs at ERROR level with alternating key/value pairs.
func Error(msg string, args ...any) { get().Error(msg, args...) }

// With returns a logger carrying the given attributes on every record.
func With(args ...any) *slog.Logger { return get().With(args...) }
