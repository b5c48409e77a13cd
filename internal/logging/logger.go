// Package logging wraps zap with context-aware logging for docsearchd.
//
// All log methods take a context; correlation fields (trace IDs, request ID,
// document ID) are extracted from it and appended to every entry.
package logging

import (
	"errors"
	"fmt"
	"os"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds logging configuration.
type Config struct {
	// Level is the minimum level to emit: trace, debug, info, warn, error.
	Level string

	// Format is the encoding: "json" or "console".
	Format string

	// Caller enables caller annotation on log entries.
	Caller bool

	// Fields are constant fields attached to every entry.
	Fields map[string]string
}

// DefaultConfig returns production-ready logging defaults.
func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Format: "json",
		Caller: true,
		Fields: map[string]string{"service": "docsearchd"},
	}
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if _, err := LevelFromString(c.Level); err != nil {
		return fmt.Errorf("invalid level %q: %w", c.Level, err)
	}
	if c.Format != "json" && c.Format != "console" {
		return fmt.Errorf("invalid format %q (expected json or console)", c.Format)
	}
	return nil
}

// Logger wraps zap with context-aware methods.
type Logger struct {
	zap *zap.Logger
}

// New creates a logger from config, writing to stderr.
func New(cfg Config) (*Logger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	level, err := LevelFromString(cfg.Level)
	if err != nil {
		return nil, err
	}

	core := zapcore.NewCore(newEncoder(cfg.Format), zapcore.Lock(zapcore.AddSync(os.Stderr)), level)

	opts := []zap.Option{zap.AddStacktrace(zapcore.ErrorLevel)}
	if cfg.Caller {
		opts = append(opts, zap.AddCaller(), zap.AddCallerSkip(1))
	}

	zapLogger := zap.New(core, opts...)

	if len(cfg.Fields) > 0 {
		fields := make([]zap.Field, 0, len(cfg.Fields))
		for k, v := range cfg.Fields {
			fields = append(fields, zap.String(k, v))
		}
		zapLogger = zapLogger.With(fields...)
	}

	return &Logger{zap: zapLogger}, nil
}

// NewNop returns a logger that discards everything. Useful in tests.
func NewNop() *Logger {
	return &Logger{zap: zap.NewNop()}
}

// newEncoder creates a JSON or console encoder.
func newEncoder(format string) zapcore.Encoder {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	if format == "console" {
		return zapcore.NewConsoleEncoder(encoderCfg)
	}
	return zapcore.NewJSONEncoder(encoderCfg)
}

// Child logger creation

// With returns a child logger with the given constant fields.
func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{zap: l.zap.With(fields...)}
}

// Named returns a child logger with the given name segment appended.
func (l *Logger) Named(name string) *Logger {
	return &Logger{zap: l.zap.Named(name)}
}

// Enabled returns true if the given level is enabled.
func (l *Logger) Enabled(level zapcore.Level) bool {
	return l.zap.Core().Enabled(level)
}

// Sync flushes any buffered log entries.
func (l *Logger) Sync() error {
	err := l.zap.Sync()
	// Syncing stderr returns EINVAL or ENOTTY on Linux; both are harmless.
	var errno syscall.Errno
	if err != nil && errors.As(err, &errno) && (errno == syscall.EINVAL || errno == syscall.ENOTTY) {
		return nil
	}
	return err
}

// Underlying returns the wrapped zap.Logger for libraries that require one.
func (l *Logger) Underlying() *zap.Logger {
	return l.zap
}
