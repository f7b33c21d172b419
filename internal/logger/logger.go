// Package logger is the structured logger shared by the crawler's components.
package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is what components log through.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	With(fields ...Field) Logger
	Sync() error
}

// Field is a structured key/value attached to a log entry.
type Field = zap.Field

// zapLogger adapts *zap.Logger, whose level methods already match Logger.
type zapLogger struct {
	*zap.Logger
}

func (l zapLogger) With(fields ...Field) Logger {
	return zapLogger{l.Logger.With(fields...)}
}

// New builds a JSON logger from cfg.
func New(cfg Config) (Logger, error) {
	cfg.SetDefaults()
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}

	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = cfg.OutputPaths
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if cfg.Development {
		zc.Development = true
		zc.Sampling = nil
	}

	z, err := zc.Build(zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		return nil, fmt.Errorf("build zap logger: %w", err)
	}
	return zapLogger{z}, nil
}

// NewNop returns a logger that discards everything.
func NewNop() Logger {
	return zapLogger{zap.NewNop()}
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l Logger) Logger {
	if l == nil {
		return NewNop()
	}
	return l
}

// Field constructors.
var (
	String   = zap.String
	Strings  = zap.Strings
	Int      = zap.Int
	Duration = zap.Duration
	Time     = zap.Time
	Error    = zap.Error
)
