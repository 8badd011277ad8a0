// Package xlog builds the leveled zap loggers used across the engine.
//
// Every component constructor accepts a *zap.Logger. Passing nil is
// always safe: components fall back to a no-op logger rather than
// guarding every call site with a nil check.
package xlog

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const prefix = "[ragmemory]: "

var levels = map[string]zapcore.Level{
	"debug":  zapcore.DebugLevel,
	"info":   zapcore.InfoLevel,
	"warn":   zapcore.WarnLevel,
	"error":  zapcore.ErrorLevel,
	"dpanic": zapcore.DPanicLevel,
	"panic":  zapcore.PanicLevel,
	"fatal":  zapcore.FatalLevel,
}

// Build constructs a console-encoded zap logger at the given level,
// writing to the given output path ("stdout", "stderr", or a file path).
// Returns nil if level is not recognised.
func Build(level, output string) *zap.Logger {
	lvl, ok := levels[level]
	if !ok {
		return nil
	}
	atom := zap.NewAtomicLevel()
	atom.SetLevel(lvl)
	if output == "" {
		output = "stdout"
	}
	cfg := zap.Config{
		Level:    atom,
		Encoding: "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "Time",
			LevelKey:       "Level",
			NameKey:        "Name",
			CallerKey:      "Caller",
			MessageKey:     "Msg",
			StacktraceKey:  "St",
			EncodeLevel:    zapcore.CapitalLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{output},
		ErrorOutputPaths: []string{"stderr"},
	}
	l, err := cfg.Build()
	if err != nil {
		return nil
	}
	return l
}

// OrNop returns l, or a no-op logger when l is nil, so callers never
// need a nil check before logging.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}

// Debug logs at debug level with the engine's prefix, skipping silently
// on a nil logger.
func Debug(l *zap.Logger, msg string, fields ...zap.Field) {
	if l != nil {
		l.Debug(prefix+msg, fields...)
	}
}

// Info logs at info level; use for lifecycle milestones (cycle completed,
// eviction ran, compaction triggered), not per-chunk noise.
func Info(l *zap.Logger, msg string, fields ...zap.Field) {
	if l != nil {
		l.Info(prefix+msg, fields...)
	}
}

// Warn logs a recoverable failure (skipped chunk, swallowed extraction
// error, clamped parameter).
func Warn(l *zap.Logger, msg string, fields ...zap.Field) {
	if l != nil {
		l.Warn(prefix+msg, fields...)
	}
}

// Error logs a failure that surfaces to the caller.
func Error(l *zap.Logger, msg string, fields ...zap.Field) {
	if l != nil {
		l.Error(prefix+msg, fields...)
	}
}
