// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package logging wraps github.com/charmbracelet/log with the level
// set the CLI's --log-level flag implies (critical, error, warning,
// info, debug) and the WithError/WithFields chaining call shape used
// throughout this codebase.
package logging

import (
	"os"

	charmlog "github.com/charmbracelet/log"
)

// Level is one of the five levels named in §6's --log-level flag.
type Level string

const (
	LevelCritical Level = "critical"
	LevelError    Level = "error"
	LevelWarning  Level = "warning"
	LevelInfo     Level = "info"
	LevelDebug    Level = "debug"
)

// Logger is a leveled, structured logger. The zero value is not
// usable; construct with New.
type Logger struct {
	inner *charmlog.Logger
}

// Config configures a Logger.
type Config struct {
	Level  Level
	Prefix string
}

func (l Level) toCharm() charmlog.Level {
	switch l {
	case LevelCritical, LevelError:
		return charmlog.ErrorLevel
	case LevelWarning:
		return charmlog.WarnLevel
	case LevelDebug:
		return charmlog.DebugLevel
	default:
		return charmlog.InfoLevel
	}
}

// New builds a Logger writing to stderr at the configured level.
func New(cfg Config) *Logger {
	inner := charmlog.NewWithOptions(os.Stderr, charmlog.Options{
		Prefix:          cfg.Prefix,
		ReportTimestamp: true,
	})
	inner.SetLevel(cfg.Level.toCharm())
	return &Logger{inner: inner}
}

func (l *Logger) Debug(msg string, kv ...any) { l.inner.Debug(msg, kv...) }
func (l *Logger) Info(msg string, kv ...any)   { l.inner.Info(msg, kv...) }
func (l *Logger) Warn(msg string, kv ...any)   { l.inner.Warn(msg, kv...) }
func (l *Logger) Error(msg string, kv ...any)  { l.inner.Error(msg, kv...) }

// WithError returns a derived Logger that always attaches err, the
// pattern used throughout the firewall package's call sites.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{inner: l.inner.With("error", err)}
}

// WithFields returns a derived Logger with the given key/value pairs
// attached to every subsequent log call.
func (l *Logger) WithFields(kv ...any) *Logger {
	return &Logger{inner: l.inner.With(kv...)}
}

// std is the package-level default logger, for call sites that don't
// carry a *Logger reference end to end.
var std = New(Config{Level: LevelInfo})

// SetDefault replaces the package-level default logger, typically
// once at start-up after flags are parsed.
func SetDefault(l *Logger) { std = l }

func Debug(msg string, kv ...any) { std.Debug(msg, kv...) }
func Info(msg string, kv ...any)  { std.Info(msg, kv...) }
func Warn(msg string, kv ...any)  { std.Warn(msg, kv...) }
func Error(msg string, kv ...any) { std.Error(msg, kv...) }
