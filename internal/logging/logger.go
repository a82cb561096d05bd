// Package logging provides the structured logger carried by
// internal/fedctx through the federation client. It wraps log/slog behind a small
// interface so call sites depend on a capability, not a concrete logging
// library, and exposes pkg/errors-aware stack trace logging.
package logging

import (
	"fmt"
	"log/slog"

	"github.com/pkg/errors"
)

// Logger is the structured logging capability used throughout this module.
type Logger interface {
	Debug(msg string)
	Debugf(format string, args ...any)
	Info(msg string)
	Infof(format string, args ...any)
	Warn(msg string)
	Warnf(format string, args ...any)
	Error(msg string)
	Errorf(format string, args ...any)
	With(key string, value any) Logger
	WithError(err error) Logger
	// WithStacktrace adds an error field plus, if err carries a pkg/errors
	// stack trace, a stacktrace field.
	WithStacktrace(err error) Logger
}

// stackTracer is the unexported but stable interface pkg/errors attaches
// to errors created with errors.New/errors.Wrap.
type stackTracer interface {
	StackTrace() errors.StackTrace
}

// New returns a Logger backed by slog.Default().
func New() Logger {
	return &slogLogger{delegate: slog.Default()}
}

// FromSlog wraps an existing *slog.Logger.
func FromSlog(l *slog.Logger) Logger {
	return &slogLogger{delegate: l}
}

type slogLogger struct {
	delegate *slog.Logger
}

func (l *slogLogger) Debug(msg string) { l.delegate.Debug(msg) }
func (l *slogLogger) Debugf(format string, args ...any) {
	l.delegate.Debug(fmt.Sprintf(format, args...))
}

func (l *slogLogger) Info(msg string) { l.delegate.Info(msg) }
func (l *slogLogger) Infof(format string, args ...any) {
	l.delegate.Info(fmt.Sprintf(format, args...))
}

func (l *slogLogger) Warn(msg string) { l.delegate.Warn(msg) }
func (l *slogLogger) Warnf(format string, args ...any) {
	l.delegate.Warn(fmt.Sprintf(format, args...))
}

func (l *slogLogger) Error(msg string) { l.delegate.Error(msg) }
func (l *slogLogger) Errorf(format string, args ...any) {
	l.delegate.Error(fmt.Sprintf(format, args...))
}

func (l *slogLogger) With(key string, value any) Logger {
	return &slogLogger{delegate: l.delegate.With(key, value)}
}

func (l *slogLogger) WithError(err error) Logger {
	return &slogLogger{delegate: l.delegate.With("error", err.Error())}
}

func (l *slogLogger) WithStacktrace(err error) Logger {
	delegate := l.delegate.With("error", err.Error())
	if tracer, ok := err.(stackTracer); ok {
		delegate = delegate.With("stacktrace", fmt.Sprintf("%+v", tracer.StackTrace()))
	}
	return &slogLogger{delegate: delegate}
}

// TopmostWithCause walks a pkg/errors cause chain and returns the error
// directly preceding the first link that does not implement causer.
// Logging that error with "%+v" prints the stack trace recorded nearest to
// where the root cause actually occurred.
func TopmostWithCause(err error) error {
	type causer interface {
		Cause() error
	}

	rv := err
	for rv != nil {
		cause, ok := rv.(causer)
		if !ok {
			break
		}
		next := cause.Cause()
		if _, ok := next.(causer); !ok {
			return rv
		}
		rv = next
	}
	return rv
}
