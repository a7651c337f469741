package auth

import (
	"context"

	"github.com/goliatone/go-logger/glog"
)

// ResolveLogger returns the provider and the named logger a component
// should use. A provider that yields no logger for name falls back to
// logger, and then to a silent default.
func ResolveLogger(name string, provider LoggerProvider, logger Logger) (LoggerProvider, Logger) {
	if logger == nil {
		logger = defaultLogger()
	}

	if provider == nil {
		provider = glog.ProviderFromLogger(logger)
	}

	resolved := provider.GetLogger(name)
	if resolved == nil {
		resolved = logger
		provider = glog.ProviderFromLogger(logger)
	}

	return provider, resolved
}

func defaultLogger() Logger {
	return nopLogger{}
}

type nopLogger struct{}

func (nopLogger) Trace(string, ...any)                 {}
func (nopLogger) Debug(string, ...any)                 {}
func (nopLogger) Info(string, ...any)                  {}
func (nopLogger) Warn(string, ...any)                  {}
func (nopLogger) Error(string, ...any)                 {}
func (nopLogger) Fatal(string, ...any)                 {}
func (l nopLogger) WithContext(context.Context) Logger { return l }
