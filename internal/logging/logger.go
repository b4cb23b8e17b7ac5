// Package logging provides the structured logger interface used across the
// pipeline. It mirrors the narrow Logger contract the rest of the codebase
// depends on so the concrete backend (zap) can be swapped for tests.
package logging

// Logger is the common interface every stage, adapter and gateway logs
// through. Implementations must be safe for concurrent use.
type Logger interface {
	Info(args ...any)
	Infof(format string, args ...any)

	Error(args ...any)
	Errorf(format string, args ...any)

	Warn(args ...any)
	Warnf(format string, args ...any)

	Debug(args ...any)
	Debugf(format string, args ...any)

	// WithFields returns a child logger that always includes the given
	// key/value pairs. It leaves the receiver unchanged.
	WithFields(fields ...any) Logger

	Sync() error
}

// NoneLogger discards everything. Used as the zero value so code that
// forgets to inject a logger does not panic.
type NoneLogger struct{}

func (NoneLogger) Info(args ...any)                  {}
func (NoneLogger) Infof(format string, args ...any)  {}
func (NoneLogger) Error(args ...any)                 {}
func (NoneLogger) Errorf(format string, args ...any) {}
func (NoneLogger) Warn(args ...any)                  {}
func (NoneLogger) Warnf(format string, args ...any)  {}
func (NoneLogger) Debug(args ...any)                 {}
func (NoneLogger) Debugf(format string, args ...any) {}
func (NoneLogger) Sync() error                       { return nil }
func (l NoneLogger) WithFields(fields ...any) Logger { return l }
