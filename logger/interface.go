// Package logger defines the leveled log sink used by the fetch core and its stores.
// Implementations build structured events; nothing in the core writes to stdout directly.
package logger

import "time"

// Logger creates log events at different severity levels.
// Components receive a Logger at construction so tests can substitute a recording fake.
type Logger interface {
	Info() LogEvent
	Error() LogEvent
	Debug() LogEvent
	Warn() LogEvent
	Fatal() LogEvent
	WithFields(fields map[string]any) Logger
}

// LogEvent is a structured log event that is built with fields and sent with Msg or Msgf.
type LogEvent interface {
	Msg(msg string)
	Msgf(format string, args ...any)
	Err(err error) LogEvent
	Str(key, value string) LogEvent
	Int(key string, value int) LogEvent
	Int64(key string, value int64) LogEvent
	Dur(key string, d time.Duration) LogEvent
	Interface(key string, i any) LogEvent
}
