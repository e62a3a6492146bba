// Package logging carries the daemon's log relay and the per-session
// logger. The relay decorates the real logger and republishes every
// message on a broadcast channel so the daemon can bridge log output into
// protocol events.
package logging

import "log/slog"

// Level classifies a relayed log message.
type Level string

const (
	LevelStatus  Level = "status"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
	LevelTrace   Level = "trace"
)

// Message is one relayed log record.
type Message struct {
	Level      Level
	Text       string
	StackTrace string
}

// Logger is the logging capability handed to every component at
// construction.
type Logger interface {
	Status(text string)
	Warning(text string)
	Error(text string, stackTrace string)
	Trace(text string)
}

// SlogLogger adapts a slog.Logger to the Logger capability. It is the
// usual innermost sink.
type SlogLogger struct {
	L *slog.Logger
}

func (s SlogLogger) Status(text string)  { s.L.Info(text) }
func (s SlogLogger) Warning(text string) { s.L.Warn(text) }
func (s SlogLogger) Trace(text string)   { s.L.Debug(text) }

func (s SlogLogger) Error(text string, stackTrace string) {
	if stackTrace != "" {
		s.L.Error(text, "stackTrace", stackTrace)
		return
	}
	s.L.Error(text)
}
