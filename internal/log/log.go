// Package log provides the leveled, plain-text event logger used across
// mongoreplicate. It wraps github.com/vinllen/log4go for the actual
// file-rotating sink and exposes a small Event type that carries a
// component tag through the replication pipeline, mirroring the
// *log.Event parameter threaded through the teacher's restore path.
package log

import (
	"fmt"
	"os"
	"path/filepath"

	l4g "github.com/vinllen/log4go"
)

// Level is one of the four levels recognised by the "log_level" option.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	FATAL
)

func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case FATAL:
		return "FATAL"
	default:
		return "INFO"
	}
}

// ParseLevel maps the external config value onto a Level, defaulting to
// INFO on anything unrecognised.
func ParseLevel(s string) Level {
	switch s {
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN":
		return WARN
	case "FATAL":
		return FATAL
	default:
		return INFO
	}
}

// logger is the process-wide sink. Init must run before any Event is used.
var logger l4g.Logger

// Init creates dir (recursively, per spec.md §6) and wires a console
// sink plus a rotating file sink at level.
func Init(level Level, dir, name string) error {
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create log dir %s: %w", dir, err)
		}
	}

	logger = make(l4g.Logger)
	l4gLevel := toL4GLevel(level)

	console := l4g.NewConsoleLogWriter()
	logger.AddFilter("stdout", l4gLevel, console)

	if dir != "" {
		path := filepath.Join(dir, name+".log")
		file := l4g.NewFileLogWriter(path, false)
		file.SetFormat("[%D %T] [%L] %M")
		file.SetRotateDaily(true)
		logger.AddFilter("file", l4gLevel, file)
	}

	return nil
}

func toL4GLevel(level Level) l4g.Level {
	switch level {
	case DEBUG:
		return l4g.DEBUG
	case INFO:
		return l4g.INFO
	case WARN:
		return l4g.WARNING
	case FATAL:
		return l4g.CRITICAL
	default:
		return l4g.INFO
	}
}

// Event is a small, cheaply-copyable logger bound to one component
// ("cloner", "tailer", "pool[2]", ...), the way the teacher's
// pbm/restore package threads a *log.Event through applyOplog and its
// helpers instead of a bare logger.
type Event struct {
	Component string
}

// NewEvent returns an Event tagged with component.
func NewEvent(component string) *Event {
	return &Event{Component: component}
}

func (e *Event) prefix(msg string) string {
	if e == nil || e.Component == "" {
		return msg
	}
	return "[" + e.Component + "] " + msg
}

func (e *Event) Debug(format string, args ...interface{}) {
	safeLog(l4g.DEBUG, e.prefix(format), args...)
}

func (e *Event) Info(format string, args ...interface{}) {
	safeLog(l4g.INFO, e.prefix(format), args...)
}

func (e *Event) Warn(format string, args ...interface{}) {
	safeLog(l4g.WARNING, e.prefix(format), args...)
}

// Fatal logs at the highest level. It does not call os.Exit: the caller
// (almost always the orchestrator) decides how to unwind, per spec.md
// §7's "orchestrator owns fatal decisions".
func (e *Event) Fatal(format string, args ...interface{}) {
	safeLog(l4g.CRITICAL, e.prefix(format), args...)
}

func safeLog(level l4g.Level, format string, args ...interface{}) {
	if logger == nil {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
		return
	}
	logger.Log(level, "mongoreplicate", fmt.Sprintf(format, args...))
}
