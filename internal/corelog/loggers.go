// Package corelog provides the small per-level logging abstraction used
// throughout the controller. It wraps the standard library's log.Logger
// rather than introducing a structured-logging dependency: every call site
// in this module only ever needs leveled, line-oriented output.
package corelog

import (
	"fmt"
	"io"
	"log"
	"os"
)

// Level is a logging severity.
type Level int

// Severities, lowest to highest.
const (
	Debug Level = iota
	Info
	Warn
	Error
	None
)

func (l Level) String() string {
	switch l {
	case Debug:
		return "DEBUG"
	case Info:
		return "INFO"
	case Warn:
		return "WARN"
	case Error:
		return "ERROR"
	default:
		return "NONE"
	}
}

// Loggers dispatches to one *log.Logger per severity, with a minimum level
// below which calls are no-ops. The zero value is usable and behaves like
// NewDefaultLoggers: it initializes itself on first use with a minimum
// level of Info.
type Loggers struct {
	loggers  [4]*log.Logger
	minLevel Level
	inited   bool
}

// NewDefaultLoggers returns Loggers that write Debug/Info/Warn to stdout and
// Error to stderr, with a minimum level of Info.
func NewDefaultLoggers() Loggers {
	var l Loggers
	l.init()
	return l
}

func (l *Loggers) init() {
	if l.inited {
		return
	}
	for level := Debug; level <= Error; level++ {
		w := io.Writer(os.Stdout)
		if level == Error {
			w = os.Stderr
		}
		l.loggers[level] = log.New(w, "["+level.String()+"] ", log.Ldate|log.Ltime)
	}
	l.minLevel = Info
	l.inited = true
}

// SetMinLevel sets the minimum severity that will be emitted.
func (l *Loggers) SetMinLevel(level Level) {
	l.init()
	l.minLevel = level
}

// SetBaseLoggerForLevel overrides the underlying logger used for a single
// severity, e.g. to redirect Error output elsewhere.
func (l *Loggers) SetBaseLoggerForLevel(level Level, logger *log.Logger) {
	l.init()
	if level >= Debug && level <= Error {
		l.loggers[level] = logger
	}
}

// IsDebugEnabled reports whether Debug-level calls will actually be emitted.
func (l *Loggers) IsDebugEnabled() bool {
	l.init()
	return l.minLevel <= Debug
}

func (l *Loggers) log(level Level, msg string) {
	l.init()
	if level < l.minLevel {
		return
	}
	if logger := l.loggers[level]; logger != nil {
		_ = logger.Output(3, msg) //nolint:errcheck // logging must never fail the caller
	}
}

// Debug logs at Debug severity.
func (l *Loggers) Debug(args ...interface{}) { l.log(Debug, fmt.Sprint(args...)) }

// Debugf logs a formatted message at Debug severity.
func (l *Loggers) Debugf(format string, args ...interface{}) { l.log(Debug, fmt.Sprintf(format, args...)) }

// Info logs at Info severity.
func (l *Loggers) Info(args ...interface{}) { l.log(Info, fmt.Sprint(args...)) }

// Infof logs a formatted message at Info severity.
func (l *Loggers) Infof(format string, args ...interface{}) { l.log(Info, fmt.Sprintf(format, args...)) }

// Warn logs at Warn severity.
func (l *Loggers) Warn(args ...interface{}) { l.log(Warn, fmt.Sprint(args...)) }

// Warnf logs a formatted message at Warn severity.
func (l *Loggers) Warnf(format string, args ...interface{}) { l.log(Warn, fmt.Sprintf(format, args...)) }

// Error logs at Error severity.
func (l *Loggers) Error(args ...interface{}) { l.log(Error, fmt.Sprint(args...)) }

// Errorf logs a formatted message at Error severity.
func (l *Loggers) Errorf(format string, args ...interface{}) { l.log(Error, fmt.Sprintf(format, args...)) }
