// Package log provides the leveled logger injected into the capture engine and
// protocol handlers.
package log

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

type Logger interface {
	Print(args ...interface{})
	Printf(format string, args ...interface{})

	Trace(args ...interface{})
	Tracef(format string, args ...interface{})

	Debug(args ...interface{})
	Debugf(format string, args ...interface{})

	Info(args ...interface{})
	Infof(format string, args ...interface{})

	Warn(args ...interface{})
	Warnf(format string, args ...interface{})

	Error(args ...interface{})
	Errorf(format string, args ...interface{})

	Fatal(args ...interface{})
	Fatalf(format string, args ...interface{})

	Panic(args ...interface{})
	Panicf(format string, args ...interface{})

	// Component tags every entry with the emitting component.
	Component(name string) Logger
	WithField(field string, value interface{}) Logger
	WithFields(fields map[string]interface{}) Logger
	WithError(err error) Logger

	IsTraceEnabled() bool
	IsDebugEnabled() bool
	IsInfoEnabled() bool
}

const (
	defaultPattern = "%time [%level] %field %msg\n"
	defaultTime    = "2006-01-02 15:04:05"
)

// New builds a logger from cfg. Console output is always included; a file
// appender is added when cfg.File.Filename is set.
func New(cfg Config) (Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	l := logrus.New()
	l.SetLevel(level)

	switch strings.ToLower(cfg.Format) {
	case "", "text":
		pattern := cfg.Pattern
		if pattern == "" {
			pattern = defaultPattern
		}
		timeLayout := cfg.Time
		if timeLayout == "" {
			timeLayout = defaultTime
		}
		l.SetFormatter(&formatter{pattern: pattern, time: timeLayout})
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, fmt.Errorf("unsupported log format: %s (must be text or json)", cfg.Format)
	}

	out := NewMultiWriter().Add(os.Stderr)
	if cfg.File.Filename != "" {
		out.AddFileAppender(cfg.File)
	}
	l.SetOutput(out)

	return &logrusAdapter{entry: logrus.NewEntry(l)}, nil
}

// NewForWriter returns a text logger writing to w. An unknown level falls back to info.
func NewForWriter(w io.Writer, level string) Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(&formatter{pattern: defaultPattern, time: defaultTime})
	lv, err := ParseLevel(level)
	if err != nil {
		lv = logrus.InfoLevel
	}
	l.SetLevel(lv)
	return &logrusAdapter{entry: logrus.NewEntry(l)}
}

// FromLogrus wraps an existing logrus logger.
func FromLogrus(l *logrus.Logger) Logger {
	return &logrusAdapter{entry: logrus.NewEntry(l)}
}

// Discard returns a logger that drops every entry.
func Discard() Logger {
	return NewForWriter(io.Discard, "panic")
}

// ParseLevel accepts debug/info/warn/error plus critical, which is logged at error level.
func ParseLevel(level string) (logrus.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		return logrus.InfoLevel, nil
	case "debug":
		return logrus.DebugLevel, nil
	case "trace":
		return logrus.TraceLevel, nil
	case "warn", "warning":
		return logrus.WarnLevel, nil
	case "error", "critical":
		return logrus.ErrorLevel, nil
	case "panic":
		return logrus.PanicLevel, nil
	default:
		return logrus.InfoLevel, fmt.Errorf("invalid log level: %s", level)
	}
}

// VerbosityLevel maps a -v count to a level name.
func VerbosityLevel(verbose int) string {
	switch {
	case verbose > 2:
		return "debug"
	case verbose > 1:
		return "info"
	case verbose > 0:
		return "warn"
	default:
		return "error"
	}
}
