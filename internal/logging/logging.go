// Package logging is cascade's leveled line logger.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

func ParseLevel(s string) LogLevel {
	switch strings.ToLower(s) {
	case "debug":
		return LogLevelDebug
	case "info":
		return LogLevelInfo
	case "warn", "warning":
		return LogLevelWarn
	case "error":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelWarn:
		return "WARN"
	case LogLevelError:
		return "ERROR"
	default:
		return "INFO"
	}
}

// Logger writes "<RFC3339> <LEVEL> <component>: <message>" lines. Loggers
// derived with With share the underlying writer; log.Logger serialises
// concurrent writes.
type Logger struct {
	out       *log.Logger
	level     LogLevel
	component string
	now       func() time.Time
}

func New(w io.Writer, level LogLevel) *Logger {
	return &Logger{
		out:       log.New(w, "", 0),
		level:     level,
		component: "cascade",
		now:       time.Now,
	}
}

// Discard drops everything.
func Discard() *Logger {
	return New(io.Discard, LogLevelError+1)
}

// Open appends to path and mirrors to stderr. The returned closer closes the
// file.
func Open(path string, level LogLevel) (*Logger, io.Closer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log: %w", err)
	}
	return New(io.MultiWriter(f, os.Stderr), level), f, nil
}

// With returns a logger tagged with component.
func (l *Logger) With(component string) *Logger {
	child := *l
	child.component = component
	return &child
}

func (l *Logger) Enabled(level LogLevel) bool {
	return level >= l.level
}

func (l *Logger) Log(level LogLevel, format string, args ...any) {
	if !l.Enabled(level) {
		return
	}
	msg := fmt.Sprintf(format, args...)
	l.out.Printf("%s %s %s: %s", l.now().Format(time.RFC3339), level, l.component, msg)
}

func (l *Logger) Debugf(format string, args ...any) { l.Log(LogLevelDebug, format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.Log(LogLevelInfo, format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.Log(LogLevelWarn, format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.Log(LogLevelError, format, args...) }
