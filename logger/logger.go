package logger

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var simpleLogger = newSimpleLogger(os.Stderr)

type Logger interface {
	Trace(v ...interface{})
	Tracef(format string, v ...interface{})
	Debug(v ...interface{})
	Debugf(format string, v ...interface{})
	Info(v ...interface{})
	Infof(format string, v ...interface{})
	Warn(v ...interface{})
	Warnf(format string, v ...interface{})
	Error(v ...interface{})
	Errorf(format string, v ...interface{})
}

type LogLevel int

const (
	LogLevelTrace LogLevel = iota
	LogLevelDebug
	LogLevelInfo
	LogLevelWarn
	LogLevelError
	LogLevelNone
)

// ParseLevel maps a config string ("trace", "debug", ...) to a LogLevel.
// Unknown values fall back to info.
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return LogLevelTrace
	case "debug":
		return LogLevelDebug
	case "warn", "warning":
		return LogLevelWarn
	case "error":
		return LogLevelError
	case "none", "off":
		return LogLevelNone
	default:
		return LogLevelInfo
	}
}

func (l LogLevel) logrusLevel() logrus.Level {
	switch l {
	case LogLevelTrace:
		return logrus.TraceLevel
	case LogLevelDebug:
		return logrus.DebugLevel
	case LogLevelWarn:
		return logrus.WarnLevel
	case LogLevelError:
		return logrus.ErrorLevel
	case LogLevelNone:
		return logrus.PanicLevel
	default:
		return logrus.InfoLevel
	}
}

// SimpleLogger is the Logger used by the package level functions.
type SimpleLogger struct {
	level LogLevel
	l     *logrus.Logger
}

func newSimpleLogger(w io.Writer) *SimpleLogger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return &SimpleLogger{level: LogLevelInfo, l: l}
}

func (sl *SimpleLogger) enabled(level LogLevel) bool {
	return sl.level != LogLevelNone && sl.level <= level
}

func (sl *SimpleLogger) Trace(v ...interface{}) {
	if sl.enabled(LogLevelTrace) {
		sl.l.Trace(v...)
	}
}
func (sl *SimpleLogger) Tracef(format string, v ...interface{}) {
	if sl.enabled(LogLevelTrace) {
		sl.l.Tracef(format, v...)
	}
}

func (sl *SimpleLogger) Debug(v ...interface{}) {
	if sl.enabled(LogLevelDebug) {
		sl.l.Debug(v...)
	}
}
func (sl *SimpleLogger) Debugf(format string, v ...interface{}) {
	if sl.enabled(LogLevelDebug) {
		sl.l.Debugf(format, v...)
	}
}
func (sl *SimpleLogger) Info(v ...interface{}) {
	if sl.enabled(LogLevelInfo) {
		sl.l.Info(v...)
	}
}
func (sl *SimpleLogger) Infof(format string, v ...interface{}) {
	if sl.enabled(LogLevelInfo) {
		sl.l.Infof(format, v...)
	}
}
func (sl *SimpleLogger) Warn(v ...interface{}) {
	if sl.enabled(LogLevelWarn) {
		sl.l.Warn(v...)
	}
}
func (sl *SimpleLogger) Warnf(format string, v ...interface{}) {
	if sl.enabled(LogLevelWarn) {
		sl.l.Warnf(format, v...)
	}
}
func (sl *SimpleLogger) Error(v ...interface{}) {
	if sl.enabled(LogLevelError) {
		sl.l.Error(v...)
	}
}
func (sl *SimpleLogger) Errorf(format string, v ...interface{}) {
	if sl.enabled(LogLevelError) {
		sl.l.Errorf(format, v...)
	}
}

// SetLevel changes the level of the package logger.
func SetLevel(level LogLevel) {
	simpleLogger.level = level
	simpleLogger.l.SetLevel(level.logrusLevel())
}

// GetLevel returns the level of the package logger.
func GetLevel() LogLevel {
	return simpleLogger.level
}

// SetOutput redirects the package logger.
func SetOutput(w io.Writer) {
	simpleLogger.l.SetOutput(w)
}

// SetJSON switches between the text and JSON formatters.
func SetJSON(json bool) {
	if json {
		simpleLogger.l.SetFormatter(&logrus.JSONFormatter{})
		return
	}
	simpleLogger.l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}

// WithFields returns an entry carrying structured fields, e.g. the remote
// address of a viewer.
func WithFields(fields map[string]interface{}) *logrus.Entry {
	return simpleLogger.l.WithFields(logrus.Fields(fields))
}

func Trace(v ...interface{}) {
	simpleLogger.Trace(v...)
}
func Tracef(format string, v ...interface{}) {
	simpleLogger.Tracef(format, v...)
}

func Debug(v ...interface{}) {
	simpleLogger.Debug(v...)
}
func Debugf(format string, v ...interface{}) {
	simpleLogger.Debugf(format, v...)
}

func Info(v ...interface{}) {
	simpleLogger.Info(v...)
}
func Infof(format string, v ...interface{}) {
	simpleLogger.Infof(format, v...)
}

func Warn(v ...interface{}) {
	simpleLogger.Warn(v...)
}
func Warnf(format string, v ...interface{}) {
	simpleLogger.Warnf(format, v...)
}

func Error(v ...interface{}) {
	simpleLogger.Error(v...)
}
func Errorf(format string, v ...interface{}) {
	simpleLogger.Errorf(format, v...)
}
