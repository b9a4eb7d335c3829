package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// LogLevel describes the level of importance of a log message.
type LogLevel uint8

const (
	// INFO is the lowest logging level. Used for general information messages.
	INFO LogLevel = 1
	// WARN is important information that may indicate a problem.
	WARN LogLevel = 2
	// ERR is the highest logging level. Used for error messages.
	ERR LogLevel = 3
)

// Logger logs messages to the standard output and/or a file. Loggers derived from one another share the same output.
type Logger struct {
	base     *logrus.Logger
	name     string
	logLevel LogLevel
}

// NewLogger constructs and returns a new logger instance.
//   - file: Optional file to which every message is also written.
//   - name: Name of the component, rendered as the `logger` field.
//   - fileOnly: Whether to write to the file only, and not to the standard output.
func NewLogger(file *LogFile, name string, fileOnly bool) *Logger {
	var writers []io.Writer
	if !fileOnly {
		writers = append(writers, os.Stdout)
	}
	if file != nil {
		writers = append(writers, file)
	}

	base := logrus.New()
	base.SetFormatter(&logrus.TextFormatter{
		DisableColors:   true,
		FullTimestamp:   true,
		TimestampFormat: "15:04:05.000",
	})
	base.SetLevel(logrus.InfoLevel)
	switch len(writers) {
	case 0:
		base.SetOutput(io.Discard)
	case 1:
		base.SetOutput(writers[0])
	default:
		base.SetOutput(io.MultiWriter(writers...))
	}

	return &Logger{
		base:     base,
		name:     name,
		logLevel: INFO,
	}
}

// NewStdLogger returns a new instance of a logger that logs to the standard output.
func NewStdLogger(name string) *Logger {
	return NewLogger(nil, name, false)
}

// NewDiscardLogger returns a logger that drops every message.
func NewDiscardLogger(name string) *Logger {
	return NewLogger(nil, name, true)
}

// WithLogLevel returns a new logger with the same configuration, but with a filter on the log level: only messages of higher or equal level will be logged.
func (l *Logger) WithLogLevel(level LogLevel) *Logger {
	return &Logger{
		base:     l.base,
		name:     l.name,
		logLevel: level,
	}
}

// WithPostfix returns a new logger with the same configuration, but with the given postfix appended to the name.
func (l *Logger) WithPostfix(postfix string) *Logger {
	return &Logger{
		base:     l.base,
		name:     fmt.Sprintf("%s|%s", l.name, postfix),
		logLevel: l.logLevel,
	}
}

func (l *Logger) entry() *logrus.Entry {
	return l.base.WithField("logger", l.name)
}

// Info logs a message with the INFO level.
func (l *Logger) Info(args ...interface{}) {
	if l.logLevel > INFO {
		return
	}
	l.entry().Info(fmt.Sprint(args...))
}

// Infof logs a formatted message with the INFO level.
func (l *Logger) Infof(format string, args ...interface{}) {
	l.Info(fmt.Sprintf(format, args...))
}

// Warn logs a message with the WARN level.
func (l *Logger) Warn(args ...interface{}) {
	if l.logLevel > WARN {
		return
	}
	l.entry().Warn(fmt.Sprint(args...))
}

// Warnf logs a formatted message with the WARN level.
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.Warn(fmt.Sprintf(format, args...))
}

// Error logs a message with the ERR level.
func (l *Logger) Error(args ...interface{}) {
	if l.logLevel > ERR {
		return
	}
	l.entry().Error(fmt.Sprint(args...))
}

// Errorf logs a formatted message with the ERR level.
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.Error(fmt.Sprintf(format, args...))
}
