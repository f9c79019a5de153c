package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	waLog "go.mau.fi/whatsmeow/util/log"
)

// Logger wraps zerolog and implements waLog.Logger so one logger hierarchy
// flows through both wahub components and the whatsmeow clients.
type Logger struct {
	zl     zerolog.Logger
	module string
}

// New creates the root Logger writing to stderr.
func New(module string, level string) *Logger {
	return NewWithOutput(module, level, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})
}

// NewWithOutput creates a Logger writing to the given output.
func NewWithOutput(module string, level string, out io.Writer) *Logger {
	zl := zerolog.New(out).
		Level(parseLevel(level)).
		With().Timestamp().Str("module", module).
		Logger()
	return &Logger{zl: zl, module: module}
}

// parseLevel converts a string level to a zerolog level.
func parseLevel(level string) zerolog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return zerolog.DebugLevel
	case "INFO":
		return zerolog.InfoLevel
	case "WARN", "WARNING":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Sub creates a sub-logger with a nested module name.
func (l *Logger) Sub(module string) waLog.Logger {
	newModule := module
	if l.module != "" {
		newModule = l.module + "/" + module
	}
	return &Logger{
		zl:     l.zl.With().Str("module", newModule).Logger(),
		module: newModule,
	}
}

// Debugf logs a debug message.
func (l *Logger) Debugf(msg string, args ...interface{}) {
	l.zl.Debug().Msgf(msg, args...)
}

// Infof logs an info message.
func (l *Logger) Infof(msg string, args ...interface{}) {
	l.zl.Info().Msgf(msg, args...)
}

// Warnf logs a warning message.
func (l *Logger) Warnf(msg string, args ...interface{}) {
	l.zl.Warn().Msgf(msg, args...)
}

// Errorf logs an error message.
func (l *Logger) Errorf(msg string, args ...interface{}) {
	l.zl.Error().Msgf(msg, args...)
}

// Ensure Logger implements waLog.Logger.
var _ waLog.Logger = (*Logger)(nil)
