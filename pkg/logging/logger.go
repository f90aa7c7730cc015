// Package logging provides the structured logger used across the composite
// data worker, adapted from the teacher framework's reporting logger onto
// github.com/rs/zerolog.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Level is a logging level.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Format selects the wire format.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// Config configures a Logger.
type Config struct {
	Level  Level
	Format Format
	Output io.Writer
}

// Logger wraps zerolog.Logger with the field-oriented API the rest of the
// worker uses (per-request, per-host, per-val-id child loggers).
type Logger struct {
	z zerolog.Logger
}

// New creates a Logger from Config.
func New(cfg Config) *Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}

	var out io.Writer = cfg.Output
	if cfg.Format == FormatText {
		out = zerolog.ConsoleWriter{Out: cfg.Output, TimeFormat: time.RFC3339, NoColor: false}
	}

	z := zerolog.New(out).With().Timestamp().Logger()
	z = z.Level(levelToZerolog(cfg.Level))

	return &Logger{z: z}
}

func levelToZerolog(l Level) zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func (l *Logger) Debug(msg string, fields ...interface{}) { l.event(l.z.Debug(), msg, fields) }
func (l *Logger) Info(msg string, fields ...interface{})  { l.event(l.z.Info(), msg, fields) }
func (l *Logger) Warn(msg string, fields ...interface{})  { l.event(l.z.Warn(), msg, fields) }
func (l *Logger) Error(msg string, fields ...interface{}) { l.event(l.z.Error(), msg, fields) }

func (l *Logger) event(e *zerolog.Event, msg string, fields []interface{}) {
	for i := 0; i+1 < len(fields); i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			continue
		}
		e = e.Interface(key, fields[i+1])
	}
	e.Msg(msg)
}

// With returns a child logger with one additional field, used for
// per-request/per-host/per-val-id scoping.
func (l *Logger) With(key string, value interface{}) *Logger {
	return &Logger{z: l.z.With().Interface(key, value).Logger()}
}
