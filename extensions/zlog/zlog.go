// Package zlog adapts a zerolog.Logger to mqttng.Logger.
package zlog

import (
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/vitalvas/mqttng"
)

// Logger writes engine and client logs through zerolog.
type Logger struct {
	log   zerolog.Logger
	level *atomic.Int32
}

// New wraps log. The level filter starts at level and applies on top of the
// zerolog logger's own level.
func New(log zerolog.Logger, level mqttng.LogLevel) *Logger {
	l := &Logger{log: log, level: new(atomic.Int32)}
	l.level.Store(int32(level))
	return l
}

func (l *Logger) Debug(msg string, fields mqttng.LogFields) { l.write(mqttng.LogLevelDebug, msg, fields) }
func (l *Logger) Info(msg string, fields mqttng.LogFields)  { l.write(mqttng.LogLevelInfo, msg, fields) }
func (l *Logger) Warn(msg string, fields mqttng.LogFields)  { l.write(mqttng.LogLevelWarn, msg, fields) }
func (l *Logger) Error(msg string, fields mqttng.LogFields) { l.write(mqttng.LogLevelError, msg, fields) }

// WithFields returns a logger carrying fields as zerolog context. The level
// is shared with the parent.
func (l *Logger) WithFields(fields mqttng.LogFields) mqttng.Logger {
	return &Logger{
		log:   l.log.With().Fields(map[string]any(fields)).Logger(),
		level: l.level,
	}
}

// Level returns the current level.
func (l *Logger) Level() mqttng.LogLevel {
	return mqttng.LogLevel(l.level.Load())
}

// SetLevel changes the level for this logger and every logger derived from it.
func (l *Logger) SetLevel(level mqttng.LogLevel) {
	l.level.Store(int32(level))
}

func (l *Logger) write(level mqttng.LogLevel, msg string, fields mqttng.LogFields) {
	if level < l.Level() {
		return
	}

	var event *zerolog.Event
	switch level {
	case mqttng.LogLevelDebug:
		event = l.log.Debug()
	case mqttng.LogLevelInfo:
		event = l.log.Info()
	case mqttng.LogLevelWarn:
		event = l.log.Warn()
	default:
		event = l.log.Error()
	}

	for k, v := range fields {
		if err, ok := v.(error); ok && k == mqttng.LogFieldError {
			event = event.Err(err)
			continue
		}
		event = event.Interface(k, v)
	}
	event.Msg(msg)
}

// Level converts a zerolog level, e.g. from zerolog.ParseLevel.
func Level(level zerolog.Level) mqttng.LogLevel {
	switch {
	case level <= zerolog.DebugLevel:
		return mqttng.LogLevelDebug
	case level == zerolog.InfoLevel:
		return mqttng.LogLevelInfo
	case level == zerolog.WarnLevel:
		return mqttng.LogLevelWarn
	case level == zerolog.Disabled:
		return mqttng.LogLevelNone
	default:
		return mqttng.LogLevelError
	}
}
