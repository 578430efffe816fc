package model

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

type LogLevel string

const (
	TRACE LogLevel = "TRACE"
	DEBUG LogLevel = "DEBUG"
	INFO  LogLevel = "INFO"
	WARN  LogLevel = "WARN"
	ERROR LogLevel = "ERROR"
	FATAL LogLevel = "FATAL"
)

// EventIDKey is a framework-internal property that is never indexed.
const EventIDKey = "EventId"

// LogEvent is a single structured log record. It must not be modified after
// it has been handed to a sink.
type LogEvent struct {
	Timestamp  time.Time      `json:"timestamp"`
	Level      LogLevel       `json:"level"`
	Message    string         `json:"message,omitempty"`
	Template   string         `json:"template,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
	Err        error          `json:"-"`
}

// ParseLevel accepts the upper case wire names as well as the common long
// and lower case spellings. Unknown names map to INFO.
func ParseLevel(s string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE", "VERBOSE":
		return TRACE
	case "DEBUG":
		return DEBUG
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	case "FATAL", "CRITICAL":
		return FATAL
	default:
		return INFO
	}
}

func LevelFromSlog(l slog.Level) LogLevel {
	switch {
	case l < slog.LevelDebug:
		return TRACE
	case l < slog.LevelInfo:
		return DEBUG
	case l < slog.LevelWarn:
		return INFO
	case l < slog.LevelError:
		return WARN
	case l < slog.LevelError+4:
		return ERROR
	default:
		return FATAL
	}
}

// SlogLevel maps l back onto the slog scale.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case TRACE:
		return slog.LevelDebug - 4
	case DEBUG:
		return slog.LevelDebug
	case WARN:
		return slog.LevelWarn
	case ERROR:
		return slog.LevelError
	case FATAL:
		return slog.LevelError + 4
	default:
		return slog.LevelInfo
	}
}

// Normalize fills in what events received over the wire may omit: a zero
// timestamp becomes now and the level is mapped onto the known names.
func (e LogEvent) Normalize(now time.Time) LogEvent {
	if e.Timestamp.IsZero() {
		e.Timestamp = now
	}
	e.Level = ParseLevel(string(e.Level))
	return e
}

// RenderMessage returns the rendered message. Events that only carry a
// template get every {Name} placeholder replaced by the matching property.
func (e LogEvent) RenderMessage() string {
	if e.Message != "" || e.Template == "" {
		return e.Message
	}
	return RenderTemplate(e.Template, e.Properties)
}

func RenderTemplate(template string, props map[string]any) string {
	var b strings.Builder
	b.Grow(len(template))

	for i := 0; i < len(template); {
		open := strings.IndexByte(template[i:], '{')
		if open < 0 {
			b.WriteString(template[i:])
			break
		}
		open += i
		end := strings.IndexByte(template[open:], '}')
		if end < 0 {
			b.WriteString(template[i:])
			break
		}
		end += open

		b.WriteString(template[i:open])
		name := strings.TrimLeft(template[open+1:end], "@$")
		if v, ok := props[name]; ok {
			fmt.Fprint(&b, v)
		} else {
			b.WriteString(template[open : end+1])
		}
		i = end + 1
	}

	return b.String()
}
