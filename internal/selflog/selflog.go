// Package selflog is the sink's diagnostic side channel. It reports
// delivery problems (unreachable cluster, dropped events, abandoned batches)
// and is never part of the shipped log stream.
package selflog

import (
	"io"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

type Logger struct {
	log        *slog.Logger
	limiter    *rate.Limiter
	suppressed atomic.Uint64
}

// New wraps l. Throttled messages are limited to perSecond with the given
// burst; a nil l writes text lines to stderr.
func New(l *slog.Logger, perSecond rate.Limit, burst int) *Logger {
	if l == nil {
		l = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	if burst <= 0 {
		burst = 1
	}
	return &Logger{
		log:     l.With("component", "log-shipper"),
		limiter: rate.NewLimiter(perSecond, burst),
	}
}

// Discard returns a Logger that drops everything.
func Discard() *Logger {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)), rate.Inf, 1)
}

func (l *Logger) Info(msg string, args ...any) {
	l.log.Info(msg, args...)
}

func (l *Logger) Warn(msg string, args ...any) {
	l.log.Warn(msg, args...)
}

func (l *Logger) Error(msg string, args ...any) {
	l.log.Error(msg, args...)
}

// Throttled logs repetitive warnings such as per-event drops. Messages over
// the rate are counted and the count is attached to the next one that passes.
func (l *Logger) Throttled(msg string, args ...any) {
	if !l.limiter.AllowN(time.Now(), 1) {
		l.suppressed.Add(1)
		return
	}
	if n := l.suppressed.Swap(0); n > 0 {
		args = append(args, "suppressed", n)
	}
	l.log.Warn(msg, args...)
}

// Suppressed returns how many throttled messages are waiting to be reported.
func (l *Logger) Suppressed() uint64 {
	return l.suppressed.Load()
}
