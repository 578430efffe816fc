package selflog

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestThrottledSuppressesBurst(t *testing.T) {
	var buf bytes.Buffer
	l := New(slog.New(slog.NewTextHandler(&buf, nil)), 0.0001, 2)

	for i := 0; i < 10; i++ {
		l.Throttled("queue full, dropping event")
	}

	lines := strings.Count(buf.String(), "queue full")
	if lines != 2 {
		t.Errorf("expected 2 lines to pass the limiter, got %d", lines)
	}
	if got := l.Suppressed(); got != 8 {
		t.Errorf("expected 8 suppressed messages, got %d", got)
	}
}

func TestWarnIsNeverThrottled(t *testing.T) {
	var buf bytes.Buffer
	l := New(slog.New(slog.NewTextHandler(&buf, nil)), 0.0001, 1)

	for i := 0; i < 5; i++ {
		l.Warn("batch abandoned", "documents", i)
	}
	if got := strings.Count(buf.String(), "batch abandoned"); got != 5 {
		t.Errorf("expected 5 lines, got %d", got)
	}
	if !strings.Contains(buf.String(), "component=log-shipper") {
		t.Errorf("expected component attribute, got %q", buf.String())
	}
}

func TestDiscardNeverSuppresses(t *testing.T) {
	l := Discard()
	for i := 0; i < 100; i++ {
		l.Throttled("dropping event")
	}
	if got := l.Suppressed(); got != 0 {
		t.Errorf("expected an unlimited logger, got %d suppressed", got)
	}
}
