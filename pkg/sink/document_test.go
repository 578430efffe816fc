package sink

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/appfacterp/log-shipper/pkg/codec"
	"github.com/appfacterp/log-shipper/pkg/model"
)

func TestDefaultMapper(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	var nilPtr *int
	doc, err := DefaultMapper(model.LogEvent{
		Timestamp: ts,
		Level:     model.WARN,
		Template:  "user {User} logged in",
		Properties: map[string]any{
			"User":            "ana",
			model.EventIDKey:  "abc",
			"Missing":         nil,
			"MissingPointer":  nilPtr,
			"Attempts":        3,
		},
	})
	if err != nil {
		t.Fatalf("DefaultMapper: %v", err)
	}
	d := doc.(Document)
	if d.Message != "user ana logged in" {
		t.Errorf("unexpected message %q", d.Message)
	}
	if d.Level != "WARN" || !d.Timestamp.Equal(ts) {
		t.Errorf("unexpected level or timestamp: %s %s", d.Level, d.Timestamp)
	}
	for _, k := range []string{model.EventIDKey, "Missing", "MissingPointer"} {
		if _, ok := d.Props[k]; ok {
			t.Errorf("expected %s to be left out", k)
		}
	}
	if d.Props["Attempts"] != 3 {
		t.Errorf("expected Attempts kept, got %v", d.Props["Attempts"])
	}
}

func TestDefaultMapper_KeepsEmptyCollections(t *testing.T) {
	var (
		tags   []string
		labels map[string]string
	)
	doc, err := DefaultMapper(model.LogEvent{
		Template:   "m",
		Properties: map[string]any{"Tags": tags, "Labels": labels},
	})
	if err != nil {
		t.Fatalf("DefaultMapper: %v", err)
	}
	d := doc.(Document)
	for _, k := range []string{"Tags", "Labels"} {
		if _, ok := d.Props[k]; !ok {
			t.Errorf("expected %s to be kept", k)
		}
	}
}

func TestDocument_MarshalJSON(t *testing.T) {
	inner := errors.New("connection reset")
	d := Document{
		Timestamp: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Level:     "ERROR",
		Message:   "request failed",
		Props:     map[string]any{"path": "/api"},
		Exception: fmt.Errorf("calling upstream: %w", inner),
	}

	raw, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if got["timestamp"] != "2024-03-01T12:00:00Z" || got["message"] != "request failed" {
		t.Errorf("unexpected document %s", raw)
	}
	exc, _ := got["exception"].(map[string]any)
	if exc["message"] != "calling upstream: connection reset" || exc["type"] != "*fmt.wrapError" {
		t.Errorf("unexpected exception %v", exc)
	}
	in, _ := exc["inner"].(map[string]any)
	if in["message"] != "connection reset" {
		t.Errorf("expected wrapped cause, got %v", in)
	}

	raw, _ = json.Marshal(Document{Message: "plain"})
	if strings.Contains(string(raw), "exception") {
		t.Errorf("expected no exception field, got %s", raw)
	}
}

func TestDocument_RecoverTakenExceptionKey(t *testing.T) {
	d := Document{
		Message:   "m",
		Props:     map[string]any{ExceptionKey: "user value"},
		Exception: &unencodableError{msg: "boom"},
	}

	out, ok := d.Recover(codec.JSON())
	if !ok {
		t.Fatal("expected recovered document to be encodable")
	}
	r := out.(Document)
	if r.Exception != nil {
		t.Error("expected structured exception to be cleared")
	}
	if r.Props[ExceptionKey] != "user value" {
		t.Errorf("expected existing property untouched, got %v", r.Props[ExceptionKey])
	}
	var found bool
	for k, v := range r.Props {
		if k != ExceptionKey && strings.HasPrefix(k, ExceptionKey) && v == "boom" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected rendered error under a unique key, got %v", r.Props)
	}
	if d.Props[ExceptionKey] != "user value" || len(d.Props) != 1 {
		t.Error("Recover must not modify the original document")
	}
}

func TestDocument_RecoverKeepsEncodableException(t *testing.T) {
	d := Document{
		Props:     map[string]any{"ch": make(chan int)},
		Exception: errors.New("fine"),
	}
	out, ok := d.Recover(codec.JSON())
	if !ok {
		t.Fatal("expected recovered document to be encodable")
	}
	r := out.(Document)
	if r.Exception == nil {
		t.Error("expected encodable exception to be kept")
	}
	if _, ok := r.Props[ExceptionKey]; ok {
		t.Error("did not expect a rendered exception property")
	}
	if _, ok := r.Props["ch"].(string); !ok {
		t.Errorf("expected channel rendered as text, got %T", r.Props["ch"])
	}
}

func TestDocument_RecoverOutOfRangeTimestamp(t *testing.T) {
	d := Document{
		Timestamp: time.Date(10000, 1, 2, 3, 4, 5, 0, time.UTC),
		Level:     "INFO",
		Message:   "far future",
	}
	if codec.JSON().CanEncode(d) {
		t.Fatal("expected the document to be rejected before recovery")
	}

	out, ok := d.Recover(codec.JSON())
	if !ok {
		t.Fatal("expected recovered document to be encodable")
	}
	raw, err := json.Marshal(out)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got["timestamp"] != "10000-01-02T03:04:05Z" || got["message"] != "far future" {
		t.Errorf("unexpected document %s", raw)
	}
}

type panickingStringer struct{ C chan int }

func (panickingStringer) String() string { panic("no") }

func TestRenderValue(t *testing.T) {
	cyclic := map[string]any{}
	cyclic["self"] = cyclic

	tests := []struct {
		name  string
		value any
		check func(string) bool
	}{
		{"nil", nil, func(s string) bool { return s == nullValue }},
		{"error", errors.New("oops"), func(s string) bool { return s == "oops" }},
		{"panicking stringer", panickingStringer{}, func(s string) bool { return s == failedToSerialize }},
		{"cyclic map", cyclic, func(s string) bool { return strings.Contains(s, "...") }},
		{"struct", struct {
			A int
			b string
		}{1, "x"}, func(s string) bool { return s == "{A:1 b:x}" }},
		{"number", 42, func(s string) bool { return s == "42" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := renderValue(tt.value); !tt.check(got) {
				t.Errorf("unexpected rendering %q", got)
			}
		})
	}
}
