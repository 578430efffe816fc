package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/appfacterp/log-shipper/pkg/model"
)

type fakeReader struct {
	msgs chan kafka.Message

	mu        sync.Mutex
	committed []kafka.Message
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-r.msgs:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Stats() kafka.ReaderStats { return kafka.ReaderStats{} }

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []model.LogEvent
	reject func(model.LogEvent) bool
}

func (e *recordingEmitter) TryEmit(ev model.LogEvent) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.reject != nil && e.reject(ev) {
		return false
	}
	e.events = append(e.events, ev)
	return true
}

func (e *recordingEmitter) setReject(fn func(model.LogEvent) bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reject = fn
}

func TestConsumer_EmitsAndCommits(t *testing.T) {
	reader := &fakeReader{msgs: make(chan kafka.Message, 3)}
	reader.msgs <- kafka.Message{Offset: 1, Value: []byte(`{"level":"error","message":"boom"}`)}
	reader.msgs <- kafka.Message{Offset: 2, Value: []byte(`not json`)}
	reader.msgs <- kafka.Message{Offset: 3, Value: []byte(`{"timestamp":"2024-01-01T00:00:00Z","level":"INFO","template":"hi {Name}","properties":{"Name":"x"}}`)}

	sink := &recordingEmitter{}
	c := newConsumer(reader, sink, slog.New(slog.NewTextHandler(io.Discard, nil)))
	c.commitInterval = 20 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := c.Start(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context error, got %v", err)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.events) != 2 {
		t.Fatalf("expected 2 emitted events, got %d", len(sink.events))
	}
	if sink.events[0].Level != model.ERROR || sink.events[0].Timestamp.IsZero() {
		t.Errorf("expected normalized event, got %+v", sink.events[0])
	}
	if sink.events[1].RenderMessage() != "hi x" {
		t.Errorf("unexpected message %q", sink.events[1].RenderMessage())
	}

	reader.mu.Lock()
	defer reader.mu.Unlock()
	if len(reader.committed) != 3 {
		t.Errorf("expected all 3 offsets committed, got %d", len(reader.committed))
	}
	if !reader.closed {
		t.Error("expected reader to be closed")
	}
}

func TestConsumer_RejectedEventIsNotCommitted(t *testing.T) {
	reader := &fakeReader{msgs: make(chan kafka.Message, 2)}
	reader.msgs <- kafka.Message{Offset: 1, Value: []byte(`{"level":"INFO","message":"first"}`)}
	reader.msgs <- kafka.Message{Offset: 2, Value: []byte(`{"level":"INFO","message":"second"}`)}

	sink := &recordingEmitter{reject: func(ev model.LogEvent) bool { return ev.Message == "second" }}
	c := newConsumer(reader, sink, slog.New(slog.NewTextHandler(io.Discard, nil)))
	c.commitSize = 1
	c.retryBackoff = 5 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_ = c.Start(ctx)

	reader.mu.Lock()
	defer reader.mu.Unlock()
	if len(reader.committed) != 1 || reader.committed[0].Offset != 1 {
		t.Errorf("expected only offset 1 committed, got %v", reader.committed)
	}
}

func TestConsumer_RetriesUntilAccepted(t *testing.T) {
	reader := &fakeReader{msgs: make(chan kafka.Message, 1)}
	reader.msgs <- kafka.Message{Offset: 7, Value: []byte(`{"level":"INFO","message":"late"}`)}

	sink := &recordingEmitter{reject: func(model.LogEvent) bool { return true }}
	c := newConsumer(reader, sink, slog.New(slog.NewTextHandler(io.Discard, nil)))
	c.commitSize = 1
	c.retryBackoff = 5 * time.Millisecond

	time.AfterFunc(30*time.Millisecond, func() { sink.setReject(nil) })

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_ = c.Start(ctx)

	sink.mu.Lock()
	if len(sink.events) != 1 {
		t.Errorf("expected the event to be accepted after backoff, got %d", len(sink.events))
	}
	sink.mu.Unlock()

	reader.mu.Lock()
	defer reader.mu.Unlock()
	if len(reader.committed) != 1 || reader.committed[0].Offset != 7 {
		t.Errorf("expected offset 7 committed once accepted, got %v", reader.committed)
	}
}

type fakeWriter struct {
	msgs []kafka.Message
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestProducer_Publish(t *testing.T) {
	w := &fakeWriter{}
	p := &Producer{writer: w}

	events := []model.LogEvent{
		{Level: model.INFO, Message: "a", Properties: map[string]any{"TraceId": "t-1", "Service": "api"}},
		{Level: model.INFO, Message: "b", Properties: map[string]any{"Service": "worker"}},
	}
	if err := p.Publish(context.Background(), events); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(w.msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(w.msgs))
	}
	if string(w.msgs[0].Key) != "t-1" || string(w.msgs[1].Key) != "worker" {
		t.Errorf("unexpected keys %q %q", w.msgs[0].Key, w.msgs[1].Key)
	}
	var got model.LogEvent
	if err := json.Unmarshal(w.msgs[1].Value, &got); err != nil || got.Message != "b" {
		t.Errorf("unexpected value %s (%v)", w.msgs[1].Value, err)
	}
}
