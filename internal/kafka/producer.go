package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/appfacterp/log-shipper/pkg/model"
)

// MessageWriter is the part of *kafka.Writer the producer uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer writes events to the topic the shipper consumes. It is the
// load generator's kafka output.
type Producer struct {
	writer MessageWriter
}

func NewProducer(brokers []string, topic string) *Producer {
	w := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
		Async:    true,
	}
	return &Producer{writer: w}
}

// messageKey keeps one trace on one partition.
func messageKey(event model.LogEvent) string {
	if id, ok := event.Properties["TraceId"].(string); ok && id != "" {
		return id
	}
	if svc, ok := event.Properties["Service"].(string); ok {
		return svc
	}
	return ""
}

func (p *Producer) Publish(ctx context.Context, events []model.LogEvent) error {
	msgs := make([]kafka.Message, len(events))
	for i, event := range events {
		value, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("failed to marshal log event: %w", err)
		}
		msgs[i] = kafka.Message{
			Key:   []byte(messageKey(event)),
			Value: value,
			Time:  time.Now(),
		}
	}
	return p.writer.WriteMessages(ctx, msgs...)
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
