package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"

	"github.com/appfacterp/log-shipper/internal/metrics"
	"github.com/appfacterp/log-shipper/pkg/model"
)

var (
	messagesConsumed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kafka_messages_consumed_total",
		Help: "The total number of messages consumed from Kafka",
	})
	consumerLag = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kafka_consumer_lag",
		Help: "The current lag of the consumer group",
	})
)

// Emitter accepts events; *sink.Sink implements it. TryEmit reports false
// when the event was not queued.
type Emitter interface {
	TryEmit(model.LogEvent) bool
}

// MessageReader is the part of *kafka.Reader the consumer uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Stats() kafka.ReaderStats
	Close() error
}

type Consumer struct {
	reader MessageReader
	sink   Emitter
	log    *slog.Logger

	commitSize     int
	commitInterval time.Duration
	retryBackoff   time.Duration
}

func NewConsumer(brokers []string, topic string, groupID string, sink Emitter, logger *slog.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})
	return newConsumer(r, sink, logger)
}

func newConsumer(r MessageReader, sink Emitter, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		reader:         r,
		sink:           sink,
		log:            logger.With("component", "kafka-consumer"),
		commitSize:     500,
		commitInterval: time.Second,
		retryBackoff:   100 * time.Millisecond,
	}
}

// Start hands every message to the sink and commits offsets in batches once
// the sink has queued them. A message the sink rejects is offered again after
// a backoff and is never committed until it is queued. It returns when ctx is
// cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	defer c.reader.Close()
	c.log.Info("starting kafka consumer")

	go c.reportLag(ctx)

	pending := make([]kafka.Message, 0, c.commitSize)
	lastCommit := time.Now()

	commit := func(ctx context.Context) {
		defer func() { lastCommit = time.Now() }()
		if len(pending) == 0 {
			return
		}
		if err := c.reader.CommitMessages(ctx, pending...); err != nil {
			// Non-fatal: uncommitted messages are redelivered after a restart.
			c.log.Warn("failed to commit messages", "messages", len(pending), "error", err)
		}
		pending = pending[:0]
	}

	for {
		fetchCtx, cancel := context.WithDeadline(ctx, lastCommit.Add(c.commitInterval))
		m, err := c.reader.FetchMessage(fetchCtx)
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				commitCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				commit(commitCtx)
				cancel()
				return ctx.Err()
			}
			if errors.Is(err, context.DeadlineExceeded) {
				commit(ctx)
				continue
			}

			c.log.Error("failed to fetch message", "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}

		var event model.LogEvent
		if err := json.Unmarshal(m.Value, &event); err != nil {
			metrics.IngestRequests.WithLabelValues("kafka", "invalid").Inc()
			c.log.Warn("failed to unmarshal log event, skipping", "offset", m.Offset, "partition", m.Partition, "error", err)
		} else {
			if !c.emit(ctx, event.Normalize(time.Now())) {
				// Cancelled while the sink was rejecting; the message stays
				// uncommitted and is redelivered.
				commitCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				commit(commitCtx)
				cancel()
				return ctx.Err()
			}
			metrics.IngestRequests.WithLabelValues("kafka", "accepted").Inc()
			messagesConsumed.Inc()
		}

		// Undecodable messages are committed too so they cannot block the partition.
		pending = append(pending, m)
		if len(pending) >= c.commitSize || time.Since(lastCommit) >= c.commitInterval {
			commit(ctx)
		}
	}
}

// emit offers the event until the sink queues it or ctx is done.
func (c *Consumer) emit(ctx context.Context, event model.LogEvent) bool {
	for attempt := 0; ; attempt++ {
		if c.sink.TryEmit(event) {
			return true
		}
		if attempt == 0 {
			metrics.IngestRequests.WithLabelValues("kafka", "rejected").Inc()
			c.log.Warn("sink rejected event, backing off")
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(c.retryBackoff):
		}
	}
}

func (c *Consumer) reportLag(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			consumerLag.Set(float64(c.reader.Stats().Lag))
		}
	}
}
