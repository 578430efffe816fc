// Package sink batches log events and ships them to OpenSearch through the
// bulk API.
//
// Events are accepted with Emit and queued. A single background loop drains
// the queue on every tick and sends what it found as one bulk request. A
// batch that fails is sent once more after repairing or dropping documents
// the serializer rejects; if that fails too the batch is abandoned. Nothing
// is ever retried beyond that.
package sink

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/appfacterp/log-shipper/internal/metrics"
	"github.com/appfacterp/log-shipper/internal/queue"
	"github.com/appfacterp/log-shipper/internal/selflog"
	"github.com/appfacterp/log-shipper/pkg/codec"
	"github.com/appfacterp/log-shipper/pkg/model"
	"github.com/appfacterp/log-shipper/pkg/storage"
)

// Indexer is the bulk client the sink sends through. storage.OpenSearchClient
// implements it.
type Indexer interface {
	Ping(ctx context.Context) error
	SendMany(ctx context.Context, index string, docs []any) (*storage.BulkResult, error)
	Serializer() codec.Serializer
}

type State int32

const (
	Running State = iota
	Draining
	Stopped
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Draining:
		return "draining"
	case Stopped:
		return "stopped"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

type Sink struct {
	opts       Options
	indexer    Indexer
	serializer codec.Serializer
	log        *selflog.Logger

	queue    *queue.Queue[model.LogEvent]
	state    atomic.Int32
	stopping atomic.Bool

	closeOnce sync.Once
	wake      chan struct{}
	done      chan struct{}
}

// New pings the cluster and starts the background loop. A failed ping only
// logs a warning unless FailOnUnreachableAtStartup is set.
func New(indexer Indexer, opts Options) (*Sink, error) {
	s, err := newSink(indexer, opts)
	if err != nil {
		return nil, err
	}
	go s.run()
	return s, nil
}

func newSink(indexer Indexer, opts Options) (*Sink, error) {
	if indexer == nil {
		return nil, errors.New("sink: indexer is required")
	}
	opts = opts.withDefaults()

	serializer := indexer.Serializer()
	if serializer == nil {
		serializer = codec.JSON()
	}

	s := &Sink{
		opts:       opts,
		indexer:    indexer,
		serializer: serializer,
		log:        selflog.New(opts.SelfLog, 1, 10),
		queue:      queue.New[model.LogEvent](opts.QueueSizeLimit),
		wake:       make(chan struct{}),
		done:       make(chan struct{}),
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.PingTimeout)
	err := indexer.Ping(ctx)
	cancel()
	if err != nil {
		if opts.FailOnUnreachableAtStartup {
			return nil, fmt.Errorf("%w: %w", ErrUnreachable, err)
		}
		s.log.Warn("unable to connect to opensearch cluster, events will be queued", "error", err)
	}
	return s, nil
}

// Emit queues an event. It never blocks and never fails; rejected events are
// counted and reported through the diagnostic log.
func (s *Sink) Emit(event model.LogEvent) {
	if s.TryEmit(event) {
		return
	}
	if s.queue.Closed() {
		metrics.EventsDropped.WithLabelValues(metrics.ReasonClosed).Inc()
		s.log.Throttled("sink is closed, dropping event")
		return
	}
	metrics.EventsDropped.WithLabelValues(metrics.ReasonQueueFull).Inc()
	s.log.Throttled("queue size limit reached, dropping event", "limit", s.opts.QueueSizeLimit)
}

// TryEmit queues an event and reports whether it was accepted. A rejected
// event is left to the caller and is not counted as dropped.
func (s *Sink) TryEmit(event model.LogEvent) bool {
	if !s.queue.Enqueue(event) {
		return false
	}
	metrics.EventsAccepted.Inc()
	return true
}

func (s *Sink) State() State {
	return State(s.state.Load())
}

// Pending returns the number of queued events.
func (s *Sink) Pending() int {
	return s.queue.Len()
}

func (s *Sink) run() {
	defer close(s.done)
	defer s.state.Store(int32(Stopped))

	for {
		stop := s.stopping.Load()
		start := time.Now()

		batch := s.nextBatch()
		metrics.QueueDepth.Set(float64(s.queue.Len()))
		if len(batch) > 0 {
			s.safeSend(batch)
			if len(batch) == s.opts.MaxBatchSize {
				// More may be waiting; skip the idle wait.
				continue
			}
		}
		if stop {
			return
		}

		if wait := s.opts.Tick - time.Since(start); wait > 0 {
			s.idle(wait)
		}
	}
}

func (s *Sink) nextBatch() []model.LogEvent {
	n := s.queue.Len()
	if limit := s.opts.MaxBatchSize; limit > 0 && n > limit {
		n = limit
	}
	if n == 0 {
		return nil
	}
	batch := make([]model.LogEvent, 0, n)
	for len(batch) < n {
		e, ok := s.queue.TryDequeue()
		if !ok {
			break
		}
		batch = append(batch, e)
	}
	return batch
}

func (s *Sink) idle(d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-s.wake:
	}
}

// safeSend keeps the loop alive when user code (mapper, index factory,
// serializer) panics.
func (s *Sink) safeSend(batch []model.LogEvent) {
	defer func() {
		if r := recover(); r != nil {
			metrics.Batches.WithLabelValues("panicked").Inc()
			metrics.EventsDropped.WithLabelValues(metrics.ReasonBackend).Add(float64(len(batch)))
			s.log.Error("panic while sending batch, dropping it", "events", len(batch), "panic", fmt.Sprint(r))
		}
	}()
	s.sendBatch(batch)
}
