package sink

import (
	"log/slog"
	"time"
)

const (
	DefaultTick        = time.Second
	DefaultIndex       = "logs"
	DefaultSendTimeout = 30 * time.Second
	DefaultPingTimeout = 5 * time.Second
)

// Options configures how events are batched and sent. The zero value is
// usable: one second ticks, no batch cap, an unbounded queue and the
// default mapper.
type Options struct {
	// Tick is the idle interval between flushes.
	Tick time.Duration
	// MaxBatchSize caps the events sent per bulk request. Zero means the
	// whole queue is drained every tick.
	MaxBatchSize int
	// QueueSizeLimit bounds the pending events. Zero means unbounded; when
	// the limit is reached new events are dropped.
	QueueSizeLimit int
	// Mapper turns an event into the document that is indexed.
	Mapper Mapper
	// FailOnUnreachableAtStartup makes New return ErrUnreachable when the
	// startup ping fails instead of only logging it.
	FailOnUnreachableAtStartup bool

	// Index is the target index when IndexNameFactory is nil.
	Index string
	// IndexNameFactory is called once per batch to pick the target index.
	IndexNameFactory func() string

	// SendTimeout bounds a single bulk request. Shutdown does not cancel
	// requests in flight.
	SendTimeout time.Duration
	PingTimeout time.Duration

	// SelfLog receives diagnostics about the sink itself. Nil writes text
	// lines to stderr.
	SelfLog *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Tick <= 0 {
		o.Tick = DefaultTick
	}
	if o.MaxBatchSize < 0 {
		o.MaxBatchSize = 0
	}
	if o.QueueSizeLimit < 0 {
		o.QueueSizeLimit = 0
	}
	if o.Mapper == nil {
		o.Mapper = DefaultMapper
	}
	if o.Index == "" {
		o.Index = DefaultIndex
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = DefaultSendTimeout
	}
	if o.PingTimeout <= 0 {
		o.PingTimeout = DefaultPingTimeout
	}
	return o
}
