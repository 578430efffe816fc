package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "log_shipper_events_accepted_total",
		Help: "The total number of log events accepted into the queue",
	})

	EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "log_shipper_events_dropped_total",
		Help: "The total number of log events dropped before delivery",
	}, []string{"reason"})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "log_shipper_queue_depth",
		Help: "The number of log events waiting in the queue",
	})

	Batches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "log_shipper_batches_total",
		Help: "The total number of batches processed, by outcome",
	}, []string{"outcome"})

	BatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "log_shipper_batch_size",
		Help:    "The number of events per batch",
		Buckets: prometheus.ExponentialBuckets(1, 4, 8),
	})

	DocumentsRecovered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "log_shipper_documents_recovered_total",
		Help: "Documents seen by the recovery pass, by result",
	}, []string{"result"})

	IngestRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "log_shipper_ingest_requests_total",
		Help: "Total number of ingest requests processed",
	}, []string{"source", "status"})
)

// Drop reasons.
const (
	ReasonQueueFull = "queue_full"
	ReasonClosed    = "closed"
	ReasonMapping   = "mapping"
	ReasonEncoding  = "encoding"
	ReasonBackend   = "backend"
)
