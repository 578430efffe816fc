package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"

	"github.com/appfacterp/log-shipper/internal/generator"
	"github.com/appfacterp/log-shipper/internal/generator/random"
	"github.com/appfacterp/log-shipper/internal/publisher"
	"github.com/appfacterp/log-shipper/pkg/model"
)

var (
	logsGenerated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "log_generator_logs_generated_total",
		Help: "The total number of logs generated",
	}, []string{"service", "level"})
	publishDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "log_generator_publish_duration_seconds",
		Help:    "Time taken to publish a batch of log events",
		Buckets: prometheus.DefBuckets,
	})
	publishErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "log_generator_publish_errors_total",
		Help: "Total number of publish failures",
	})
	activeWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "log_generator_active_workers",
		Help: "Number of currently running worker goroutines",
	})
)

type EngineConfig struct {
	Workers       int           `yaml:"workers"`
	DefaultRate   int           `yaml:"default_rate"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

type Engine struct {
	generator generator.Generator
	publisher publisher.Publisher
	config    EngineConfig
	limiter   *rate.Limiter
	log       *slog.Logger
}

func NewEngine(gen generator.Generator, pub publisher.Publisher, cfg EngineConfig, logger *slog.Logger) *Engine {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		generator: gen,
		publisher: pub,
		config:    cfg,
		limiter:   rate.NewLimiter(rate.Limit(cfg.DefaultRate), cfg.Workers),
		log:       logger,
	}
}

// Start runs the workers until ctx is cancelled, then flushes their
// batches and closes the publisher.
func (e *Engine) Start(ctx context.Context) {
	var wg sync.WaitGroup

	e.log.Info("engine starting", "workers", e.config.Workers, "rate", e.config.DefaultRate)

	for i := 0; i < e.config.Workers; i++ {
		wg.Add(1)
		go e.worker(ctx, &wg)
	}

	wg.Wait()

	if err := e.publisher.Close(); err != nil {
		e.log.Error("error closing publisher", "error", err)
	}

	e.log.Info("engine stopped")
}

func (e *Engine) SetRate(newRate int) {
	e.limiter.SetLimit(rate.Limit(newRate))
	e.log.Info("engine target rate updated", "rate", newRate)
}

func (e *Engine) worker(ctx context.Context, wg *sync.WaitGroup) {
	activeWorkers.Inc()
	defer activeWorkers.Dec()
	defer wg.Done()

	batch := make([]model.LogEvent, 0, e.config.BatchSize)
	lastFlush := time.Now()

	flush := func(ctx context.Context) {
		if len(batch) == 0 {
			return
		}

		start := time.Now()
		if err := e.publisher.Publish(ctx, batch); err != nil {
			publishErrors.Inc()
			e.log.Warn("worker failed to publish batch", "events", len(batch), "error", err)
		}
		publishDuration.Observe(time.Since(start).Seconds())

		batch = make([]model.LogEvent, 0, e.config.BatchSize)
		lastFlush = time.Now()
	}

	for {
		if err := e.limiter.Wait(ctx); err != nil {
			// ctx is done; give the last batch a short window of its own.
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			flush(flushCtx)
			cancel()
			return
		}

		event := e.generator.Generate()
		service, _ := event.Properties[random.ServiceKey].(string)
		logsGenerated.WithLabelValues(service, string(event.Level)).Inc()

		batch = append(batch, event)

		if len(batch) >= e.config.BatchSize || time.Since(lastFlush) >= e.config.FlushInterval {
			flush(ctx)
		}
	}
}
