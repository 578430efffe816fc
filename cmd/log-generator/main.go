package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/appfacterp/log-shipper/internal/api"
	"github.com/appfacterp/log-shipper/internal/config"
	"github.com/appfacterp/log-shipper/internal/engine"
	"github.com/appfacterp/log-shipper/internal/generator/random"
	"github.com/appfacterp/log-shipper/internal/kafka"
	"github.com/appfacterp/log-shipper/internal/publisher"
	"github.com/appfacterp/log-shipper/internal/publisher/console"
	httppub "github.com/appfacterp/log-shipper/internal/publisher/http"
	"github.com/appfacterp/log-shipper/internal/publisher/logger"
	"github.com/appfacterp/log-shipper/pkg/model"
	"github.com/appfacterp/log-shipper/pkg/sink"
	"github.com/appfacterp/log-shipper/pkg/storage"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	appLog := cfg.NewLogger()

	appLog.Info("loaded config", "workers", cfg.Engine.Workers, "rate", cfg.Engine.DefaultRate, "output", cfg.Output.Type)

	var pub publisher.Publisher
	switch cfg.Output.Type {
	case config.OutputConsole:
		pub = console.NewConsolePublisher(os.Stdout)
	case config.OutputHTTP:
		pub = httppub.NewHTTPPublisher(cfg.Output.HTTP)
	case config.OutputKafka:
		pub = kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	case config.OutputSink:
		client, err := storage.NewOpenSearchClient(cfg.StorageConfig())
		if err != nil {
			log.Fatalf("Failed to create OpenSearch client: %v", err)
		}
		s, err := sink.New(client, cfg.SinkOptions(appLog))
		if err != nil {
			log.Fatalf("Failed to start sink: %v", err)
		}
		handler := sink.NewHandler(s, &sink.HandlerOptions{Level: model.TRACE.SlogLevel()})
		pub = logger.NewLoggerPublisher(slog.New(handler), s.Close)
	default:
		log.Fatalf("Unknown output type: %s", cfg.Output.Type)
	}

	generator := random.NewRandomGenerator(cfg.Generator)
	eng := engine.NewEngine(generator, pub, cfg.Engine, appLog)

	control := &http.Server{Addr: cfg.Server.ControlAddr, Handler: api.NewControlServer(eng, generator).Handler()}
	go func() {
		appLog.Info("control API listening", "addr", cfg.Server.ControlAddr)
		if err := control.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLog.Error("control API error", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	appLog.Info("log generator started, press Ctrl+C to stop", "workers", cfg.Engine.Workers)
	eng.Start(ctx)
	_ = control.Close()
}
