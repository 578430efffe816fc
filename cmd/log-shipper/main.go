package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/appfacterp/log-shipper/internal/api"
	"github.com/appfacterp/log-shipper/internal/config"
	"github.com/appfacterp/log-shipper/internal/kafka"
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
	logger := cfg.NewLogger()

	osClient, err := storage.NewOpenSearchClient(cfg.StorageConfig())
	if err != nil {
		logger.Error("failed to create opensearch client", "error", err)
		os.Exit(1)
	}

	shipper, err := sink.New(osClient, cfg.SinkOptions(logger))
	if err != nil {
		logger.Error("failed to start sink", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	if cfg.Kafka.Enabled {
		consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.GroupID, shipper, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := consumer.Start(ctx); err != nil && ctx.Err() == nil {
				logger.Error("kafka consumer stopped", "error", err)
			}
		}()
	}

	server := api.NewServer(shipper, logger)
	logger.Info("starting server", "addr", cfg.Server.Addr, "opensearch", cfg.OpenSearch.Addresses, "kafka", cfg.Kafka.Enabled)
	if err := server.ListenAndServe(ctx, cfg.Server.Addr); err != nil {
		logger.Error("server failed", "error", err)
		stop()
	}

	// Producers first, then drain whatever they queued.
	wg.Wait()
	logger.Info("draining sink", "pending", shipper.Pending())
	_ = shipper.Close()
	logger.Info("log shipper stopped")
}
