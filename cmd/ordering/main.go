package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"nftsales/internal/application"
	"nftsales/internal/config"
	"nftsales/internal/contracts"
	"nftsales/internal/infrastructure/database"
	"nftsales/internal/infrastructure/ethrpc"
	"nftsales/internal/infrastructure/kafka"
	"nftsales/internal/infrastructure/logging"
	"nftsales/internal/infrastructure/telemetry"
)

var version = "dev"

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	logFile := cfg.LogFile
	if logFile == "" {
		logFile = "logs/ordering.log"
	}
	if closer, err := logging.Init(logging.Config{
		Level:      cfg.LogLevel,
		File:       logFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
	}); err != nil {
		slog.Error("logger init error", "err", err)
	} else if closer != nil {
		defer closer.Close()
	}

	registry, err := contracts.Load(cfg.ContractsFile)
	if err != nil {
		slog.Error("contracts error", "file", cfg.ContractsFile, "err", err)
		os.Exit(1)
	}

	stateRepo, err := database.Open(cfg)
	if err != nil {
		slog.Error("state db error", "err", err)
		os.Exit(1)
	}
	defer stateRepo.Close()

	rpcClient, err := ethrpc.NewClient(ethrpc.Config{
		URL:       cfg.RPCURL,
		Addresses: registry.Watched(),
	})
	if err != nil {
		slog.Error("rpc error", "err", err)
		os.Exit(1)
	}

	producer, err := kafka.NewProducer(kafka.ProducerConfig{
		Brokers:     cfg.KafkaBrokers,
		TopicPrefix: cfg.KafkaTopicPrefix,
	})
	if err != nil {
		slog.Error("kafka error", "err", err)
		os.Exit(1)
	}
	defer producer.Close()

	shutdownTracing, err := telemetry.InitTracer(context.Background(), "nftsales-ordering", version, cfg.OtelEndpoint)
	if err != nil {
		slog.Warn("tracing init error", "err", err)
	} else {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTracing(ctx); err != nil {
				slog.Warn("tracing shutdown error", "err", err)
			}
		}()
	}

	startBlock := cfg.StartBlock
	if startBlock == 0 {
		startBlock = registry.StartBlock()
	}

	publisher, err := application.NewPublisher(rpcClient, producer, stateRepo, registry, orderingObserver{}, application.PublisherConfig{
		StartBlock:    startBlock,
		Confirmations: cfg.Confirmations,
		PollInterval:  cfg.PollInterval,
		BatchSize:     cfg.BatchSize,

		LogFetchChunkSize: cfg.LogFetchChunk,
		LogFetchWorkers:   cfg.LogFetchWorkers,
	})
	if err != nil {
		slog.Error("publisher error", "err", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	slog.Info("ordering streaming started",
		"rpc", cfg.RPCURL,
		"start", startBlock,
		"confirmations", cfg.Confirmations,
		"batch", cfg.BatchSize,
		"watched", len(registry.Watched()),
	)
	if err := publisher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		slog.Error("ordering stopped", "err", err)
	}
}

type orderingObserver struct{}

func (orderingObserver) OnLatestBlock(block uint64) {}

func (orderingObserver) OnBatchProcessed(fromBlock, toBlock uint64, transferCount int) {
	slog.Info("ordering batch",
		"from", fromBlock,
		"to", toBlock,
		"transfers", transferCount,
	)
}
