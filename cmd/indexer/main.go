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
	"nftsales/internal/infrastructure/kafka"
	"nftsales/internal/infrastructure/logging"
	"nftsales/internal/infrastructure/mysql"
	"nftsales/internal/infrastructure/telemetry"
	"nftsales/internal/interfaces/httpapi"
	"nftsales/internal/streaming"

	kafkago "github.com/segmentio/kafka-go"
)

var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	logFile := cfg.LogFile
	if logFile == "" {
		logFile = "logs/indexer.log"
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

	chainID, err := cfg.IndexerChainID()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	registry, err := contracts.Load(cfg.ContractsFile)
	if err != nil {
		slog.Error("contracts error", "file", cfg.ContractsFile, "err", err)
		os.Exit(1)
	}

	baseRepo, err := database.Open(cfg)
	if err != nil {
		slog.Error("db error", "err", err)
		os.Exit(1)
	}
	defer baseRepo.Close()

	repo, err := mysql.NewCachedRepository(baseRepo, mysql.CacheConfig{
		Addr: cfg.RedisAddr,
		TTL:  cfg.CacheTTL,
	})
	if err != nil {
		slog.Warn("redis cache disabled", "err", err)
		repo, _ = mysql.NewCachedRepository(baseRepo, mysql.CacheConfig{})
	}
	defer repo.Close()

	shutdownTracing, err := telemetry.InitTracer(context.Background(), "nftsales-indexer", version, cfg.OtelEndpoint)
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

	metrics := httpapi.NewMetrics()
	engine, err := application.NewEngine(repo, registry, metrics)
	if err != nil {
		slog.Error("engine error", "err", err)
		os.Exit(1)
	}
	query, err := application.NewQuery(repo)
	if err != nil {
		slog.Error("query error", "err", err)
		os.Exit(1)
	}
	if state, err := query.ProcessState(context.Background()); err == nil {
		metrics.SetPending(len(state.PendingTableIDs))
	}

	httpServer, err := httpapi.NewServer(query, repo, registry, metrics, httpapi.BuildInfo{
		Version:   version,
		Commit:    commit,
		BuildTime: buildTime,
	})
	if err != nil {
		slog.Error("http server error", "err", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go func() {
		slog.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(ctx, cfg.HTTPAddr); err != nil {
			slog.Error("http server error", "err", err)
			cancel()
		}
	}()

	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:  cfg.KafkaBrokers,
		GroupID:  cfg.KafkaGroupID,
		Topic:    kafka.TopicForChain(cfg.KafkaTopicPrefix, chainID),
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	defer reader.Close()

	slog.Info("indexer streaming started",
		"chain_id", chainID,
		"group", cfg.KafkaGroupID,
		"assets", len(registry.Assets()),
		"payments", len(registry.Payments()),
	)
	c := consumer{reader: reader, engine: engine, metrics: metrics, chainID: chainID, cfg: cfg}
	if err := c.run(ctx); err != nil {
		slog.Error("consumer stopped", "chain_id", chainID, "err", err)
		cancel()
	}
}

type consumer struct {
	reader  *kafkago.Reader
	engine  *application.Engine
	metrics *httpapi.Metrics
	chainID uint64
	cfg     config.Config
}

// run applies messages in topic order. Offsets are committed in batches
// after the store transaction of every message in the batch succeeded, so a
// crash replays work the engine's cursor then skips.
func (c consumer) run(ctx context.Context) error {
	batch := application.NewOffsetBatch()
	flushInterval := c.cfg.CommitInterval
	if flushInterval <= 0 {
		flushInterval = time.Second
	}
	defer func() {
		if err := batch.Flush(context.Background(), c.reader); err != nil {
			slog.Error("final offset flush failed", "err", err)
		}
	}()

	for {
		fetchCtx, cancel := context.WithTimeout(ctx, flushInterval)
		message, err := c.reader.FetchMessage(fetchCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, context.DeadlineExceeded) {
				c.flush(ctx, batch)
				continue
			}
			c.metrics.IncKafkaFetchErr()
			slog.Error("kafka fetch error", "err", err)
			time.Sleep(100 * time.Millisecond)
			continue
		}

		decoded, err := streaming.Decode(message.Value)
		if err != nil {
			slog.Warn("message decode error", "topic", message.Topic, "offset", message.Offset, "err", err)
			c.metrics.IncKafkaDecodeErr()
			_ = c.reader.CommitMessages(ctx, message)
			continue
		}
		if decoded.ChainID != c.chainID {
			slog.Warn("dropping message from another chain", "topic", message.Topic, "chain_id", decoded.ChainID)
			c.metrics.IncKafkaDecodeErr()
			_ = c.reader.CommitMessages(ctx, message)
			continue
		}

		if err := c.apply(ctx, message, decoded); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		batch.Add(decoded, message)
		c.metrics.ObserveKafkaMessage(message.Topic, message.Partition, message.Offset, message.Time)

		if batch.Len() >= c.cfg.CommitBatchSize {
			c.flush(ctx, batch)
		}
	}
}

// apply retries transient store failures until the message lands. A broken
// invariant stops the consumer without committing the offset.
func (c consumer) apply(ctx context.Context, message kafkago.Message, decoded streaming.Message) error {
	for {
		messageCtx := telemetry.MessageContext(ctx, message.Headers, decoded.TraceID)
		_, err := c.engine.Apply(messageCtx, decoded)
		if err == nil {
			return nil
		}
		c.metrics.IncKafkaApplyErr()
		if errors.Is(err, application.ErrInvariant) {
			return err
		}
		if errors.Is(err, streaming.ErrInvalidMessage) {
			slog.Warn("dropping invalid message", "offset", message.Offset, "err", err)
			return nil
		}
		slog.Error("apply message error", "type", decoded.Type, "block", decoded.BlockNumber, "err", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func (c consumer) flush(ctx context.Context, batch *application.OffsetBatch) {
	if err := batch.Flush(ctx, c.reader); err != nil {
		c.metrics.IncKafkaCommitErr()
		slog.Error("kafka commit error", "err", err)
	}
}
