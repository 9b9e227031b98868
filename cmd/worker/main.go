package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OFFIS-RIT/scholargraph/internal/bootstrap"
	"github.com/OFFIS-RIT/scholargraph/internal/config"
	"github.com/OFFIS-RIT/scholargraph/internal/metrics"
	"github.com/OFFIS-RIT/scholargraph/internal/queue"
	"github.com/OFFIS-RIT/scholargraph/internal/util"
	"github.com/OFFIS-RIT/scholargraph/pkg/logger"
	"github.com/OFFIS-RIT/scholargraph/pkg/logger/console"
)

func formatDuration(d time.Duration) string {
	return fmt.Sprintf("%02d:%02d:%02d", int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60)
}

func main() {
	util.LoadEnv()

	cfg, err := config.Load()
	if err != nil {
		logger.Init(console.NewConsoleLogger(console.ConsoleLoggerParams{}))
		logger.Fatal("Invalid configuration", "err", err)
	}

	logger.Init(console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug:  cfg.Debug,
		JSON:   cfg.LogJSON,
		Prefix: "worker",
	}))

	if cfg.StorageBackend == config.StorageMemory {
		logger.Fatal("The worker needs the postgres backend; the memory backend ingests inside the server")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backends, err := bootstrap.OpenBackends(ctx, cfg)
	if err != nil {
		logger.Fatal("Unable to connect to database", "err", err)
	}
	defer backends.Close()

	_, redisCache, err := bootstrap.NewCache(ctx, cfg)
	if err != nil {
		logger.Warn("Redis unavailable, locking through postgres only", "err", err)
	} else {
		defer redisCache.Close()
	}

	objects, err := bootstrap.NewObjectStore(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to create object store", "err", err)
	}

	aiClient, err := bootstrap.NewAIClient(cfg.AI)
	if err != nil {
		logger.Fatal("Could not create AI client", "err", err)
	}

	collector := metrics.NewCollector()
	metricsAddr := util.GetEnvString("WORKER_METRICS_ADDR", ":9090")
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", collector.Handler())
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			logger.Error("Metrics listener stopped", "addr", metricsAddr, "err", err)
		}
	}()

	ingestService, err := bootstrap.NewIngestService(cfg, backends, objects, aiClient, collector)
	if err != nil {
		logger.Fatal("Failed to create ingest service", "err", err)
	}

	processor, err := queue.NewProcessor(queue.NewProcessorParams{
		Service: ingestService,
		Objects: objects,
		Locks:   bootstrap.NewLocks(backends, redisCache),
	})
	if err != nil {
		logger.Fatal("Failed to create processor", "err", err)
	}

	// Init rabbitmq
	conn, err := queue.Dial(cfg.RabbitMQ.URL())
	if err != nil {
		logger.Fatal("Failed to connect to RabbitMQ", "err", err)
	}
	defer conn.Close()

	setupCh, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	if err := queue.SetupQueues(setupCh, queue.Queues); err != nil {
		logger.Fatal("Failed to declare queues", "err", err)
	}
	_ = setupCh.Close()

	// A single consumer channel with prefetch=1 delivers one message at a
	// time across all queues.
	consumerCh, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open consumer channel", "err", err)
	}
	defer consumerCh.Close()
	if err := consumerCh.Qos(1, 0, true); err != nil {
		logger.Fatal("Failed to set QoS", "err", err)
	}

	worker := queue.NewWorker(consumerCh, processor, queue.WithAfterMessage(
		func(queueName string, d time.Duration, _ error) {
			m := aiClient.GetMetrics()
			collector.ModelUsage(m)
			logger.Info(
				"AI Metrics",
				"queue", queueName,
				"input_tokens", m.InputTokens,
				"output_tokens", m.OutputTokens,
				"total_tokens", m.TotalTokens,
				"duration", formatDuration(time.Duration(m.DurationMs)*time.Millisecond),
			)
			logger.Info("Processing time", "duration", formatDuration(d))
			aiClient.ResetMetrics()
		},
	))

	if err := worker.Run(ctx); err != nil {
		logger.Fatal("Worker stopped", "err", err)
	}
	logger.Info("Shutdown signal received, exiting...")
}
