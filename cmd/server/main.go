package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/OFFIS-RIT/scholargraph/internal/bootstrap"
	"github.com/OFFIS-RIT/scholargraph/internal/config"
	"github.com/OFFIS-RIT/scholargraph/internal/metrics"
	"github.com/OFFIS-RIT/scholargraph/internal/queue"
	"github.com/OFFIS-RIT/scholargraph/internal/server"
	mid "github.com/OFFIS-RIT/scholargraph/internal/server/middleware"
	"github.com/OFFIS-RIT/scholargraph/internal/util"
	"github.com/OFFIS-RIT/scholargraph/pkg/logger"
	"github.com/OFFIS-RIT/scholargraph/pkg/logger/console"

	"github.com/MicahParks/keyfunc/v3"
)

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
		Prefix: "server",
	}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.StorageBackend == config.StoragePostgres {
		if err := bootstrap.Migrate(cfg.DatabaseURL, util.GetEnvString("MIGRATIONS_SOURCE", "file://migrations")); err != nil {
			logger.Fatal("Failed to migrate database", "err", err)
		}
	}

	backends, err := bootstrap.OpenBackends(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to open stores", "err", err)
	}
	defer backends.Close()

	respCache, redisCache, err := bootstrap.NewCache(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to connect to redis", "err", err)
	}
	if redisCache != nil {
		defer redisCache.Close()
	}

	objects, err := bootstrap.NewObjectStore(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to create object store", "err", err)
	}

	aiClient, err := bootstrap.NewAIClient(cfg.AI)
	if err != nil {
		logger.Fatal("Failed to create AI client", "err", err)
	}

	collector := metrics.NewCollector()

	ingestService, err := bootstrap.NewIngestService(cfg, backends, objects, aiClient, collector)
	if err != nil {
		logger.Fatal("Failed to create ingest service", "err", err)
	}
	answerer, err := bootstrap.NewAnswerer(cfg, backends, aiClient, respCache, collector)
	if err != nil {
		logger.Fatal("Failed to create answerer", "err", err)
	}

	app := &mid.App{
		Ingest:       ingestService,
		Answerer:     answerer,
		Objects:      objects,
		MasterAPIKey: cfg.Auth.MasterAPIKey,
		MasterUserID: cfg.Auth.MasterUserID,
	}

	if cfg.Auth.URL != "" {
		k, err := keyfunc.NewDefault([]string{cfg.Auth.URL + "/jwks"})
		if err != nil {
			logger.Fatal("Failed to load jwks keys", "err", err)
		}
		app.Keyfunc = k.Keyfunc
	} else {
		logger.Warn("AUTH_URL not set, only the master API key is accepted")
	}

	// The memory backend keeps everything in this process, so uploads are
	// not handed to a worker.
	if cfg.StorageBackend == config.StoragePostgres {
		conn, err := queue.Dial(cfg.RabbitMQ.URL())
		if err != nil {
			logger.Fatal("Failed to connect to RabbitMQ", "err", err)
		}
		defer conn.Close()
		ch, err := conn.Channel()
		if err != nil {
			logger.Fatal("Failed to open channel", "err", err)
		}
		defer ch.Close()
		if err := queue.SetupQueues(ch, queue.Queues); err != nil {
			logger.Fatal("Failed to declare queues", "err", err)
		}
		app.Queue = ch
	}

	e := server.New(server.NewServerParams{
		App:       app,
		Metrics:   collector.Handler(),
		BodyLimit: util.GetEnvString("UPLOAD_LIMIT", "100M"),
	})
	if err := server.Run(ctx, e, cfg.Port); err != nil {
		logger.Fatal("Server stopped", "err", err)
	}
}
