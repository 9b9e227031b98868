// Package bootstrap builds the long-lived collaborators shared by the server
// and the worker from a config.Config.
package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/OFFIS-RIT/scholargraph/internal/config"
	"github.com/OFFIS-RIT/scholargraph/internal/storage"
	"github.com/OFFIS-RIT/scholargraph/pkg/ai"
	oai "github.com/OFFIS-RIT/scholargraph/pkg/ai/ollama"
	gai "github.com/OFFIS-RIT/scholargraph/pkg/ai/openai"
	"github.com/OFFIS-RIT/scholargraph/pkg/cache"
	"github.com/OFFIS-RIT/scholargraph/pkg/graph"
	"github.com/OFFIS-RIT/scholargraph/pkg/ingest"
	"github.com/OFFIS-RIT/scholargraph/pkg/leaselock"
	"github.com/OFFIS-RIT/scholargraph/pkg/loader"
	"github.com/OFFIS-RIT/scholargraph/pkg/loader/pdf"
	"github.com/OFFIS-RIT/scholargraph/pkg/logger"
	"github.com/OFFIS-RIT/scholargraph/pkg/query"
	"github.com/OFFIS-RIT/scholargraph/pkg/store"
	"github.com/OFFIS-RIT/scholargraph/pkg/store/memory"
	pgstore "github.com/OFFIS-RIT/scholargraph/pkg/store/pgx"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

// NewAIClient selects the model adapter named by cfg.Adapter.
func NewAIClient(cfg config.AIConfig) (ai.GraphAIClient, error) {
	switch cfg.Adapter {
	case "ollama":
		client, err := oai.NewGraphOllamaClient(oai.NewGraphOllamaClientParams{
			EmbeddingModel:  cfg.EmbedModel,
			GenerationModel: cfg.ChatModel,
			ExtractionModel: cfg.ExtractModel,
			EmbeddingDim:    cfg.EmbedDim,

			BaseURL: cfg.ChatURL,
			ApiKey:  cfg.ChatKey,

			MaxConcurrentRequests: int64(cfg.ParallelReq),
		})
		if err != nil {
			return nil, fmt.Errorf("create ollama client: %w", err)
		}
		return client, nil
	default:
		return gai.NewGraphOpenAIClient(gai.NewGraphOpenAIClientParams{
			EmbeddingModel:  cfg.EmbedModel,
			GenerationModel: cfg.ChatModel,
			ExtractionModel: cfg.ExtractModel,
			EmbeddingDim:    cfg.EmbedDim,

			EmbeddingURL: cfg.EmbedURL,
			EmbeddingKey: cfg.EmbedKey,
			ChatURL:      cfg.ChatURL,
			ChatKey:      cfg.ChatKey,

			MaxConcurrentRequests: int64(cfg.ParallelReq),
		}), nil
	}
}

// Backends holds the graph and vector stores. Pool is nil for the memory
// backend.
type Backends struct {
	Graph   store.GraphStorage
	Vectors store.VectorStorage
	Pool    *pgxpool.Pool
}

func (b *Backends) Close() {
	if b.Pool != nil {
		b.Pool.Close()
	}
}

// OpenBackends connects to postgres, or creates in-memory stores when the
// memory backend is configured.
func OpenBackends(ctx context.Context, cfg config.Config) (*Backends, error) {
	if cfg.StorageBackend == config.StorageMemory {
		logger.Warn("[Bootstrap] Using in-memory stores, data is lost on exit")
		return &Backends{Graph: memory.NewGraphStore(), Vectors: memory.NewVectorStore()}, nil
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	timeout := pgstore.WithStatementTimeout(cfg.Query.ExternalCallTimeout)
	return &Backends{
		Graph:   pgstore.NewGraphDBStorageWithConnection(pool, timeout),
		Vectors: pgstore.NewVectorDBStorageWithConnection(pool, timeout),
		Pool:    pool,
	}, nil
}

// Migrate applies the schema migrations found at source, e.g.
// "file://migrations".
func Migrate(databaseURL, source string) error {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance(source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	version, dirty, _ := m.Version()
	logger.Info("[Bootstrap] Database schema ready", "version", version, "dirty", dirty)
	return nil
}

// NewCache connects to redis for the postgres backend and keeps responses
// in process memory otherwise.
func NewCache(ctx context.Context, cfg config.Config) (cache.Cache, *cache.RedisCache, error) {
	if cfg.StorageBackend == config.StorageMemory {
		return cache.NewMemoryCache(), nil, nil
	}
	rc, err := cache.NewRedisCache(ctx, cache.NewRedisCacheParams{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return nil, nil, err
	}
	return rc, rc, nil
}

// NewLocks prefers the postgres lock table and falls back to redis. It
// returns nil when neither is available.
func NewLocks(b *Backends, rc *cache.RedisCache) *leaselock.Client {
	switch {
	case b != nil && b.Pool != nil:
		return leaselock.New(leaselock.NewPostgresBackend(b.Pool))
	case rc != nil:
		return leaselock.New(leaselock.NewRedisBackend(rc.Client()))
	}
	return nil
}

func NewObjectStore(ctx context.Context, cfg config.Config) (ingest.ObjectStore, error) {
	if cfg.StorageBackend == config.StorageMemory || cfg.S3.Bucket == "" {
		return ingest.NewMemoryObjectStore(), nil
	}
	client, err := storage.NewS3Client(ctx, cfg.S3)
	if err != nil {
		return nil, err
	}
	return storage.NewS3ObjectStore(client, cfg.S3.Bucket), nil
}

func NewLoader(cfg config.Config) loader.Loader {
	return loader.NewRegistry(map[loader.FileType]loader.Loader{
		loader.FileTypePDF: pdf.NewPDFLoader(pdf.WithPDFToText(cfg.PDFToText)),
	})
}

func NewIngestService(
	cfg config.Config,
	b *Backends,
	objects ingest.ObjectStore,
	client ai.GraphAIClient,
	observer ingest.Observer,
) (*ingest.Service, error) {
	gc, err := graph.NewGraphClient(graph.NewGraphClientParams{Store: b.Graph})
	if err != nil {
		return nil, err
	}
	return ingest.NewService(ingest.NewServiceParams{
		Objects:           objects,
		Loader:            NewLoader(cfg),
		Extractor:         graph.NewAIExtractor(client),
		Embedder:          client,
		MetadataGenerator: client,
		Vectors:           b.Vectors,
		Graph:             gc,
		Observer:          observer,
	})
}

func NewAnswerer(
	cfg config.Config,
	b *Backends,
	client ai.GraphAIClient,
	c cache.Cache,
	observer query.Observer,
) (*query.Answerer, error) {
	tracer := query.LogTracer{}
	retriever := query.NewGraphRetriever(query.NewGraphRetrieverParams{
		Store:     b.Graph,
		Generator: client,
		Tracer:    tracer,
		MaxDepth:  cfg.Query.GraphMaxDepth,
		SeedLimit: cfg.Query.GraphSeedLimit,
		Timeout:   cfg.Query.ExternalCallTimeout,
	})

	opts := []query.AnswerOption{
		query.WithCacheTTL(cfg.Query.CacheTTL),
		query.WithCallTimeout(cfg.Query.ExternalCallTimeout),
		query.WithTracer(tracer),
	}
	if observer != nil {
		opts = append(opts, query.WithObserver(observer))
	}
	return query.NewAnswerer(query.NewAnswererParams{
		Embedder:  client,
		Generator: client,
		Vectors:   query.NewVectorSearcher(b.Vectors, tracer),
		Graph:     retriever,
		Cache:     c,
	}, opts...)
}
