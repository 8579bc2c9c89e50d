package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kirillkom/research-assistant/internal/config"
	"github.com/kirillkom/research-assistant/internal/core/ports"
	"github.com/kirillkom/research-assistant/internal/core/usecase"
	"github.com/kirillkom/research-assistant/internal/infrastructure/chunking"
	"github.com/kirillkom/research-assistant/internal/infrastructure/embedding/cache"
	"github.com/kirillkom/research-assistant/internal/infrastructure/embedding/hashing"
	"github.com/kirillkom/research-assistant/internal/infrastructure/extractor"
	"github.com/kirillkom/research-assistant/internal/infrastructure/extractor/pdf"
	"github.com/kirillkom/research-assistant/internal/infrastructure/extractor/plaintext"
	"github.com/kirillkom/research-assistant/internal/infrastructure/extractor/xlsx"
	"github.com/kirillkom/research-assistant/internal/infrastructure/graph/citations"
	"github.com/kirillkom/research-assistant/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/research-assistant/internal/infrastructure/llm/openai"
	"github.com/kirillkom/research-assistant/internal/infrastructure/queue/nats"
	"github.com/kirillkom/research-assistant/internal/infrastructure/repository/memory"
	"github.com/kirillkom/research-assistant/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/research-assistant/internal/infrastructure/resilience"
	"github.com/kirillkom/research-assistant/internal/infrastructure/storage/localfs"
	vectormemory "github.com/kirillkom/research-assistant/internal/infrastructure/vector/memory"
	"github.com/kirillkom/research-assistant/internal/infrastructure/vector/pgvector"
	"github.com/kirillkom/research-assistant/internal/infrastructure/vector/qdrant"
	"github.com/kirillkom/research-assistant/internal/observability/metrics"
)

type Options struct {
	// Queue connects to NATS for asynchronous uploads. The CLI and MCP
	// server ingest synchronously and leave it off.
	Queue bool
	// ChatObserver receives chat outcomes; nil disables observation.
	ChatObserver usecase.ChatObserver
}

type App struct {
	Config config.Config

	Chat      *usecase.ChatUseCase
	Ingest    *usecase.IngestDocumentUseCase
	Library   *usecase.LibraryUseCase
	Retrieval *usecase.RetrievalService
	Uploads   *usecase.UploadUseCase
	Processor *usecase.ProcessUploadUseCase

	UploadRepo ports.UploadRepository
	Queue      *nats.Queue
	// Citations is nil unless NEO4J_URI is set.
	Citations *citations.Graph

	Health map[string]func(context.Context) error

	closers []func()
}

func New(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	app := &App{
		Config: cfg,
		Health: map[string]func(context.Context) error{},
	}
	initialized := false
	defer func() {
		if !initialized {
			app.Close()
		}
	}()

	executor := resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:   cfg.RetryMaxAttempts,
		BreakerEnabled:     cfg.BreakerEnabled,
		BreakerOpenTimeout: time.Duration(cfg.BreakerOpenTimeoutSec) * time.Second,
	})

	if cfg.BreakerEnabled {
		app.Health["circuit_breakers"] = executor.HealthCheck
	}

	var db *sql.DB
	if cfg.StoreBackend == config.BackendPostgres || cfg.VectorBackend == config.BackendPGVector {
		var err error
		db, err = postgres.OpenDB(cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		app.onClose(func() { _ = db.Close() })
		app.Health["postgres"] = db.PingContext
	}

	var (
		documents ports.DocumentRepository
		uploads   ports.UploadRepository
		sessions  ports.ChatSessionStore
	)
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		if err := postgres.EnsureSchema(ctx, db); err != nil {
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		documents = postgres.NewDocumentRepository(db)
		uploads = postgres.NewUploadRepository(db)
		sessions = postgres.NewChatRepository(db)
	default:
		documents = memory.NewDocumentStore()
		uploads = memory.NewUploadStore()
		sessions = memory.NewChatStore()
	}
	app.UploadRepo = uploads

	index, err := buildIndex(ctx, cfg, db, app)
	if err != nil {
		return nil, err
	}
	embedder, err := buildEmbedder(ctx, cfg, executor, app)
	if err != nil {
		return nil, err
	}
	generator, err := buildGenerator(cfg, executor)
	if err != nil {
		return nil, err
	}

	var graph ports.CitationGraph
	if cfg.Neo4jURI != "" {
		g, err := citations.New(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPassword, cfg.Neo4jDatabase)
		if err != nil {
			return nil, fmt.Errorf("init citation graph: %w", err)
		}
		app.onClose(func() { _ = g.Close(context.Background()) })
		app.Citations = g
		graph = g
	}

	parsers := extractor.NewRegistry().
		Register(extractor.FormatPDF, pdf.NewParser()).
		Register(extractor.FormatPlainText, plaintext.NewParser()).
		Register(extractor.FormatXLSX, xlsx.NewParser())

	retrieval := usecase.NewRetrievalService(index, embedder, cfg.RAGTopK)
	ingest := usecase.NewIngestDocumentUseCase(documents, parsers, chunking.NewSplitter(), retrieval, graph)

	app.Retrieval = retrieval
	app.Ingest = ingest
	app.Library = usecase.NewLibraryUseCase(documents, retrieval, graph)
	app.Chat = usecase.NewChatUseCase(retrieval, generator, documents, sessions, opts.ChatObserver, usecase.ChatLimits{
		TopK:            cfg.RAGTopK,
		MaxContextChars: cfg.MaxContextChars,
		HistoryTurns:    cfg.HistoryTurns,
		GenerateTimeout: time.Duration(cfg.GenerationTimeoutSeconds) * time.Second,
	})

	if opts.Queue {
		storage, err := localfs.New(cfg.StoragePath)
		if err != nil {
			return nil, fmt.Errorf("init object storage: %w", err)
		}
		queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
			HandlerTimeout:     time.Duration(cfg.WorkerHandlerTimeoutSeconds) * time.Second,
			ResilienceExecutor: executor,
		})
		if err != nil {
			return nil, fmt.Errorf("init message queue: %w", err)
		}
		app.onClose(queue.Close)
		app.Health["nats"] = queue.Ping
		app.Queue = queue
		app.Uploads = usecase.NewUploadUseCase(uploads, storage, queue)
		app.Processor = usecase.NewProcessUploadUseCase(uploads, storage, ingest, cfg.ChunkPolicy(), cfg.MaxUploadBytes)
	}

	slog.Info("app_initialized",
		"store_backend", cfg.StoreBackend,
		"vector_backend", cfg.VectorBackend,
		"llm_provider", cfg.LLMProvider,
		"embed_provider", cfg.EmbedProvider,
		"embedding_cache", cfg.RedisURL != "",
		"citation_graph", graph != nil,
		"queue", opts.Queue,
	)
	initialized = true
	return app, nil
}

func buildIndex(ctx context.Context, cfg config.Config, db *sql.DB, app *App) (ports.VectorIndex, error) {
	switch cfg.VectorBackend {
	case config.BackendQdrant:
		client := qdrant.New(cfg.QdrantURL, cfg.QdrantCollection)
		app.Health["qdrant"] = client.Ping
		return client, nil
	case config.BackendPGVector:
		index := pgvector.New(db)
		if err := index.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("ensure vector schema: %w", err)
		}
		return index, nil
	default:
		return vectormemory.NewIndex(), nil
	}
}

func buildEmbedder(ctx context.Context, cfg config.Config, executor *resilience.Executor, app *App) (ports.Embedder, error) {
	var (
		embedder ports.Embedder
		model    string
	)
	switch cfg.EmbedProvider {
	case config.ProviderOpenAI:
		client, err := newOpenAIClient(cfg, executor)
		if err != nil {
			return nil, err
		}
		embedder, model = openai.NewEmbedder(client), cfg.OpenAIEmbedModel
	case config.ProviderHashing:
		embedder, model = hashing.New(cfg.HashingDimension), fmt.Sprintf("hashing-%d", cfg.HashingDimension)
	default:
		embedder, model = ollama.NewEmbedder(newOllamaClient(cfg, executor)), cfg.OllamaEmbedModel
	}

	if cfg.RedisURL == "" {
		return embedder, nil
	}
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(redisOpts)
	app.onClose(func() { _ = client.Close() })
	if err := client.Ping(ctx).Err(); err != nil {
		// The cache is optional; a cold Redis must not block startup.
		slog.Warn("embedding_cache_unavailable", "error", err)
	}
	app.Health["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
	namespace := fmt.Sprintf("%s:%s:%s", cfg.EmbedCacheNamespace, cfg.EmbedProvider, model)
	return cache.New(embedder, client, namespace, time.Duration(cfg.EmbedCacheTTLSeconds)*time.Second), nil
}

func buildGenerator(cfg config.Config, executor *resilience.Executor) (ports.Generator, error) {
	if cfg.LLMProvider == config.ProviderOpenAI {
		client, err := newOpenAIClient(cfg, executor)
		if err != nil {
			return nil, err
		}
		return openai.NewGenerator(client), nil
	}
	return ollama.NewGenerator(newOllamaClient(cfg, executor)), nil
}

func newOllamaClient(cfg config.Config, executor *resilience.Executor) *ollama.Client {
	return ollama.NewWithOptions(cfg.OllamaURL, cfg.OllamaGenModel, cfg.OllamaEmbedModel, ollama.Options{
		Temperature:        cfg.GenerationTemperature,
		Timeout:            time.Duration(cfg.GenerationTimeoutSeconds) * time.Second,
		ResilienceExecutor: executor,
	})
}

func newOpenAIClient(cfg config.Config, executor *resilience.Executor) (*openai.Client, error) {
	client, err := openai.New(openai.Config{
		APIKey:       cfg.OpenAIAPIKey,
		BaseURL:      cfg.OpenAIBaseURL,
		ChatModel:    cfg.OpenAIChatModel,
		EmbedModel:   cfg.OpenAIEmbedModel,
		Temperature:  float32(cfg.GenerationTemperature),
		RateLimitRPS: cfg.OpenAIRateLimitRPS,
	}, executor)
	if err != nil {
		return nil, fmt.Errorf("init openai client: %w", err)
	}
	return client, nil
}

// NewHTTPMetrics builds the API metrics registry and the chat observer bound
// to it.
func NewHTTPMetrics(service string) (*metrics.HTTPServerMetrics, usecase.ChatObserver) {
	m := metrics.NewHTTPServerMetrics(service)
	return m, m.ChatObserver(service)
}

func (a *App) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

// Close releases resources in reverse acquisition order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
