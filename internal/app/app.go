package app

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"regional-stats-chatbot/internal/ai"
	"regional-stats-chatbot/internal/config"
	"regional-stats-chatbot/internal/database"
	"regional-stats-chatbot/internal/logger"
	"regional-stats-chatbot/internal/queue"
	"regional-stats-chatbot/internal/telemetry"
	"regional-stats-chatbot/internal/vector"
	"regional-stats-chatbot/services"
)

const serviceName = "regional-stats-chatbot"

// App wires every component once so the CLI and the worker share the
// same construction order and configuration.
type App struct {
	Cfg *config.Config

	Pool  *pgxpool.Pool
	Redis *redis.Client
	Queue *queue.Client

	Documents   *database.DocumentStore
	News        *database.NewsStore
	Feedback    *database.FeedbackStore
	Credentials *database.CredentialStore

	KeyPool  *ai.KeyPool
	Embedder *ai.Embedder
	Gemini   *ai.GeminiClient

	Jobs           *services.JobController
	Ingestion      *services.IngestionService
	Reconstruction *services.ReconstructionService
	Answers        *services.AnswerService

	tracerShutdown func()
}

// New builds the full application graph and runs migrations.
func New(ctx context.Context) (*App, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger.InitLogger(strings.EqualFold(os.Getenv("LOG_LEVEL"), "debug"))

	a := &App{Cfg: cfg}

	if cfg.TracingEnabled {
		shutdown, err := telemetry.InitTracer(serviceName, cfg.OTLPEndpoint)
		if err != nil {
			return nil, fmt.Errorf("init tracer: %w", err)
		}
		a.tracerShutdown = shutdown
	}

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	a.Pool = pool
	if err := database.Migrate(ctx, pool); err != nil {
		a.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	a.Redis = redis.NewClient(&redis.Options{
		Addr:     cfg.RedisURL,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	a.Queue = queue.NewClient(cfg.RedisURL, cfg.RedisPassword, cfg.RedisDB)

	a.Documents = database.NewDocumentStore(pool)
	a.News = database.NewNewsStore(pool)
	a.Feedback = database.NewFeedbackStore(pool)
	a.Credentials = database.NewCredentialStore(pool)

	keyPool, err := ai.NewKeyPool(ctx, cfg.Credentials, a.Credentials)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init credential pool: %w", err)
	}
	a.KeyPool = keyPool
	a.Embedder = ai.NewEmbedder(keyPool, a.Redis, cfg.EmbeddingsModel)
	a.Gemini = ai.NewGeminiClient(keyPool, cfg.GeminiModel, cfg.GeminiRPM, cfg.GeminiBurst)

	a.Jobs = services.NewJobController(database.NewJobStore(pool))

	index := vector.NewPGIndex(pool)
	retrieval := services.NewRetrievalEngine(
		a.Embedder, index, a.Documents, a.News,
		cfg.NewsResultLimit, cfg.FragmentResultLimit, cfg.LockedFetchFactor)
	stitcher := services.NewStitcher(a.Documents)
	reranker := services.NewReranker(a.Feedback)
	a.Answers = services.NewAnswerService(retrieval, stitcher, reranker, a.Gemini)

	extractor := services.NewPDFExtractor(cfg.MaxFileSize)
	chunker := services.NewChunker(cfg.MaxChunkSize, cfg.ChunkOverlap, cfg.BufferFlushLen)
	rasterizer := services.NewRasterizer(cfg.PageImageDir)
	a.Ingestion = services.NewIngestionService(
		a.Documents, extractor, chunker, rasterizer, a.Embedder, a.Jobs, a.Queue, cfg.FileStorageDir)
	a.Reconstruction = services.NewReconstructionService(
		a.Documents, a.Gemini, a.Embedder, a.Jobs, a.Queue)

	return a, nil
}

// Close releases every held resource. Safe on a partially built App.
func (a *App) Close() {
	if a.Queue != nil {
		if err := a.Queue.Close(); err != nil {
			logger.Warn("queue close failed", "error", err)
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			logger.Warn("redis close failed", "error", err)
		}
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
	if a.tracerShutdown != nil {
		a.tracerShutdown()
	}
}
