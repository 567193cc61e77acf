// Package bootstrap is the composition root shared by the api and worker
// processes.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kirillkom/ragflow/internal/config"
	"github.com/kirillkom/ragflow/internal/core/ports"
	"github.com/kirillkom/ragflow/internal/core/usecase"
	"github.com/kirillkom/ragflow/internal/infrastructure/chunking"
	"github.com/kirillkom/ragflow/internal/infrastructure/extractor/plaintext"
	"github.com/kirillkom/ragflow/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/ragflow/internal/infrastructure/queue/nats"
	"github.com/kirillkom/ragflow/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/ragflow/internal/infrastructure/resilience"
	"github.com/kirillkom/ragflow/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/ragflow/internal/observability/metrics"
)

type App struct {
	Config  config.Config
	Metrics *metrics.HTTPServerMetrics

	Hybrid  *usecase.HybridRetriever
	Scoring *usecase.ScoringService
	QueryUC *usecase.QueryUseCase

	// Ingestion collaborators stay nil unless POSTGRES_DSN is set.
	Queue    ports.MessageQueue
	Repo     ports.DocumentRepository
	IngestUC ports.DocumentIngestor
	IndexUC  ports.DocumentProcessor

	closers []func() error
}

func New(ctx context.Context, cfg config.Config) (app *App, err error) {
	app = &App{
		Config:  cfg,
		Metrics: metrics.NewHTTPServerMetrics("api"),
	}
	defer func() {
		if err != nil {
			_ = app.Close()
			app = nil
		}
	}()

	ollamaClient := ollama.New(cfg.OllamaURL, cfg.OllamaGenModel, cfg.OllamaEmbedModel, ollama.WithExecutor(newExecutor(app.Metrics.Retrieval())))
	embedder := ollama.NewEmbedder(ollamaClient)

	store, closeStore, err := newVectorStore(cfg, app.Metrics.Retrieval())
	if err != nil {
		return app, err
	}
	app.onClose(closeStore)

	hybrid, err := newHybridRetriever(cfg, embedder, store, app.Metrics.Retrieval())
	if err != nil {
		return app, err
	}
	app.Hybrid = hybrid
	app.onClose(hybrid.Close)

	scorer, closeScorer, err := newScorer(cfg, ollamaClient)
	if err != nil {
		return app, err
	}
	app.onClose(closeScorer)
	if scorer != nil {
		scoring, err := usecase.NewScoringService(usecase.ScoringConfig{
			Scorer:         scorer,
			PoolSize:       cfg.ScoringPoolSize,
			ComputeTimeout: cfg.ScoringComputeTimeout,
			Observer:       app.Metrics.Retrieval(),
			Logger:         slog.Default(),
		})
		if err != nil {
			return app, fmt.Errorf("init scoring service: %w", err)
		}
		app.Scoring = scoring
		app.onClose(scoring.Close)
	}

	generator, closeGenerator, err := newGenerator(cfg, ollamaClient)
	if err != nil {
		return app, err
	}
	app.onClose(closeGenerator)

	var scoringPort ports.ScoringService
	if app.Scoring != nil {
		scoringPort = app.Scoring
	}
	app.QueryUC = usecase.NewQueryUseCase(hybrid, scoringPort, generator)

	if cfg.PostgresDSN == "" {
		slog.Info("ingestion_disabled", "reason", "POSTGRES_DSN is empty")
		return app, nil
	}
	if err := app.initIngestion(ctx, embedder, store); err != nil {
		return app, err
	}
	return app, nil
}

func (a *App) initIngestion(ctx context.Context, embedder ports.Embedder, store ports.VectorStore) error {
	cfg := a.Config
	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	a.onClose(db.Close)

	repo := postgres.NewDocumentRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	storage, err := localfs.New(cfg.StoragePath)
	if err != nil {
		return fmt.Errorf("init object storage: %w", err)
	}

	queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
		Name:               "ragflow",
		QueueGroup:         cfg.NATSQueueGroup,
		ResilienceExecutor: newExecutor(a.Metrics.Retrieval()),
	})
	if err != nil {
		return fmt.Errorf("init message queue: %w", err)
	}
	a.onClose(func() error {
		queue.Close()
		return nil
	})

	chunker := chunking.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap)
	extractor := plaintext.NewExtractor(storage)

	a.Queue = queue
	a.Repo = repo
	a.IngestUC = usecase.NewIngestDocumentUseCase(repo, storage, queue)
	a.IndexUC = usecase.NewIndexDocumentUseCase(repo, extractor, chunker, embedder, store)
	return nil
}

func (a *App) onClose(fn func() error) {
	if fn != nil {
		a.closers = append(a.closers, fn)
	}
}

// Close releases resources in reverse construction order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

type retryRecorder interface {
	ObserveRetry(operation string)
}

// newExecutor builds the shared retry/breaker policy. retries may be nil.
func newExecutor(retries retryRecorder) *resilience.Executor {
	cfg := resilience.DefaultConfig()
	if retries != nil {
		cfg.OnRetry = func(operation string, _ int, _ error) {
			retries.ObserveRetry(operation)
		}
	}
	return resilience.NewExecutor(cfg)
}
