package bootstrap

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/kirillkom/ragflow/internal/config"
	"github.com/kirillkom/ragflow/internal/core/domain"
	"github.com/kirillkom/ragflow/internal/core/ports"
	"github.com/kirillkom/ragflow/internal/core/usecase"
	"github.com/kirillkom/ragflow/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/ragflow/internal/infrastructure/llm/openai"
	"github.com/kirillkom/ragflow/internal/infrastructure/rerank"
	"github.com/kirillkom/ragflow/internal/infrastructure/vector/memory"
	"github.com/kirillkom/ragflow/internal/infrastructure/vector/qdrant"
	"github.com/kirillkom/ragflow/internal/infrastructure/vector/qdrantgrpc"
	"github.com/kirillkom/ragflow/internal/infrastructure/websearch"
	"github.com/kirillkom/ragflow/internal/observability/metrics"
)

func newVectorStore(cfg config.Config, retries retryRecorder) (ports.VectorStore, func() error, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.VectorBackend)) {
	case "", "qdrant":
		return qdrant.New(cfg.QdrantURL, cfg.QdrantCollection, qdrant.WithExecutor(newExecutor(retries))), nil, nil
	case "qdrant_grpc", "grpc":
		store, err := qdrantgrpc.New(qdrantgrpc.Config{
			Address:    cfg.QdrantGRPCAddr,
			Collection: cfg.QdrantCollection,
			APIKey:     cfg.QdrantAPIKey,
			UseTLS:     cfg.QdrantUseTLS,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("init qdrant grpc store: %w", err)
		}
		return store, store.Close, nil
	case "memory":
		slog.Warn("vector_store_in_memory", "reason", "vectors are not shared between processes")
		return memory.New(), nil, nil
	default:
		return nil, nil, domain.NewError(domain.ErrInvalidRequest, "vector backend", fmt.Sprintf("unknown backend %q", cfg.VectorBackend))
	}
}

func newHybridRetriever(cfg config.Config, embedder ports.Embedder, store ports.VectorStore, observer *metrics.RetrievalMetrics) (*usecase.HybridRetriever, error) {
	available := make(map[domain.RetrieverType]ports.ContentRetriever, 2)

	vector, err := usecase.NewVectorRetriever(usecase.VectorRetrieverConfig{
		Embedder: embedder,
		Store:    store,
		PoolSize: cfg.VectorPoolSize,
	})
	if err != nil {
		return nil, fmt.Errorf("init vector retriever: %w", err)
	}
	available[domain.RetrieverVector] = vector

	if cfg.WebSearchAPIKey != "" {
		web, err := websearch.New(websearch.Config{
			APIKey:  cfg.WebSearchAPIKey,
			BaseURL: cfg.WebSearchBaseURL,
			Engine:  cfg.WebSearchEngine,
			Timeout: cfg.WebSearchTimeout,
		}, websearch.WithExecutor(newExecutor(observer)))
		if err != nil {
			_ = vector.Close()
			return nil, fmt.Errorf("init web search retriever: %w", err)
		}
		available[domain.RetrieverWebSearch] = web
	}

	hybridCfg, err := resolveHybridConfig(cfg, available)
	if err != nil {
		closeAll(available)
		return nil, err
	}
	hybridCfg.Observer = observer
	hybridCfg.Logger = slog.Default()

	hybrid, err := usecase.NewHybridRetriever(hybridCfg)
	if err != nil {
		closeAll(available)
		return nil, fmt.Errorf("init hybrid retriever: %w", err)
	}
	return hybrid, nil
}

// resolveHybridConfig builds the source list from HYBRID_CONFIG_FILE when
// set, otherwise from the weight variables. Without web search the vector
// source carries the whole weight.
func resolveHybridConfig(cfg config.Config, available map[domain.RetrieverType]ports.ContentRetriever) (usecase.HybridConfig, error) {
	out := usecase.HybridConfig{
		PoolSize:      cfg.HybridPoolSize,
		SourceTimeout: cfg.HybridSourceTimeout,
	}
	policy := cfg.HybridFailurePolicy

	if cfg.HybridConfigFile == "" {
		vector := available[domain.RetrieverVector]
		web, hasWeb := available[domain.RetrieverWebSearch]
		if !hasWeb {
			out.Sources = []usecase.HybridSource{{Retriever: vector, Weight: 1.0}}
		} else {
			out.Sources = []usecase.HybridSource{
				{Retriever: vector, Weight: cfg.HybridVectorWeight},
				{Retriever: web, Weight: cfg.HybridWebWeight},
			}
		}
	} else {
		file, err := config.LoadHybridFile(cfg.HybridConfigFile)
		if err != nil {
			return usecase.HybridConfig{}, domain.WrapError(domain.ErrInvalidRequest, "hybrid config", err)
		}
		for _, source := range file.Sources {
			retrieverType, err := domain.ParseRetrieverType(source.Type)
			if err != nil {
				return usecase.HybridConfig{}, err
			}
			retriever, ok := available[retrieverType]
			if !ok {
				return usecase.HybridConfig{}, domain.NewError(domain.ErrInvalidRequest, "hybrid config",
					fmt.Sprintf("source %s is not available; check its credentials", retrieverType))
			}
			out.Sources = append(out.Sources, usecase.HybridSource{Retriever: retriever, Weight: source.Weight})
		}
		if file.FailurePolicy != "" {
			policy = file.FailurePolicy
		}
		if file.SourceTimeout > 0 {
			out.SourceTimeout = file.SourceTimeout
		}
		if file.PoolSize > 0 {
			out.PoolSize = file.PoolSize
		}
	}

	parsed, err := usecase.ParseFailurePolicy(policy)
	if err != nil {
		return usecase.HybridConfig{}, err
	}
	out.FailurePolicy = parsed
	return out, nil
}

func closeAll(retrievers map[domain.RetrieverType]ports.ContentRetriever) {
	for _, r := range retrievers {
		if closer, ok := r.(interface{ Close() error }); ok {
			_ = closer.Close()
		}
	}
}

// newScorer returns a nil scorer when reranking is disabled.
func newScorer(cfg config.Config, client *ollama.Client) (ports.RelevanceScorer, func() error, error) {
	switch provider := strings.ToLower(strings.TrimSpace(cfg.RerankProvider)); provider {
	case "", "none":
		return nil, nil, nil
	case string(rerank.ProviderCohere), string(rerank.ProviderJina):
		scorer, err := rerank.NewRemoteScorer(rerank.RemoteConfig{
			Provider:       rerank.Provider(provider),
			BaseURL:        cfg.RerankBaseURL,
			APIKey:         cfg.RerankAPIKey,
			Model:          cfg.RerankModel,
			MaxRetries:     cfg.RerankMaxRetries,
			RetryBaseDelay: cfg.RerankRetryBaseDelay,
			Timeout:        cfg.RerankTimeout,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("init remote scorer: %w", err)
		}
		return scorer, scorer.Close, nil
	case "local":
		var (
			encoder ports.CrossEncoder
			model   string
		)
		switch strings.ToLower(cfg.RerankLocalEncoder) {
		case "lexical":
			encoder, model = rerank.LexicalEncoder{}, "lexical"
		default:
			crossEncoder := ollama.NewCrossEncoder(client, cfg.RerankModel, 4)
			encoder, model = crossEncoder, crossEncoder.Model()
		}
		scorer, err := rerank.NewLocalScorer(rerank.LocalConfig{Model: model, Encoder: encoder})
		if err != nil {
			return nil, nil, fmt.Errorf("init local scorer: %w", err)
		}
		return scorer, nil, nil
	default:
		return nil, nil, domain.NewError(domain.ErrInvalidRequest, "rerank provider", fmt.Sprintf("unknown provider %q", cfg.RerankProvider))
	}
}

func newGenerator(cfg config.Config, client *ollama.Client) (ports.AnswerGenerator, func() error, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.LLMProvider)) {
	case "", "ollama":
		return ollama.NewGenerator(client), nil, nil
	case "openai":
		completion, err := openai.New(openai.Config{
			APIKey:                cfg.OpenAIAPIKey,
			APIHost:               cfg.OpenAIAPIHost,
			Model:                 cfg.OpenAIModel,
			Timeout:               cfg.OpenAITimeout,
			MaxRetries:            cfg.OpenAIMaxRetries,
			RetryDelay:            cfg.OpenAIRetryDelay,
			Temperature:           openai.DefaultConfig().Temperature,
			MaxConcurrentRequests: cfg.OpenAIMaxConcurrent,
			RateLimit:             cfg.OpenAIRateLimit,
			RateUnit:              cfg.OpenAIRateUnit,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("init openai client: %w", err)
		}
		return completion, completion.Close, nil
	default:
		return nil, nil, domain.NewError(domain.ErrInvalidRequest, "llm provider", fmt.Sprintf("unknown provider %q", cfg.LLMProvider))
	}
}
