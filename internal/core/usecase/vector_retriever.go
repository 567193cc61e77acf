package usecase

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"github.com/kirillkom/ragflow/internal/core/async"
	"github.com/kirillkom/ragflow/internal/core/domain"
	"github.com/kirillkom/ragflow/internal/core/ports"
)

type VectorRetrieverConfig struct {
	Embedder ports.Embedder
	Store    ports.VectorStore
	PoolSize int
}

// VectorRetriever embeds the query and delegates to nearest-neighbour search.
type VectorRetriever struct {
	embedder ports.Embedder
	store    ports.VectorStore
	pool     *async.Pool
}

func NewVectorRetriever(cfg VectorRetrieverConfig) (*VectorRetriever, error) {
	var errs []error
	if cfg.Embedder == nil {
		errs = append(errs, errors.New("embedder is required"))
	}
	if cfg.Store == nil {
		errs = append(errs, errors.New("vector store is required"))
	}
	if len(errs) > 0 {
		return nil, domain.WrapError(domain.ErrInvalidRequest, "vector retriever config", errors.Join(errs...))
	}
	return &VectorRetriever{
		embedder: cfg.Embedder,
		store:    cfg.Store,
		pool:     async.NewPool(cfg.PoolSize),
	}, nil
}

func (r *VectorRetriever) Type() domain.RetrieverType { return domain.RetrieverVector }

func (r *VectorRetriever) Retrieve(ctx context.Context, query string, topK int) ([]domain.RetrievalResult, error) {
	if err := validateRetrieveArgs("vector retrieve", query, topK); err != nil {
		return nil, err
	}

	queryVector, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	hits, err := r.store.Search(ctx, queryVector, topK)
	if err != nil {
		return nil, fmt.Errorf("search vector store: %w", err)
	}

	out := make([]domain.RetrievalResult, 0, len(hits))
	for _, hit := range hits {
		content := hit.Content
		if content == "" {
			content = hit.ID
		}
		metadata := make(map[string]any, len(hit.Metadata)+1)
		maps.Copy(metadata, hit.Metadata)
		metadata["id"] = hit.ID
		out = append(out, domain.RetrievalResult{
			Content:    content,
			Score:      hit.Score,
			Metadata:   metadata,
			SourceType: domain.RetrieverVector,
		})
	}
	return out, nil
}

func (r *VectorRetriever) RetrieveAsync(ctx context.Context, query string, topK int) *async.Future[[]domain.RetrievalResult] {
	return async.Go(ctx, r.pool, func(taskCtx context.Context) ([]domain.RetrievalResult, error) {
		return r.Retrieve(taskCtx, query, topK)
	})
}

func (r *VectorRetriever) Close() error {
	return r.pool.Close()
}
