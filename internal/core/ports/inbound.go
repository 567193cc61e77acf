package ports

import (
	"context"
	"io"

	"github.com/kirillkom/ragflow/internal/core/async"
	"github.com/kirillkom/ragflow/internal/core/domain"
)

// ContentRetriever is the uniform query -> ranked results contract.
type ContentRetriever interface {
	Retrieve(ctx context.Context, query string, topK int) ([]domain.RetrievalResult, error)
	RetrieveAsync(ctx context.Context, query string, topK int) *async.Future[[]domain.RetrievalResult]
	Type() domain.RetrieverType
}

// ScoringService reranks candidate passages for a query.
type ScoringService interface {
	Score(ctx context.Context, query string, documents []string) ([]domain.ScoringResult, error)
	BatchScore(ctx context.Context, queries []string, documents []string) ([][]domain.ScoringResult, error)
	ClearCache()
}

// RetrieverRegistry is the live reconfiguration surface of a hybrid retriever.
type RetrieverRegistry interface {
	Weights() map[domain.RetrieverType]float64
	UpdateWeight(retrieverType domain.RetrieverType, weight float64) error
	RemoveRetriever(retrieverType domain.RetrieverType) error
	RebalanceWeights() error
}

// DocumentQueryService answers questions over retrieved context.
type DocumentQueryService interface {
	Retrieve(ctx context.Context, query string, topK int, rerank bool) ([]domain.RetrievalResult, error)
	Answer(ctx context.Context, question string, topK int, rerank bool) (*domain.Answer, error)
}

// DocumentIngestor is the inbound contract for document upload orchestration.
type DocumentIngestor interface {
	Upload(ctx context.Context, filename, mimeType string, body io.Reader) (*domain.Document, error)
}

// DocumentReader is the inbound read model for document state.
type DocumentReader interface {
	GetByID(ctx context.Context, id string) (*domain.Document, error)
}

// DocumentProcessor indexes and removes documents in the vector store.
type DocumentProcessor interface {
	ProcessByID(ctx context.Context, documentID string) error
	DeleteByID(ctx context.Context, documentID string) error
}
