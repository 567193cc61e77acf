package ports

import (
	"context"
	"io"
	"time"

	"github.com/kirillkom/ragflow/internal/core/domain"
)

// DocumentRepository persists and reads document state.
type DocumentRepository interface {
	Create(ctx context.Context, doc *domain.Document) error
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	UpdateStatus(ctx context.Context, id string, status domain.DocumentStatus, errMessage string) error
	SetChunkCount(ctx context.Context, id string, chunkCount int) error
}

// ObjectStorage stores source documents.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// MessageQueue publishes/consumes ingestion events.
type MessageQueue interface {
	PublishDocumentIngested(ctx context.Context, documentID string) error
	SubscribeDocumentIngested(ctx context.Context, handler func(context.Context, string) error) error
}

// TextExtractor extracts plain text from a stored document.
type TextExtractor interface {
	Extract(ctx context.Context, doc *domain.Document) (string, error)
}

// Chunker splits document text into indexable chunks.
type Chunker interface {
	Split(doc *domain.Document, text string) []domain.Chunk
}

// Embedder builds vectors for chunks and query text. Implementations must be
// safe for concurrent use.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// VectorStore performs nearest-neighbour search and tolerates concurrent
// reads during writes.
type VectorStore interface {
	Search(ctx context.Context, queryVector []float32, topK int) ([]domain.VectorHit, error)
	AddVectors(ctx context.Context, records []domain.VectorRecord) error
	DeleteVectors(ctx context.Context, ids []string) error
	UpdateVector(ctx context.Context, record domain.VectorRecord) error
}

// RelevanceScorer computes one score per document, order-correspondent to input.
type RelevanceScorer interface {
	ScoreDocuments(ctx context.Context, query string, documents []string) ([]domain.ScoringResult, error)
	Name() string
}

// CrossEncoder is an opaque local relevance model.
type CrossEncoder interface {
	Predict(ctx context.Context, query string, documents []string) ([]float64, error)
}

// AnswerGenerator creates the final user-facing answer.
type AnswerGenerator interface {
	GenerateAnswer(ctx context.Context, question string, sources []domain.RetrievalResult) (string, error)
}

// RetrievalObserver receives per-source fan-out outcomes.
type RetrievalObserver interface {
	ObserveSource(source domain.RetrieverType, duration time.Duration, results int, err error)
	ObserveMerge(duration time.Duration, results int)
}

// ScoringObserver receives scoring cache events.
type ScoringObserver interface {
	ObserveCache(scorer string, hit bool)
	ObserveComputation(scorer string, duration time.Duration, err error)
}
