package httpadapter

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/kirillkom/ragflow/internal/config"
	"github.com/kirillkom/ragflow/internal/core/domain"
)

type queryFake struct {
	err     error
	results []domain.RetrievalResult

	mu       sync.Mutex
	lastTopK int
	rerank   bool
}

func (f *queryFake) Retrieve(_ context.Context, _ string, topK int, rerank bool) ([]domain.RetrievalResult, error) {
	f.mu.Lock()
	f.lastTopK, f.rerank = topK, rerank
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

func (f *queryFake) Answer(_ context.Context, _ string, topK int, rerank bool) (*domain.Answer, error) {
	f.mu.Lock()
	f.lastTopK, f.rerank = topK, rerank
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Answer{Text: "ok", Sources: f.results}, nil
}

type scoringFake struct {
	err     error
	cleared int
}

func (f *scoringFake) Score(_ context.Context, query string, documents []string) ([]domain.ScoringResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]domain.ScoringResult, len(documents))
	for i, doc := range documents {
		out[i] = domain.ScoringResult{Document: doc, Score: float64(len(documents) - i)}
	}
	return out, nil
}

func (f *scoringFake) BatchScore(ctx context.Context, queries []string, documents []string) ([][]domain.ScoringResult, error) {
	out := make([][]domain.ScoringResult, len(queries))
	for i, q := range queries {
		results, err := f.Score(ctx, q, documents)
		if err != nil {
			return nil, err
		}
		out[i] = results
	}
	return out, nil
}

func (f *scoringFake) ClearCache() { f.cleared++ }

type registryFake struct {
	weights map[domain.RetrieverType]float64
	err     error
}

func (f *registryFake) Weights() map[domain.RetrieverType]float64 {
	out := make(map[domain.RetrieverType]float64, len(f.weights))
	for k, v := range f.weights {
		out[k] = v
	}
	return out
}

func (f *registryFake) UpdateWeight(t domain.RetrieverType, w float64) error {
	if f.err != nil {
		return f.err
	}
	if _, ok := f.weights[t]; !ok {
		return domain.NewError(domain.ErrInvalidRequest, "update weight", "unknown retriever")
	}
	f.weights[t] = w
	return nil
}

func (f *registryFake) RemoveRetriever(t domain.RetrieverType) error {
	if _, ok := f.weights[t]; !ok {
		return domain.NewError(domain.ErrInvalidRequest, "remove retriever", "unknown retriever")
	}
	delete(f.weights, t)
	return nil
}

func (f *registryFake) RebalanceWeights() error {
	var sum float64
	for _, w := range f.weights {
		sum += w
	}
	for k, w := range f.weights {
		f.weights[k] = w / sum
	}
	return nil
}

type ingestFake struct{}

func (ingestFake) Upload(_ context.Context, filename, mimeType string, body io.Reader) (*domain.Document, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidRequest, "upload", io.EOF)
	}

	now := time.Now().UTC()
	return &domain.Document{
		ID:          "doc-1",
		Filename:    filename,
		MimeType:    mimeType,
		StoragePath: "doc-1_file.txt",
		Status:      domain.StatusUploaded,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

type docsFake struct {
	err error
}

func (f docsFake) GetByID(context.Context, string) (*domain.Document, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Document{ID: "doc-1", Filename: "a", MimeType: "text/plain", StoragePath: "a", Status: domain.StatusReady}, nil
}

type processorFake struct {
	deleted []string
}

func (f *processorFake) ProcessByID(context.Context, string) error { return nil }

func (f *processorFake) DeleteByID(_ context.Context, id string) error {
	if id == "missing" {
		return domain.NewError(domain.ErrDocumentNotFound, "delete", id)
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func newTestHandler(cfg config.Config, deps Dependencies) http.Handler {
	if cfg.RAGTopK == 0 {
		cfg.RAGTopK = 5
	}
	return NewRouter(cfg, deps).Handler()
}
