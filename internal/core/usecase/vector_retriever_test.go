package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/kirillkom/ragflow/internal/core/domain"
)

func TestVectorRetrieverMapsHits(t *testing.T) {
	embedder := &embedderFake{}
	store := &vectorStoreFake{hits: []domain.VectorHit{
		{ID: "p-1", Score: 0.91, Content: "qdrant stores vectors", Metadata: map[string]any{"filename": "db.txt"}},
		{ID: "p-2", Score: 0.42},
	}}
	r, err := NewVectorRetriever(VectorRetrieverConfig{Embedder: embedder, Store: store, PoolSize: 1})
	if err != nil {
		t.Fatalf("NewVectorRetriever() error = %v", err)
	}
	defer r.Close()

	got, err := r.Retrieve(context.Background(), "what is qdrant", 2)
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if embedder.query != "what is qdrant" || store.topK != 2 {
		t.Fatalf("expected query embedding and topK=2 search, got %q/%d", embedder.query, store.topK)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 results, got %d", len(got))
	}
	if got[0].Content != "qdrant stores vectors" || got[0].Score != 0.91 || got[0].SourceType != domain.RetrieverVector {
		t.Fatalf("unexpected first result: %+v", got[0])
	}
	if got[0].Metadata["filename"] != "db.txt" || got[0].Metadata["id"] != "p-1" {
		t.Fatalf("expected hit metadata plus id, got %v", got[0].Metadata)
	}
	if got[1].Content != "p-2" {
		t.Fatalf("expected id fallback for empty content, got %q", got[1].Content)
	}
	if _, ok := store.hits[0].Metadata["id"]; ok {
		t.Fatalf("expected store metadata to stay untouched")
	}
}

func TestVectorRetrieverPropagatesErrors(t *testing.T) {
	embedErr := errors.New("embed fail")
	r, _ := NewVectorRetriever(VectorRetrieverConfig{Embedder: &embedderFake{err: embedErr}, Store: &vectorStoreFake{}})
	defer r.Close()
	if _, err := r.Retrieve(context.Background(), "q", 3); !errors.Is(err, embedErr) {
		t.Fatalf("expected embed error, got %v", err)
	}

	searchErr := errors.New("search fail")
	r2, _ := NewVectorRetriever(VectorRetrieverConfig{Embedder: &embedderFake{}, Store: &vectorStoreFake{searchErr: searchErr}})
	defer r2.Close()
	if _, err := r2.RetrieveAsync(context.Background(), "q", 3).Await(context.Background()); !errors.Is(err, searchErr) {
		t.Fatalf("expected search error, got %v", err)
	}
}

func TestVectorRetrieverRequiresCollaborators(t *testing.T) {
	if _, err := NewVectorRetriever(VectorRetrieverConfig{}); !domain.IsKind(err, domain.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}
