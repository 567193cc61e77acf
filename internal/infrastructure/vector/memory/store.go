// Package memory is an in-process VectorStore using brute-force cosine
// similarity. Searches run concurrently with writes.
package memory

import (
	"context"
	"fmt"
	"maps"
	"math"
	"sort"
	"sync"

	"github.com/kirillkom/ragflow/internal/core/domain"
)

type entry struct {
	record domain.VectorRecord
	norm   float64
}

type Store struct {
	mu      sync.RWMutex
	dim     int
	entries map[string]entry
}

func New() *Store {
	return &Store{entries: make(map[string]entry)}
}

func (s *Store) AddVectors(ctx context.Context, records []domain.VectorRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	dim := s.dim
	for _, record := range records {
		if record.ID == "" {
			return domain.NewError(domain.ErrInvalidRequest, "memory upsert", "record id is required")
		}
		if dim == 0 {
			dim = len(record.Vector)
		}
		if len(record.Vector) != dim {
			return domain.NewError(domain.ErrInvalidRequest, "memory upsert",
				fmt.Sprintf("record %s has dimension %d, want %d", record.ID, len(record.Vector), dim))
		}
	}

	s.dim = dim
	for _, record := range records {
		s.entries[record.ID] = entry{record: cloneRecord(record), norm: norm(record.Vector)}
	}
	return nil
}

func (s *Store) UpdateVector(ctx context.Context, record domain.VectorRecord) error {
	s.mu.RLock()
	_, exists := s.entries[record.ID]
	s.mu.RUnlock()
	if !exists {
		return domain.WrapError(domain.ErrInvalidRequest, "memory update", fmt.Errorf("record %s not found", record.ID))
	}
	return s.AddVectors(ctx, []domain.VectorRecord{record})
}

func (s *Store) DeleteVectors(ctx context.Context, ids []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.entries, id)
	}
	if len(s.entries) == 0 {
		s.dim = 0
	}
	return nil
}

func (s *Store) Search(ctx context.Context, queryVector []float32, topK int) ([]domain.VectorHit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return []domain.VectorHit{}, nil
	}

	s.mu.RLock()
	if s.dim != 0 && len(queryVector) != s.dim {
		s.mu.RUnlock()
		return nil, domain.NewError(domain.ErrInvalidRequest, "memory search",
			fmt.Sprintf("query has dimension %d, want %d", len(queryVector), s.dim))
	}
	queryNorm := norm(queryVector)
	hits := make([]domain.VectorHit, 0, len(s.entries))
	for id, e := range s.entries {
		hits = append(hits, domain.VectorHit{
			ID:       id,
			Score:    cosine(queryVector, queryNorm, e.record.Vector, e.norm),
			Content:  e.record.Content,
			Metadata: maps.Clone(e.record.Metadata),
		})
	}
	s.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func cloneRecord(record domain.VectorRecord) domain.VectorRecord {
	out := record
	out.Vector = append([]float32(nil), record.Vector...)
	out.Metadata = maps.Clone(record.Metadata)
	return out
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func cosine(a []float32, aNorm float64, b []float32, bNorm float64) float64 {
	if aNorm == 0 || bNorm == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (aNorm * bNorm)
}
