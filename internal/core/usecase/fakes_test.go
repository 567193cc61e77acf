package usecase

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kirillkom/ragflow/internal/core/async"
	"github.com/kirillkom/ragflow/internal/core/domain"
)

type retrieverFake struct {
	kind    domain.RetrieverType
	results []domain.RetrievalResult
	err     error
	// block, when set, holds Retrieve until the channel closes or ctx ends.
	block  chan struct{}
	calls  int32
	closed int32
}

func (f *retrieverFake) Type() domain.RetrieverType { return f.kind }

func (f *retrieverFake) Retrieve(ctx context.Context, _ string, topK int) ([]domain.RetrievalResult, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	out := make([]domain.RetrievalResult, len(f.results))
	copy(out, f.results)
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func (f *retrieverFake) RetrieveAsync(ctx context.Context, query string, topK int) *async.Future[[]domain.RetrievalResult] {
	out, err := f.Retrieve(ctx, query, topK)
	return async.Resolved(out, err)
}

func (f *retrieverFake) Close() error {
	atomic.AddInt32(&f.closed, 1)
	return nil
}

func results(kind domain.RetrieverType, pairs ...any) []domain.RetrievalResult {
	out := make([]domain.RetrievalResult, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, domain.RetrievalResult{
			Content:    pairs[i].(string),
			Score:      pairs[i+1].(float64),
			SourceType: kind,
		})
	}
	return out
}

type scorerFake struct {
	mu      sync.Mutex
	calls   int32
	block   chan struct{}
	errs    []error
	scoreFn func(query, document string) float64
}

func (f *scorerFake) Name() string { return "fake" }

func (f *scorerFake) ScoreDocuments(ctx context.Context, query string, documents []string) ([]domain.ScoringResult, error) {
	call := atomic.AddInt32(&f.calls, 1)
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	var err error
	if int(call) <= len(f.errs) {
		err = f.errs[call-1]
	}
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}

	out := make([]domain.ScoringResult, len(documents))
	for i, doc := range documents {
		score := float64(len(doc)) / 100
		if f.scoreFn != nil {
			score = f.scoreFn(query, doc)
		}
		out[i] = domain.ScoringResult{Document: doc, Score: score}
	}
	return out, nil
}

func (f *scorerFake) Calls() int { return int(atomic.LoadInt32(&f.calls)) }

type embedderFake struct {
	vectors [][]float32
	query   string
	err     error
}

func (f *embedderFake) Embed(context.Context, []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.vectors, nil
}

func (f *embedderFake) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	f.query = text
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.1, 0.2}, nil
}

type vectorStoreFake struct {
	hits      []domain.VectorHit
	searchErr error
	addErr    error
	topK      int
	added     []domain.VectorRecord
	deleted   []string
}

func (f *vectorStoreFake) Search(_ context.Context, _ []float32, topK int) ([]domain.VectorHit, error) {
	f.topK = topK
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.hits, nil
}

func (f *vectorStoreFake) AddVectors(_ context.Context, records []domain.VectorRecord) error {
	if f.addErr != nil {
		return f.addErr
	}
	f.added = append(f.added, records...)
	return nil
}

func (f *vectorStoreFake) DeleteVectors(_ context.Context, ids []string) error {
	f.deleted = append(f.deleted, ids...)
	return nil
}

func (f *vectorStoreFake) UpdateVector(context.Context, domain.VectorRecord) error { return nil }

type retrievalObserverFake struct {
	mu       sync.Mutex
	failures map[domain.RetrieverType]int
	merges   int
}

func (f *retrievalObserverFake) ObserveSource(source domain.RetrieverType, _ time.Duration, _ int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures == nil {
		f.failures = make(map[domain.RetrieverType]int)
	}
	if err != nil {
		f.failures[source]++
	}
}

func (f *retrievalObserverFake) ObserveMerge(time.Duration, int) {
	f.mu.Lock()
	f.merges++
	f.mu.Unlock()
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return cond()
}
