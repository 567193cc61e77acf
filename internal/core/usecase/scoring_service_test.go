package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kirillkom/ragflow/internal/core/domain"
)

func newTestScoringService(t *testing.T, scorer *scorerFake, mutate func(*ScoringConfig)) *ScoringService {
	t.Helper()
	cfg := ScoringConfig{Scorer: scorer, PoolSize: 4}
	if mutate != nil {
		mutate(&cfg)
	}
	svc, err := NewScoringService(cfg)
	if err != nil {
		t.Fatalf("NewScoringService() error = %v", err)
	}
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func TestScoreCachesByQueryAndDocuments(t *testing.T) {
	scorer := &scorerFake{}
	svc := newTestScoringService(t, scorer, nil)

	first, err := svc.Score(context.Background(), "q", []string{"a", "bb"})
	if err != nil {
		t.Fatalf("Score() error = %v", err)
	}
	first[0].Score = 42

	second, err := svc.Score(context.Background(), "q", []string{"a", "bb"})
	if err != nil {
		t.Fatalf("Score() error = %v", err)
	}
	if scorer.Calls() != 1 {
		t.Fatalf("expected cached result, got %d computations", scorer.Calls())
	}
	if second[0].Score == 42 {
		t.Fatalf("expected callers to receive independent copies")
	}

	if _, err := svc.Score(context.Background(), "q", []string{"a"}); err != nil {
		t.Fatalf("Score() error = %v", err)
	}
	if scorer.Calls() != 2 {
		t.Fatalf("expected a different document list to compute again, got %d", scorer.Calls())
	}
}

func TestScoreSharesOneComputationAcrossConcurrentCallers(t *testing.T) {
	scorer := &scorerFake{block: make(chan struct{})}
	svc := newTestScoringService(t, scorer, nil)

	const callers = 10
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := svc.Score(context.Background(), "q", []string{"doc"})
			if err == nil && len(out) != 1 {
				err = errors.New("unexpected result length")
			}
			errs <- err
		}()
	}

	if !waitFor(func() bool { return scorer.Calls() == 1 }) {
		t.Fatalf("expected the computation to start")
	}
	close(scorer.block)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("Score() error = %v", err)
		}
	}
	if scorer.Calls() != 1 {
		t.Fatalf("expected exactly one computation, got %d", scorer.Calls())
	}
}

func TestClearCacheForcesRecomputation(t *testing.T) {
	scorer := &scorerFake{}
	svc := newTestScoringService(t, scorer, nil)

	_, _ = svc.Score(context.Background(), "q", []string{"doc"})
	svc.ClearCache()
	if _, err := svc.Score(context.Background(), "q", []string{"doc"}); err != nil {
		t.Fatalf("Score() error = %v", err)
	}
	if scorer.Calls() != 2 {
		t.Fatalf("expected a new computation after clear, got %d", scorer.Calls())
	}
}

func TestScoreFailureIsNotCached(t *testing.T) {
	scorer := &scorerFake{errs: []error{domain.NewError(domain.ErrAPI, "fake", "upstream down")}}
	svc := newTestScoringService(t, scorer, nil)

	if _, err := svc.Score(context.Background(), "q", []string{"doc"}); !domain.IsKind(err, domain.ErrAPI) {
		t.Fatalf("expected ErrAPI, got %v", err)
	}
	if _, err := svc.Score(context.Background(), "q", []string{"doc"}); err != nil {
		t.Fatalf("expected retry to recompute and succeed, got %v", err)
	}
	if scorer.Calls() != 2 {
		t.Fatalf("expected failed entry to be purged, got %d computations", scorer.Calls())
	}
}

func TestScoreCallerCancellationDoesNotAbortComputation(t *testing.T) {
	scorer := &scorerFake{block: make(chan struct{})}
	svc := newTestScoringService(t, scorer, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := svc.Score(ctx, "q", []string{"doc"})
		done <- err
	}()
	if !waitFor(func() bool { return scorer.Calls() == 1 }) {
		t.Fatalf("expected the computation to start")
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected caller to observe cancellation, got %v", err)
	}

	close(scorer.block)
	if _, err := svc.Score(context.Background(), "q", []string{"doc"}); err != nil {
		t.Fatalf("Score() error = %v", err)
	}
	if scorer.Calls() != 1 {
		t.Fatalf("expected the detached computation to be reused, got %d", scorer.Calls())
	}
}

func TestScoreHonoursDeadlineWhilePoolIsSaturated(t *testing.T) {
	scorer := &scorerFake{block: make(chan struct{})}
	defer close(scorer.block)
	svc := newTestScoringService(t, scorer, func(cfg *ScoringConfig) { cfg.PoolSize = 1 })

	// One running computation plus a full queue of four.
	for i := 0; i < 5; i++ {
		query := fmt.Sprintf("busy-%d", i)
		go func() { _, _ = svc.Score(context.Background(), query, []string{"doc"}) }()
	}
	if !waitFor(func() bool { return scorer.Calls() == 1 }) {
		t.Fatalf("expected the first computation to start")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	started := time.Now()
	_, err := svc.Score(ctx, "late", []string{"doc"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if elapsed := time.Since(started); elapsed > 500*time.Millisecond {
		t.Fatalf("expected Score to return near its 50ms deadline, took %s", elapsed)
	}
}

func TestScoreComputeTimeout(t *testing.T) {
	scorer := &scorerFake{block: make(chan struct{})}
	defer close(scorer.block)
	svc := newTestScoringService(t, scorer, func(cfg *ScoringConfig) { cfg.ComputeTimeout = 20 * time.Millisecond })

	_, err := svc.Score(context.Background(), "q", []string{"doc"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestScoreRejectsInvalidInput(t *testing.T) {
	scorer := &scorerFake{}
	svc := newTestScoringService(t, scorer, nil)

	if _, err := svc.Score(context.Background(), "", []string{"doc"}); !domain.IsKind(err, domain.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for empty query, got %v", err)
	}
	if _, err := svc.Score(context.Background(), "q", nil); !domain.IsKind(err, domain.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for no documents, got %v", err)
	}
	if scorer.Calls() != 0 {
		t.Fatalf("expected no computation for invalid input")
	}
}

func TestBatchScoreReturnsOneListPerQuery(t *testing.T) {
	scorer := &scorerFake{scoreFn: func(query, doc string) float64 {
		if query == "first" {
			return 1
		}
		return 2
	}}
	svc := newTestScoringService(t, scorer, nil)

	out, err := svc.BatchScore(context.Background(), []string{"first", "second"}, []string{"a", "b"})
	if err != nil {
		t.Fatalf("BatchScore() error = %v", err)
	}
	if len(out) != 2 || out[0][0].Score != 1 || out[1][1].Score != 2 {
		t.Fatalf("unexpected batch output: %+v", out)
	}
}

func TestBatchScoreFailsWholeBatch(t *testing.T) {
	scorer := &scorerFake{}
	svc := newTestScoringService(t, scorer, nil)

	_, err := svc.BatchScore(context.Background(), []string{"ok", " "}, []string{"a"})
	if !domain.IsKind(err, domain.ErrInvalidRequest) {
		t.Fatalf("expected batch to fail with the query error, got %v", err)
	}
}

func TestScoreCacheKeyIsUnambiguous(t *testing.T) {
	if scoreCacheKey("ab", []string{"c"}) == scoreCacheKey("a", []string{"bc"}) {
		t.Fatalf("expected field boundaries to change the key")
	}
	if scoreCacheKey("q", []string{"a", "b"}) == scoreCacheKey("q", []string{"b", "a"}) {
		t.Fatalf("expected document order to change the key")
	}
}
