package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/ragflow/internal/core/async"
	"github.com/kirillkom/ragflow/internal/core/domain"
	"github.com/kirillkom/ragflow/internal/core/ports"
)

type ScoringConfig struct {
	Scorer   ports.RelevanceScorer
	PoolSize int
	// ComputeTimeout bounds a single scorer call. Zero means no bound
	// beyond the scorer's own transport timeouts.
	ComputeTimeout time.Duration
	Observer       ports.ScoringObserver
	Logger         *slog.Logger
}

func (c ScoringConfig) Validate() error {
	var errs []error
	if c.Scorer == nil {
		errs = append(errs, errors.New("scorer is required"))
	}
	if c.ComputeTimeout < 0 {
		errs = append(errs, fmt.Errorf("compute timeout must be >= 0, got %s", c.ComputeTimeout))
	}
	if len(errs) > 0 {
		return domain.WrapError(domain.ErrInvalidRequest, "scoring config", errors.Join(errs...))
	}
	return nil
}

// scoreEntry is an in-flight or completed computation. results and err are
// written once before done is closed.
type scoreEntry struct {
	done    chan struct{}
	results []domain.ScoringResult
	err     error
}

// ScoringService memoizes scorer calls per (query, documents) key and runs at
// most one computation per key at a time.
type ScoringService struct {
	scorer         ports.RelevanceScorer
	pool           *async.Pool
	computeTimeout time.Duration
	observer       ports.ScoringObserver
	logger         *slog.Logger

	mu    sync.Mutex
	cache map[string]*scoreEntry
}

func NewScoringService(cfg ScoringConfig) (*ScoringService, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	observer := cfg.Observer
	if observer == nil {
		observer = noopScoringObserver{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ScoringService{
		scorer:         cfg.Scorer,
		pool:           async.NewPool(cfg.PoolSize),
		computeTimeout: cfg.ComputeTimeout,
		observer:       observer,
		logger:         logger,
		cache:          make(map[string]*scoreEntry),
	}, nil
}

func (s *ScoringService) Score(ctx context.Context, query string, documents []string) ([]domain.ScoringResult, error) {
	const op = "score documents"
	if strings.TrimSpace(query) == "" {
		return nil, domain.NewError(domain.ErrInvalidRequest, op, "query must not be empty")
	}
	if len(documents) == 0 {
		return nil, domain.NewError(domain.ErrInvalidRequest, op, "documents must not be empty")
	}

	key := scoreCacheKey(query, documents)
	entry, owner := s.lookup(key)
	s.observer.ObserveCache(s.scorer.Name(), !owner)
	if owner {
		s.logger.DebugContext(ctx, "scoring_cache_miss", "scorer", s.scorer.Name(), "documents", len(documents))
		s.start(ctx, key, entry, query, append([]string(nil), documents...))
	}

	select {
	case <-entry.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if entry.err != nil {
		return nil, entry.err
	}
	return append([]domain.ScoringResult(nil), entry.results...), nil
}

// BatchScore scores documents against every query. The first failure fails
// the whole batch; computations already started keep running and stay cached.
func (s *ScoringService) BatchScore(ctx context.Context, queries []string, documents []string) ([][]domain.ScoringResult, error) {
	out := make([][]domain.ScoringResult, len(queries))
	g, gctx := errgroup.WithContext(ctx)
	for i, query := range queries {
		g.Go(func() error {
			results, err := s.Score(gctx, query, documents)
			if err != nil {
				return fmt.Errorf("query %d: %w", i, err)
			}
			out[i] = results
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// ClearCache drops every entry. Pending computations still resolve the
// callers already waiting on them.
func (s *ScoringService) ClearCache() {
	s.mu.Lock()
	s.cache = make(map[string]*scoreEntry)
	s.mu.Unlock()
}

func (s *ScoringService) Close() error {
	s.ClearCache()
	return s.pool.Close()
}

func (s *ScoringService) lookup(key string) (*scoreEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.cache[key]; ok {
		return entry, false
	}
	entry := &scoreEntry{done: make(chan struct{})}
	s.cache[key] = entry
	return entry, true
}

// start runs the computation on the pool under a context detached from the
// caller, so one caller giving up does not fail the others attached to it.
// Submission happens off the caller's goroutine: a full pool queue must not
// keep the caller from honouring its own deadline.
func (s *ScoringService) start(ctx context.Context, key string, entry *scoreEntry, query string, documents []string) {
	computeCtx := context.WithoutCancel(ctx)
	go func() {
		future := async.Go(computeCtx, s.pool, func(taskCtx context.Context) ([]domain.ScoringResult, error) {
			return s.compute(taskCtx, query, documents)
		})
		results, err := future.Await(context.Background())
		s.finish(key, entry, results, err)
	}()
}

func (s *ScoringService) compute(ctx context.Context, query string, documents []string) ([]domain.ScoringResult, error) {
	if s.computeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.computeTimeout)
		defer cancel()
	}

	started := time.Now()
	results, err := s.scorer.ScoreDocuments(ctx, query, documents)
	if err == nil && len(results) != len(documents) {
		err = domain.NewError(domain.ErrAPI, "score documents",
			fmt.Sprintf("scorer returned %d results for %d documents", len(results), len(documents)))
	}
	s.observer.ObserveComputation(s.scorer.Name(), time.Since(started), err)
	if err != nil {
		s.logger.WarnContext(ctx, "scoring_failed", "scorer", s.scorer.Name(), "documents", len(documents), "error", err)
		return nil, err
	}
	return results, nil
}

// finish publishes the outcome. A failed entry leaves the cache before its
// waiters are released so the next identical call recomputes.
func (s *ScoringService) finish(key string, entry *scoreEntry, results []domain.ScoringResult, err error) {
	entry.results = results
	entry.err = err
	if err != nil {
		s.mu.Lock()
		if s.cache[key] == entry {
			delete(s.cache, key)
		}
		s.mu.Unlock()
	}
	close(entry.done)
}

func scoreCacheKey(query string, documents []string) string {
	h := sha256.New()
	writeKeyField(h, query)
	for _, doc := range documents {
		writeKeyField(h, doc)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func writeKeyField(h hash.Hash, value string) {
	var size [8]byte
	binary.BigEndian.PutUint64(size[:], uint64(len(value)))
	_, _ = h.Write(size[:])
	_, _ = io.WriteString(h, value)
}

type noopScoringObserver struct{}

func (noopScoringObserver) ObserveCache(string, bool) {}
func (noopScoringObserver) ObserveComputation(string, time.Duration, error) {}
