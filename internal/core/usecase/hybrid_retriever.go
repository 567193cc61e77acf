package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/ragflow/internal/core/async"
	"github.com/kirillkom/ragflow/internal/core/domain"
	"github.com/kirillkom/ragflow/internal/core/ports"
)

// WeightTolerance is the allowed deviation of the configured weight sum from 1.0.
const WeightTolerance = 1e-4

type FailurePolicy string

const (
	// FailureIsolate logs a failed source and merges the rest.
	FailureIsolate FailurePolicy = "isolate"
	// FailureFailFast cancels the remaining sources on the first failure.
	FailureFailFast FailurePolicy = "fail_fast"
)

func ParseFailurePolicy(raw string) (FailurePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", string(FailureIsolate):
		return FailureIsolate, nil
	case string(FailureFailFast), "fail-fast":
		return FailureFailFast, nil
	default:
		return "", domain.WrapError(domain.ErrInvalidRequest, "parse failure policy", fmt.Errorf("unknown failure policy %q", raw))
	}
}

type HybridSource struct {
	Retriever ports.ContentRetriever
	Weight    float64
}

type HybridConfig struct {
	Sources       []HybridSource
	PoolSize      int
	FailurePolicy FailurePolicy
	// SourceTimeout bounds each child call when positive.
	SourceTimeout time.Duration
	Observer      ports.RetrievalObserver
	Logger        *slog.Logger
}

// Validate checks the assembly without side effects.
func (c HybridConfig) Validate() error {
	const op = "hybrid config"
	if len(c.Sources) == 0 {
		return domain.NewError(domain.ErrInvalidRequest, op, "at least one retriever must be added")
	}

	seen := make(map[domain.RetrieverType]struct{}, len(c.Sources))
	sum := 0.0
	for i, src := range c.Sources {
		if src.Retriever == nil {
			return domain.NewError(domain.ErrInvalidRequest, op, fmt.Sprintf("source %d has no retriever", i))
		}
		retrieverType := src.Retriever.Type()
		if _, dup := seen[retrieverType]; dup {
			return domain.NewError(domain.ErrInvalidRequest, op, fmt.Sprintf("duplicate retriever type %s", retrieverType))
		}
		seen[retrieverType] = struct{}{}
		if err := validateWeight(op, retrieverType, src.Weight); err != nil {
			return err
		}
		sum += src.Weight
	}
	if math.Abs(sum-1.0) > WeightTolerance {
		return domain.NewError(domain.ErrInvalidRequest, op, fmt.Sprintf("weights must sum to 1.0, current sum: %v", sum))
	}

	switch c.FailurePolicy {
	case "", FailureIsolate, FailureFailFast:
	default:
		return domain.NewError(domain.ErrInvalidRequest, op, fmt.Sprintf("unknown failure policy %q", c.FailurePolicy))
	}
	if c.SourceTimeout < 0 {
		return domain.NewError(domain.ErrInvalidRequest, op, fmt.Sprintf("source timeout must be >= 0, got %s", c.SourceTimeout))
	}
	return nil
}

func validateWeight(op string, retrieverType domain.RetrieverType, weight float64) error {
	if weight < 0 || math.IsNaN(weight) || math.IsInf(weight, 0) {
		return domain.NewError(domain.ErrInvalidRequest, op, fmt.Sprintf("weight for %s must be a non-negative number, got %v", retrieverType, weight))
	}
	return nil
}

type hybridEntry struct {
	retriever ports.ContentRetriever
	weight    float64
}

type hybridSnapshot struct {
	retrieverType domain.RetrieverType
	hybridEntry
}

// HybridRetriever fans a query out to every registered source, weights each
// source's scores in place, and merges them into one ranking.
type HybridRetriever struct {
	failurePolicy FailurePolicy
	sourceTimeout time.Duration
	observer      ports.RetrievalObserver
	logger        *slog.Logger
	pool          *async.Pool

	mu      sync.RWMutex
	order   []domain.RetrieverType
	sources map[domain.RetrieverType]hybridEntry

	closeOnce sync.Once
	closeErr  error
}

func NewHybridRetriever(cfg HybridConfig) (*HybridRetriever, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	h := &HybridRetriever{
		failurePolicy: cfg.FailurePolicy,
		sourceTimeout: cfg.SourceTimeout,
		observer:      cfg.Observer,
		logger:        cfg.Logger,
		pool:          async.NewPool(cfg.PoolSize),
		sources:       make(map[domain.RetrieverType]hybridEntry, len(cfg.Sources)),
	}
	if h.failurePolicy == "" {
		h.failurePolicy = FailureIsolate
	}
	if h.observer == nil {
		h.observer = noopRetrievalObserver{}
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	for _, src := range cfg.Sources {
		retrieverType := src.Retriever.Type()
		h.order = append(h.order, retrieverType)
		h.sources[retrieverType] = hybridEntry{retriever: src.Retriever, weight: src.Weight}
	}
	return h, nil
}

func (h *HybridRetriever) Type() domain.RetrieverType { return domain.RetrieverHybrid }

func (h *HybridRetriever) Retrieve(ctx context.Context, query string, topK int) ([]domain.RetrievalResult, error) {
	const op = "hybrid retrieve"
	if err := validateRetrieveArgs(op, query, topK); err != nil {
		return nil, err
	}

	snapshot := h.snapshot()
	if len(snapshot) == 0 {
		return nil, domain.NewError(domain.ErrInvalidRequest, op, "no retrievers registered")
	}

	perSource := make([][]domain.RetrievalResult, len(snapshot))
	failures := make([]error, len(snapshot))

	g, gctx := errgroup.WithContext(ctx)
	for i, src := range snapshot {
		g.Go(func() error {
			results, err := h.retrieveSource(gctx, src, query, topK)
			if err == nil {
				perSource[i] = results
				return nil
			}
			if h.failurePolicy == FailureFailFast {
				return err
			}
			h.logger.WarnContext(ctx, "hybrid_source_failed", "source", src.retrieverType.String(), "error", err)
			failures[i] = err
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	failed := 0
	for _, err := range failures {
		if err != nil {
			failed++
		}
	}
	if failed == len(snapshot) {
		return nil, fmt.Errorf("%s: all %d sources failed: %w", op, failed, errors.Join(failures...))
	}

	started := time.Now()
	merged := mergeWeighted(perSource, topK)
	h.observer.ObserveMerge(time.Since(started), len(merged))
	return merged, nil
}

// retrieveSource calls one child and weights its results in place.
func (h *HybridRetriever) retrieveSource(ctx context.Context, src hybridSnapshot, query string, topK int) ([]domain.RetrievalResult, error) {
	if h.sourceTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.sourceTimeout)
		defer cancel()
	}

	started := time.Now()
	results, err := src.retriever.Retrieve(ctx, query, topK)
	h.observer.ObserveSource(src.retrieverType, time.Since(started), len(results), err)
	if err != nil {
		return nil, fmt.Errorf("%s retriever: %w", src.retrieverType, err)
	}

	for i := range results {
		results[i].Score *= src.weight
	}
	return results, nil
}

// mergeWeighted concatenates in registration order, so the stable sort keeps
// earlier sources first on equal scores.
func mergeWeighted(perSource [][]domain.RetrievalResult, topK int) []domain.RetrievalResult {
	total := 0
	for _, results := range perSource {
		total += len(results)
	}
	merged := make([]domain.RetrievalResult, 0, total)
	for _, results := range perSource {
		merged = append(merged, results...)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Score > merged[j].Score
	})
	if len(merged) > topK {
		merged = merged[:topK]
	}
	return merged
}

func (h *HybridRetriever) RetrieveAsync(ctx context.Context, query string, topK int) *async.Future[[]domain.RetrievalResult] {
	return async.Go(ctx, h.pool, func(taskCtx context.Context) ([]domain.RetrievalResult, error) {
		return h.Retrieve(taskCtx, query, topK)
	})
}

func (h *HybridRetriever) snapshot() []hybridSnapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]hybridSnapshot, 0, len(h.order))
	for _, retrieverType := range h.order {
		out = append(out, hybridSnapshot{retrieverType: retrieverType, hybridEntry: h.sources[retrieverType]})
	}
	return out
}

// AddRetriever registers r, replacing any source of the same type in place.
// The weight sum is not checked until RebalanceWeights.
func (h *HybridRetriever) AddRetriever(r ports.ContentRetriever, weight float64) error {
	const op = "hybrid add retriever"
	if r == nil {
		return domain.NewError(domain.ErrInvalidRequest, op, "retriever is required")
	}
	retrieverType := r.Type()
	if err := validateWeight(op, retrieverType, weight); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.sources[retrieverType]; !exists {
		h.order = append(h.order, retrieverType)
	}
	h.sources[retrieverType] = hybridEntry{retriever: r, weight: weight}
	return nil
}

func (h *HybridRetriever) RemoveRetriever(retrieverType domain.RetrieverType) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.sources[retrieverType]; !exists {
		return domain.NewError(domain.ErrInvalidRequest, "hybrid remove retriever", fmt.Sprintf("retriever %s is not registered", retrieverType))
	}
	delete(h.sources, retrieverType)
	for i, t := range h.order {
		if t == retrieverType {
			h.order = append(h.order[:i:i], h.order[i+1:]...)
			break
		}
	}
	return nil
}

func (h *HybridRetriever) UpdateWeight(retrieverType domain.RetrieverType, weight float64) error {
	const op = "hybrid update weight"
	if err := validateWeight(op, retrieverType, weight); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	entry, exists := h.sources[retrieverType]
	if !exists {
		return domain.NewError(domain.ErrInvalidRequest, op, fmt.Sprintf("retriever %s is not registered", retrieverType))
	}
	entry.weight = weight
	h.sources[retrieverType] = entry
	return nil
}

func (h *HybridRetriever) Weights() map[domain.RetrieverType]float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[domain.RetrieverType]float64, len(h.sources))
	for retrieverType, entry := range h.sources {
		out[retrieverType] = entry.weight
	}
	return out
}

// RebalanceWeights scales every weight by 1/sum so they add up to 1.0.
func (h *HybridRetriever) RebalanceWeights() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	sum := 0.0
	for _, entry := range h.sources {
		sum += entry.weight
	}
	if sum <= 0 {
		return domain.NewError(domain.ErrInvalidRequest, "hybrid rebalance weights", "weights sum to zero")
	}
	factor := 1.0 / sum
	for retrieverType, entry := range h.sources {
		entry.weight *= factor
		h.sources[retrieverType] = entry
	}
	return nil
}

// Close stops the pool and closes every source that owns resources.
func (h *HybridRetriever) Close() error {
	h.closeOnce.Do(func() {
		errs := []error{h.pool.Close()}
		for _, src := range h.snapshot() {
			if closer, ok := src.retriever.(io.Closer); ok {
				if err := closer.Close(); err != nil {
					errs = append(errs, fmt.Errorf("close %s retriever: %w", src.retrieverType, err))
				}
			}
		}
		h.closeErr = errors.Join(errs...)
	})
	return h.closeErr
}

type noopRetrievalObserver struct{}

func (noopRetrievalObserver) ObserveSource(domain.RetrieverType, time.Duration, int, error) {}
func (noopRetrievalObserver) ObserveMerge(time.Duration, int) {}
