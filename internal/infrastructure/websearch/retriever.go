// Package websearch is a ContentRetriever over a SERP-style search API.
package websearch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kirillkom/ragflow/internal/core/async"
	"github.com/kirillkom/ragflow/internal/core/domain"
	"github.com/kirillkom/ragflow/internal/infrastructure/resilience"
	"github.com/kirillkom/ragflow/internal/observability/requestid"
)

type Config struct {
	APIKey   string
	BaseURL  string
	Engine   string
	Timeout  time.Duration
	PoolSize int
}

func DefaultConfig() Config {
	return Config{
		BaseURL:  "https://www.searchapi.io/api/v1/search",
		Engine:   "google",
		Timeout:  10 * time.Second,
		PoolSize: 4,
	}
}

type Option func(*Retriever)

func WithExecutor(executor *resilience.Executor) Option {
	return func(r *Retriever) { r.executor = executor }
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(r *Retriever) { r.httpClient = httpClient }
}

// Retriever maps organic search results to WEB_SEARCH results scored by rank.
type Retriever struct {
	cfg        Config
	httpClient *http.Client
	executor   *resilience.Executor
	pool       *async.Pool
}

func New(cfg Config, opts ...Option) (*Retriever, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, domain.NewError(domain.ErrInvalidRequest, "websearch config", "api key is required")
	}
	def := DefaultConfig()
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = def.BaseURL
	}
	if strings.TrimSpace(cfg.Engine) == "" {
		cfg.Engine = def.Engine
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = def.PoolSize
	}

	r := &Retriever{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
	for _, opt := range opts {
		opt(r)
	}
	r.pool = async.NewPool(cfg.PoolSize)
	return r, nil
}

func (r *Retriever) Type() domain.RetrieverType { return domain.RetrieverWebSearch }

type organicResult struct {
	Position int    `json:"position"`
	Title    string `json:"title"`
	Snippet  string `json:"snippet"`
	Link     string `json:"link"`
}

type searchResponse struct {
	OrganicResults []organicResult `json:"organic_results"`
}

type statusError struct {
	StatusCode int
	Body       string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("search api status %d: %s", e.StatusCode, e.Body)
}

func (e *statusError) HTTPStatus() int { return e.StatusCode }

// Retrieve returns an empty list when the search API is unreachable so a
// hybrid merge can proceed with the remaining sources.
func (r *Retriever) Retrieve(ctx context.Context, query string, topK int) ([]domain.RetrievalResult, error) {
	const op = "websearch retrieve"
	if strings.TrimSpace(query) == "" {
		return nil, domain.NewError(domain.ErrInvalidRequest, op, "query must not be empty")
	}
	if topK <= 0 {
		return nil, domain.NewError(domain.ErrInvalidRequest, op, "topK must be positive")
	}

	var parsed searchResponse
	call := func(callCtx context.Context) error {
		out, err := r.search(callCtx, query, topK)
		if err != nil {
			return err
		}
		parsed = out
		return nil
	}

	var err error
	if r.executor != nil {
		err = r.executor.Execute(ctx, "websearch.search", call, classifySearchError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s: %w", op, ctx.Err())
		}
		if isUnreachable(err) || resilience.IsCircuitOpen(err) {
			slog.WarnContext(ctx, "websearch_unreachable", "engine", r.cfg.Engine, "error", err)
			return []domain.RetrievalResult{}, nil
		}
		var status *statusError
		if errors.As(err, &status) {
			return nil, domain.WithRequestID(domain.APIError(op, status.StatusCode, err), requestid.FromContext(ctx))
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, domain.WrapError(domain.ErrTimeout, op, err)
		}
		return nil, domain.WrapError(domain.ErrAPI, op, err)
	}

	organic := parsed.OrganicResults
	if len(organic) > topK {
		organic = organic[:topK]
	}
	out := make([]domain.RetrievalResult, 0, len(organic))
	for rank, item := range organic {
		position := item.Position
		if position <= 0 {
			position = rank + 1
		}
		out = append(out, domain.RetrievalResult{
			Content: item.Snippet,
			Score:   1.0 / float64(rank+1),
			Metadata: map[string]any{
				"title":    item.Title,
				"url":      item.Link,
				"position": position,
			},
			SourceType: domain.RetrieverWebSearch,
		})
	}
	return out, nil
}

func (r *Retriever) RetrieveAsync(ctx context.Context, query string, topK int) *async.Future[[]domain.RetrievalResult] {
	return async.Go(ctx, r.pool, func(taskCtx context.Context) ([]domain.RetrievalResult, error) {
		return r.Retrieve(taskCtx, query, topK)
	})
}

func (r *Retriever) Close() error {
	err := r.pool.Close()
	r.httpClient.CloseIdleConnections()
	return err
}

func (r *Retriever) search(ctx context.Context, query string, topK int) (searchResponse, error) {
	params := url.Values{}
	params.Set("engine", r.cfg.Engine)
	params.Set("q", query)
	params.Set("num", strconv.Itoa(topK))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.cfg.BaseURL+"?"+params.Encode(), nil)
	if err != nil {
		return searchResponse{}, fmt.Errorf("create search request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+r.cfg.APIKey)
	if id := requestid.FromContext(ctx); id != "" {
		req.Header.Set(requestid.Header, id)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return searchResponse{}, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return searchResponse{}, &statusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var out searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return searchResponse{}, fmt.Errorf("decode search response: %w", err)
	}
	return out, nil
}

func classifySearchError(err error) resilience.ErrorClassification {
	if isUnreachable(err) {
		return resilience.ErrorClassification{Retryable: false, RecordFailure: true}
	}
	return resilience.ClassifyTransportError(err)
}

// isUnreachable reports DNS, dial and connection failures.
func isUnreachable(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return opErr.Op == "dial" || opErr.Op == "read" || opErr.Op == "write"
	}
	return false
}
