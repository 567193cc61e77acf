// Package rerank implements relevance scorers backed by remote rerank APIs
// and local cross-encoder models.
package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/ragflow/internal/core/domain"
	"github.com/kirillkom/ragflow/internal/observability/requestid"
)

type Provider string

const (
	ProviderCohere Provider = "cohere"
	ProviderJina   Provider = "jina"
)

func (p Provider) defaultBaseURL() string {
	switch p {
	case ProviderJina:
		return "https://api.jina.ai/v1"
	default:
		return "https://api.cohere.ai/v1"
	}
}

type RemoteConfig struct {
	Provider       Provider
	BaseURL        string
	APIKey         string
	Model          string
	MaxRetries     int
	RetryBaseDelay time.Duration
	ConnectTimeout time.Duration
	Timeout        time.Duration
	// Transport is the base round tripper under the retry layer.
	Transport http.RoundTripper
}

func DefaultRemoteConfig(provider Provider) RemoteConfig {
	return RemoteConfig{
		Provider:       provider,
		BaseURL:        provider.defaultBaseURL(),
		MaxRetries:     3,
		RetryBaseDelay: time.Second,
		ConnectTimeout: 10 * time.Second,
		Timeout:        30 * time.Second,
	}
}

func (c RemoteConfig) Validate() error {
	var errs []error
	if strings.TrimSpace(c.APIKey) == "" {
		errs = append(errs, errors.New("api key is required"))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("max retries must be >= 0, got %d", c.MaxRetries))
	}
	switch c.Provider {
	case ProviderCohere, ProviderJina:
	default:
		errs = append(errs, fmt.Errorf("unknown rerank provider %q", c.Provider))
	}
	if len(errs) > 0 {
		return domain.WrapError(domain.ErrInvalidRequest, "rerank config", errors.Join(errs...))
	}
	return nil
}

type RemoteScorer struct {
	cfg        RemoteConfig
	endpoint   string
	httpClient *http.Client
}

func NewRemoteScorer(cfg RemoteConfig) (*RemoteScorer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	def := DefaultRemoteConfig(cfg.Provider)
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = def.RetryBaseDelay
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}

	base := cfg.Transport
	if base == nil {
		base = &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: cfg.ConnectTimeout}).DialContext,
			TLSHandshakeTimeout:   cfg.ConnectTimeout,
			ResponseHeaderTimeout: cfg.Timeout,
			MaxIdleConnsPerHost:   16,
			IdleConnTimeout:       90 * time.Second,
		}
	}

	return &RemoteScorer{
		cfg:      cfg,
		endpoint: strings.TrimRight(cfg.BaseURL, "/") + "/rerank",
		httpClient: &http.Client{
			Transport: &RetryTransport{
				Base:       base,
				MaxRetries: cfg.MaxRetries,
				BaseDelay:  cfg.RetryBaseDelay,
			},
		},
	}, nil
}

func (s *RemoteScorer) Name() string { return string(s.cfg.Provider) }

func (s *RemoteScorer) Close() error {
	s.httpClient.CloseIdleConnections()
	return nil
}

type rerankRequest struct {
	Model           string   `json:"model,omitempty"`
	Query           string   `json:"query"`
	Documents       []string `json:"documents"`
	TopN            int      `json:"top_n"`
	ReturnDocuments bool     `json:"return_documents"`
}

type rerankItem struct {
	Index          *int            `json:"index"`
	Document       json.RawMessage `json:"document"`
	RelevanceScore *float64        `json:"relevance_score"`
	Score          *float64        `json:"score"`
	Metadata       json.RawMessage `json:"metadata"`
}

func (s *RemoteScorer) ScoreDocuments(ctx context.Context, query string, documents []string) ([]domain.ScoringResult, error) {
	op := s.Name() + " rerank"

	payload, err := json.Marshal(rerankRequest{
		Model:           s.cfg.Model,
		Query:           query,
		Documents:       documents,
		TopN:            len(documents),
		ReturnDocuments: true,
	})
	if err != nil {
		return nil, domain.WrapError(domain.ErrInvalidRequest, op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, domain.WrapError(domain.ErrInvalidRequest, op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	if id := requestid.FromContext(ctx); id != "" {
		req.Header.Set(requestid.Header, id)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, transportError(ctx, op, err)
	}
	defer resp.Body.Close()
	reqID := responseRequestID(resp)

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, domain.WithRequestID(
			domain.APIError(op, resp.StatusCode, fmt.Errorf("unexpected status %s: %s", resp.Status, strings.TrimSpace(string(body)))),
			reqID,
		)
	}

	var parsed struct {
		Results *[]rerankItem `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, domain.WithRequestID(domain.APIError(op, resp.StatusCode, fmt.Errorf("decode response: %w", err)), reqID)
	}
	if parsed.Results == nil {
		return nil, domain.WithRequestID(domain.APIError(op, resp.StatusCode, errors.New("response has no results field")), reqID)
	}

	out, err := alignResults(documents, *parsed.Results)
	if err != nil {
		return nil, domain.WithRequestID(domain.APIError(op, resp.StatusCode, err), reqID)
	}
	return out, nil
}

// alignResults places scored items at their input position, by index when
// present and otherwise by document text.
func alignResults(documents []string, items []rerankItem) ([]domain.ScoringResult, error) {
	out := make([]domain.ScoringResult, len(documents))
	filled := make([]bool, len(documents))

	for _, item := range items {
		score := item.RelevanceScore
		if score == nil {
			score = item.Score
		}
		if score == nil {
			continue
		}

		pos := -1
		if item.Index != nil && *item.Index >= 0 && *item.Index < len(documents) && !filled[*item.Index] {
			pos = *item.Index
		} else if text, ok := documentText(item.Document); ok {
			for i, doc := range documents {
				if !filled[i] && doc == text {
					pos = i
					break
				}
			}
		}
		if pos < 0 {
			continue
		}

		out[pos] = domain.ScoringResult{
			Document: documents[pos],
			Score:    *score,
			Metadata: metadataText(item.Metadata),
		}
		filled[pos] = true
	}

	missing := 0
	for _, ok := range filled {
		if !ok {
			missing++
		}
	}
	if missing > 0 {
		return nil, fmt.Errorf("response scored %d of %d documents", len(documents)-missing, len(documents))
	}
	return out, nil
}

func documentText(raw json.RawMessage) (string, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "", false
	}
	var text string
	if err := json.Unmarshal(trimmed, &text); err == nil {
		return text, true
	}
	var object struct {
		Text *string `json:"text"`
	}
	if err := json.Unmarshal(trimmed, &object); err == nil && object.Text != nil {
		return *object.Text, true
	}
	return "", false
}

func metadataText(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	var text string
	if err := json.Unmarshal(trimmed, &text); err == nil {
		return text
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, trimmed); err != nil {
		return string(trimmed)
	}
	return compact.String()
}

func transportError(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.WrapError(domain.ErrTimeout, op, err)
	}
	return domain.WrapError(domain.ErrConnection, op, err)
}

func responseRequestID(resp *http.Response) string {
	for _, header := range []string{"X-Request-Id", "X-Trace-Id", "Request-Id"} {
		if id := resp.Header.Get(header); id != "" {
			return id
		}
	}
	return ""
}
