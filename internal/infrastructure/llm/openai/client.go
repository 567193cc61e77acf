// Package openai is a rate-limited, retrying client for OpenAI-compatible
// chat completion APIs.
package openai

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

	"github.com/kirillkom/ragflow/internal/core/async"
	"github.com/kirillkom/ragflow/internal/core/domain"
	"github.com/kirillkom/ragflow/internal/infrastructure/llm/prompt"
	"github.com/kirillkom/ragflow/internal/infrastructure/ratelimit"
	"github.com/kirillkom/ragflow/internal/infrastructure/resilience"
	"github.com/kirillkom/ragflow/internal/observability/requestid"
)

// CompletionOptions override the configured sampling parameters per call.
type CompletionOptions struct {
	Temperature *float64
	MaxTokens   *int
}

type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	executor   *resilience.Executor
	pool       *async.Pool
}

func New(cfg Config) (*Client, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	limiter, err := ratelimit.New(cfg.RateLimit, cfg.RateUnit)
	if err != nil {
		return nil, domain.WrapError(domain.ErrInvalidRequest, "openai config", err)
	}

	maxBackoff := cfg.RetryDelay
	if cfg.MaxRetries > 1 {
		maxBackoff = cfg.RetryDelay * time.Duration(cfg.MaxRetries)
	}

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    limiter,
		executor: resilience.NewExecutor(resilience.Config{
			RetryMaxAttempts:    cfg.MaxRetries + 1,
			RetryInitialBackoff: cfg.RetryDelay,
			RetryMaxBackoff:     maxBackoff,
			RetryBackoff:        resilience.BackoffLinear,
			BreakerEnabled:      false,
		}),
		pool: async.NewPool(cfg.MaxConcurrentRequests),
	}, nil
}

func (c *Client) Close() error {
	return c.pool.Close()
}

// Complete sends prompt as a single user message and returns the reply text.
func (c *Client) Complete(ctx context.Context, promptText string, opts CompletionOptions) (string, error) {
	const op = "openai complete"
	if strings.TrimSpace(promptText) == "" {
		return "", domain.NewError(domain.ErrInvalidRequest, op, "prompt must not be empty")
	}

	body, err := json.Marshal(c.buildRequest(promptText, opts))
	if err != nil {
		return "", domain.WrapError(domain.ErrInvalidRequest, op, fmt.Errorf("marshal request: %w", err))
	}

	var text string
	err = c.executor.Execute(ctx, "openai.complete", func(callCtx context.Context) error {
		if err := c.limiter.Acquire(callCtx); err != nil {
			return err
		}
		out, err := c.chat(callCtx, body)
		if err != nil {
			return err
		}
		text = out
		return nil
	}, classifierFor(ctx))
	if err == nil {
		return text, nil
	}

	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		return "", fmt.Errorf("%s: %w", op, err)
	case isTimeout(err):
		return "", domain.WithRequestID(domain.WrapError(domain.ErrTimeout, op, err), requestid.FromContext(ctx))
	default:
		return "", domain.WithRequestID(domain.WrapError(domain.ErrAPI, op, err), requestid.FromContext(ctx))
	}
}

// CompleteAsync schedules Complete on the client pool.
func (c *Client) CompleteAsync(ctx context.Context, promptText string, opts CompletionOptions) *async.Future[string] {
	return async.Go(ctx, c.pool, func(taskCtx context.Context) (string, error) {
		return c.Complete(taskCtx, promptText, opts)
	})
}

func (c *Client) GenerateAnswer(ctx context.Context, question string, sources []domain.RetrievalResult) (string, error) {
	return c.Complete(ctx, prompt.BuildAnswerPrompt(question, sources), CompletionOptions{})
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	Stream      bool          `json:"stream"`
}

func (c *Client) buildRequest(promptText string, opts CompletionOptions) chatRequest {
	req := chatRequest{
		Model:       c.cfg.Model,
		Messages:    []chatMessage{{Role: "user", Content: promptText}},
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	}
	if opts.Temperature != nil {
		req.Temperature = *opts.Temperature
	}
	if opts.MaxTokens != nil {
		req.MaxTokens = *opts.MaxTokens
	}
	return req
}

func (c *Client) chat(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIHost+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if id := requestid.FromContext(ctx); id != "" {
		req.Header.Set(requestid.Header, id)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return "", newStatusError(resp)
	}

	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", domain.WithRequestID(domain.WrapError(domain.ErrAPI, "decode chat response", err), responseRequestID(resp))
	}
	if len(out.Choices) == 0 {
		return "", domain.WithRequestID(domain.NewError(domain.ErrAPI, "decode chat response", "no choices returned"), responseRequestID(resp))
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}

// classifierFor retries everything except caller cancellation and
// non-retryable HTTP statuses.
func classifierFor(parent context.Context) resilience.ErrorClassifier {
	return func(err error) resilience.ErrorClassification {
		if parent.Err() != nil {
			return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
		}
		var status resilience.StatusCoder
		if errors.As(err, &status) {
			return resilience.ErrorClassification{
				Retryable:     resilience.IsRetryableHTTPStatus(status.HTTPStatus()),
				RecordFailure: true,
			}
		}
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

type statusError struct {
	StatusCode int
	Status     string
	Code       string
	Message    string
}

func (e *statusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("openai status: %s", e.Status)
	}
	return fmt.Sprintf("openai status: %s: %s", e.Status, e.Message)
}

func (e *statusError) HTTPStatus() int { return e.StatusCode }

func newStatusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	statusErr := &statusError{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Message:    strings.TrimSpace(string(raw)),
	}

	var payload struct {
		Error struct {
			Message string `json:"message"`
			Code    string `json:"code"`
		} `json:"error"`
	}
	if json.Unmarshal(raw, &payload) == nil && payload.Error.Message != "" {
		statusErr.Message = payload.Error.Message
		statusErr.Code = payload.Error.Code
	}

	return &domain.Error{
		Kind:       kindForStatus(statusErr),
		Op:         "openai chat",
		RequestID:  responseRequestID(resp),
		StatusCode: resp.StatusCode,
		Err:        statusErr,
	}
}

func kindForStatus(e *statusError) error {
	switch {
	case e.StatusCode == http.StatusTooManyRequests:
		return domain.ErrRateLimitExceeded
	case e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden:
		return domain.ErrUnauthorized
	case e.Code == "context_length_exceeded":
		return domain.ErrContextLengthExceeded
	case e.StatusCode == http.StatusServiceUnavailable:
		return domain.ErrModelOverloaded
	case e.StatusCode == http.StatusBadRequest:
		return domain.ErrInvalidRequest
	default:
		return domain.ErrAPI
	}
}

func responseRequestID(resp *http.Response) string {
	if id := resp.Header.Get("X-Request-Id"); id != "" {
		return id
	}
	return resp.Header.Get("Request-Id")
}
