// Package qdrant is a VectorStore over the Qdrant REST API.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/kirillkom/ragflow/internal/core/domain"
	"github.com/kirillkom/ragflow/internal/infrastructure/resilience"
)

// contentKey holds the record text inside the point payload.
const contentKey = "text"

type Option func(*Client)

func WithExecutor(executor *resilience.Executor) Option {
	return func(c *Client) { c.executor = executor }
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) { c.httpClient = httpClient }
}

type Client struct {
	baseURL    string
	collection string
	httpClient *http.Client
	executor   *resilience.Executor

	ensureMu          sync.Mutex
	ensuredCollection bool
	ensuredVectorSize int
}

func New(baseURL, collection string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type StatusError struct {
	Operation  string
	StatusCode int
	Status     string
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("qdrant %s status: %s", e.Operation, e.Status)
	}
	return fmt.Sprintf("qdrant %s status: %s: %s", e.Operation, e.Status, e.Body)
}

func (e *StatusError) HTTPStatus() int { return e.StatusCode }

type point struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

func (c *Client) AddVectors(ctx context.Context, records []domain.VectorRecord) error {
	if len(records) == 0 {
		return nil
	}
	vectorSize := len(records[0].Vector)
	points := make([]point, 0, len(records))
	for _, record := range records {
		if len(record.Vector) != vectorSize {
			return domain.NewError(domain.ErrInvalidRequest, "qdrant upsert",
				fmt.Sprintf("record %s has dimension %d, want %d", record.ID, len(record.Vector), vectorSize))
		}
		payload := make(map[string]any, len(record.Metadata)+1)
		maps.Copy(payload, record.Metadata)
		payload[contentKey] = record.Content
		points = append(points, point{ID: record.ID, Vector: record.Vector, Payload: payload})
	}

	if err := c.ensureCollection(ctx, vectorSize); err != nil {
		return err
	}

	path := fmt.Sprintf("/collections/%s/points?wait=true", c.collection)
	return c.call(ctx, "upsert", http.MethodPut, path, map[string]any{"points": points}, nil)
}

func (c *Client) UpdateVector(ctx context.Context, record domain.VectorRecord) error {
	if strings.TrimSpace(record.ID) == "" {
		return domain.NewError(domain.ErrInvalidRequest, "qdrant update", "record id is required")
	}
	return c.AddVectors(ctx, []domain.VectorRecord{record})
}

func (c *Client) DeleteVectors(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	path := fmt.Sprintf("/collections/%s/points/delete?wait=true", c.collection)
	err := c.call(ctx, "delete", http.MethodPost, path, map[string]any{"points": ids}, nil)
	if isStatus(err, http.StatusNotFound) {
		return nil
	}
	return err
}

// Search returns no hits while the collection does not exist yet.
func (c *Client) Search(ctx context.Context, queryVector []float32, topK int) ([]domain.VectorHit, error) {
	reqBody := map[string]any{
		"vector":       queryVector,
		"limit":        topK,
		"with_payload": true,
	}

	var searchResp struct {
		Result []struct {
			ID      json.RawMessage `json:"id"`
			Score   float64         `json:"score"`
			Payload map[string]any  `json:"payload"`
		} `json:"result"`
	}
	path := fmt.Sprintf("/collections/%s/points/search", c.collection)
	if err := c.call(ctx, "search", http.MethodPost, path, reqBody, &searchResp); err != nil {
		if isStatus(err, http.StatusNotFound) {
			return []domain.VectorHit{}, nil
		}
		return nil, err
	}

	out := make([]domain.VectorHit, 0, len(searchResp.Result))
	for _, r := range searchResp.Result {
		metadata := make(map[string]any, len(r.Payload))
		for key, value := range r.Payload {
			if key != contentKey {
				metadata[key] = value
			}
		}
		out = append(out, domain.VectorHit{
			ID:       pointID(r.ID),
			Score:    r.Score,
			Content:  getStringPayload(r.Payload, contentKey),
			Metadata: metadata,
		})
	}
	return out, nil
}

func (c *Client) ensureCollection(ctx context.Context, vectorSize int) error {
	c.ensureMu.Lock()
	if c.ensuredCollection && c.ensuredVectorSize == vectorSize {
		c.ensureMu.Unlock()
		return nil
	}
	c.ensureMu.Unlock()

	reqBody := map[string]any{
		"vectors": map[string]any{
			"size":     vectorSize,
			"distance": "Cosine",
		},
	}

	err := c.call(ctx, "ensure collection", http.MethodPut, "/collections/"+c.collection, reqBody, nil)
	// 409 if already exists (depends on version/config).
	if err != nil && !isStatus(err, http.StatusConflict) {
		return err
	}
	c.markCollectionEnsured(vectorSize)
	return nil
}

func (c *Client) markCollectionEnsured(vectorSize int) {
	c.ensureMu.Lock()
	defer c.ensureMu.Unlock()
	c.ensuredCollection = true
	c.ensuredVectorSize = vectorSize
}

func (c *Client) call(ctx context.Context, operation, method, path string, reqBody, out any) error {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal %s body: %w", operation, err)
	}
	run := func(callCtx context.Context) error {
		return c.do(callCtx, operation, method, path, body, out)
	}
	if c.executor == nil {
		return run(ctx)
	}
	return c.executor.Execute(ctx, "qdrant."+strings.ReplaceAll(operation, " ", "_"), run, classifyQdrantError)
}

func (c *Client) do(ctx context.Context, operation, method, path string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant %s request: %w", operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &StatusError{
			Operation:  operation,
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       strings.TrimSpace(string(raw)),
		}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", operation, err)
	}
	return nil
}

func classifyQdrantError(err error) resilience.ErrorClassification {
	if isStatus(err, http.StatusNotFound) || isStatus(err, http.StatusConflict) {
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}
	return resilience.ClassifyTransportError(err)
}

func isStatus(err error, code int) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.StatusCode == code
}

// pointID renders uuid (string) and numeric point ids alike.
func pointID(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}

func getStringPayload(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
