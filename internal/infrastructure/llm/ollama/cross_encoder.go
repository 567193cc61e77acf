package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"
)

// CrossEncoder asks a local generation model to judge each (query, passage)
// pair and returns scores in input order.
type CrossEncoder struct {
	client      *Client
	model       string
	concurrency int
}

func NewCrossEncoder(client *Client, model string, concurrency int) *CrossEncoder {
	if model == "" {
		model = client.genModel
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	return &CrossEncoder{client: client, model: model, concurrency: concurrency}
}

func (e *CrossEncoder) Model() string { return e.model }

func (e *CrossEncoder) Predict(ctx context.Context, query string, documents []string) ([]float64, error) {
	scores := make([]float64, len(documents))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, doc := range documents {
		g.Go(func() error {
			score, err := e.scorePair(gctx, query, doc)
			if err != nil {
				return fmt.Errorf("score document %d: %w", i, err)
			}
			scores[i] = score
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return scores, nil
}

func (e *CrossEncoder) scorePair(ctx context.Context, query, document string) (float64, error) {
	raw, err := e.client.generateJSON(ctx, e.model, buildRelevancePrompt(query, document))
	if err != nil {
		return 0, err
	}

	var judged struct {
		Score *float64 `json:"score"`
	}
	if err := json.Unmarshal([]byte(extractJSONObject(raw)), &judged); err != nil {
		return 0, fmt.Errorf("parse relevance json: %w", err)
	}
	if judged.Score == nil || math.IsNaN(*judged.Score) {
		return 0, fmt.Errorf("relevance json has no score: %s", raw)
	}
	return math.Min(1, math.Max(0, *judged.Score)), nil
}
