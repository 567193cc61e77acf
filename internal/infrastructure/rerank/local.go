package rerank

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kirillkom/ragflow/internal/core/domain"
	"github.com/kirillkom/ragflow/internal/core/ports"
)

type LocalConfig struct {
	Model   string
	Encoder ports.CrossEncoder
}

// LocalScorer scores documents with an in-process or sidecar cross-encoder.
type LocalScorer struct {
	model   string
	encoder ports.CrossEncoder
}

func NewLocalScorer(cfg LocalConfig) (*LocalScorer, error) {
	var errs []error
	if strings.TrimSpace(cfg.Model) == "" {
		errs = append(errs, errors.New("model is required"))
	}
	if cfg.Encoder == nil {
		errs = append(errs, errors.New("cross encoder is required"))
	}
	if len(errs) > 0 {
		return nil, domain.WrapError(domain.ErrInvalidRequest, "local rerank config", errors.Join(errs...))
	}
	return &LocalScorer{model: cfg.Model, encoder: cfg.Encoder}, nil
}

func (s *LocalScorer) Name() string { return "local:" + s.model }

func (s *LocalScorer) ScoreDocuments(ctx context.Context, query string, documents []string) ([]domain.ScoringResult, error) {
	const op = "local rerank"
	if len(documents) == 0 {
		return []domain.ScoringResult{}, nil
	}

	scores, err := s.encoder.Predict(ctx, query, documents)
	if err != nil {
		return nil, domain.WrapError(domain.ErrAPI, op, err)
	}
	if len(scores) != len(documents) {
		return nil, domain.NewError(domain.ErrAPI, op, fmt.Sprintf("model returned %d scores for %d documents", len(scores), len(documents)))
	}

	out := make([]domain.ScoringResult, len(documents))
	for i, doc := range documents {
		out[i] = domain.ScoringResult{Document: doc, Score: scores[i]}
	}
	return out, nil
}
