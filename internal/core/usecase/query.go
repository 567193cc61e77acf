package usecase

import (
	"context"
	"fmt"
	"maps"
	"sort"

	"github.com/kirillkom/ragflow/internal/core/domain"
	"github.com/kirillkom/ragflow/internal/core/ports"
)

const (
	defaultQueryTopK = 5
	// rerankCandidateFactor widens retrieval when a rerank pass will cut
	// the candidates back down to topK.
	rerankCandidateFactor = 3
)

type QueryUseCase struct {
	retriever ports.ContentRetriever
	scorer    ports.ScoringService
	generator ports.AnswerGenerator
}

// NewQueryUseCase wires retrieval with optional rerank and generation
// stages; scorer and generator may be nil when those stages are disabled.
func NewQueryUseCase(
	retriever ports.ContentRetriever,
	scorer ports.ScoringService,
	generator ports.AnswerGenerator,
) *QueryUseCase {
	return &QueryUseCase{
		retriever: retriever,
		scorer:    scorer,
		generator: generator,
	}
}

func (uc *QueryUseCase) Retrieve(ctx context.Context, query string, topK int, rerank bool) ([]domain.RetrievalResult, error) {
	if topK <= 0 {
		topK = defaultQueryTopK
	}
	if rerank && uc.scorer == nil {
		return nil, domain.NewError(domain.ErrInvalidRequest, "query retrieve", "reranking is not configured")
	}

	candidates := topK
	if rerank {
		candidates = topK * rerankCandidateFactor
	}

	results, err := uc.retriever.Retrieve(ctx, query, candidates)
	if err != nil {
		return nil, fmt.Errorf("retrieve candidates: %w", err)
	}

	if rerank && len(results) > 0 {
		results, err = uc.rerank(ctx, query, results)
		if err != nil {
			return nil, err
		}
	}
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func (uc *QueryUseCase) Answer(ctx context.Context, question string, topK int, rerank bool) (*domain.Answer, error) {
	if uc.generator == nil {
		return nil, domain.NewError(domain.ErrInvalidRequest, "query answer", "answer generation is not configured")
	}

	sources, err := uc.Retrieve(ctx, question, topK, rerank)
	if err != nil {
		return nil, err
	}

	answerText, err := uc.generator.GenerateAnswer(ctx, question, sources)
	if err != nil {
		return nil, fmt.Errorf("generate answer: %w", err)
	}

	return &domain.Answer{
		Text:    answerText,
		Sources: sources,
	}, nil
}

// rerank replaces retrieval scores with relevance scores and reorders. The
// fused score is kept under metadata "retrieval_score".
func (uc *QueryUseCase) rerank(ctx context.Context, query string, results []domain.RetrievalResult) ([]domain.RetrievalResult, error) {
	documents := make([]string, len(results))
	for i, result := range results {
		documents[i] = result.Content
	}

	scores, err := uc.scorer.Score(ctx, query, documents)
	if err != nil {
		return nil, fmt.Errorf("rerank candidates: %w", err)
	}

	out := make([]domain.RetrievalResult, len(results))
	for i, result := range results {
		metadata := make(map[string]any, len(result.Metadata)+1)
		maps.Copy(metadata, result.Metadata)
		metadata["retrieval_score"] = result.Score
		result.Metadata = metadata
		result.Score = scores[i].Score
		out[i] = result
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out, nil
}
