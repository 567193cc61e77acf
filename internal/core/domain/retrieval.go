package domain

import (
	"fmt"
	"strings"
)

type RetrieverType string

const (
	RetrieverVector    RetrieverType = "VECTOR"
	RetrieverWebSearch RetrieverType = "WEB_SEARCH"
	RetrieverHybrid    RetrieverType = "HYBRID"
)

func (t RetrieverType) String() string { return string(t) }

func (t RetrieverType) Valid() bool {
	switch t {
	case RetrieverVector, RetrieverWebSearch, RetrieverHybrid:
		return true
	default:
		return false
	}
}

func ParseRetrieverType(raw string) (RetrieverType, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "vector":
		return RetrieverVector, nil
	case "web_search", "web-search", "web":
		return RetrieverWebSearch, nil
	case "hybrid":
		return RetrieverHybrid, nil
	default:
		return "", WrapError(ErrInvalidRequest, "parse retriever type", fmt.Errorf("unknown retriever type %q", raw))
	}
}

// RetrievalResult is one ranked passage. Score is source-local until a
// hybrid retriever weights it in place.
type RetrievalResult struct {
	Content    string         `json:"content"`
	Score      float64        `json:"score"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	SourceType RetrieverType  `json:"source_type"`
}

type ScoringResult struct {
	Document string  `json:"document"`
	Score    float64 `json:"score"`
	Metadata string  `json:"metadata,omitempty"`
}

type Answer struct {
	Text    string            `json:"text"`
	Sources []RetrievalResult `json:"sources"`
}

type VectorRecord struct {
	ID       string
	Vector   []float32
	Content  string
	Metadata map[string]any
}

type VectorHit struct {
	ID       string
	Score    float64
	Content  string
	Metadata map[string]any
}
