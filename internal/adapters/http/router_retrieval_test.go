package httpadapter

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kirillkom/ragflow/internal/config"
	"github.com/kirillkom/ragflow/internal/core/domain"
	"github.com/kirillkom/ragflow/internal/observability/metrics"
)

func TestRetrieveUsesDefaultTopK(t *testing.T) {
	query := &queryFake{results: []domain.RetrievalResult{
		{Content: "a", Score: 0.9, SourceType: domain.RetrieverVector},
	}}
	handler := newTestHandler(config.Config{RAGTopK: 7}, Dependencies{Query: query})

	res := postJSON(t, handler, "/v1/retrieve", map[string]any{"query": "what", "rerank": true})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if query.lastTopK != 7 || !query.rerank {
		t.Fatalf("expected topK 7 with rerank, got %d/%v", query.lastTopK, query.rerank)
	}

	var body struct {
		Results []domain.RetrievalResult `json:"results"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Results) != 1 || body.Results[0].SourceType != domain.RetrieverVector {
		t.Fatalf("unexpected results: %+v", body.Results)
	}
}

func TestRetrieveReturnsEmptyArray(t *testing.T) {
	handler := newTestHandler(config.Config{}, Dependencies{Query: &queryFake{}})
	res := postJSON(t, handler, "/v1/retrieve", map[string]any{"query": "what", "top_k": 3})
	if !strings.Contains(res.Body.String(), `"results":[]`) {
		t.Fatalf("expected empty results array, got %s", res.Body.String())
	}
}

func TestRetrieveClampsTopKToConfiguredMaximum(t *testing.T) {
	query := &queryFake{}
	handler := newTestHandler(config.Config{RAGMaxTopK: 20}, Dependencies{Query: query})

	res := postJSON(t, handler, "/v1/retrieve", map[string]any{"query": "what", "top_k": 1 << 40})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if query.lastTopK != 20 {
		t.Fatalf("expected top_k clamped to 20, got %d", query.lastTopK)
	}

	_ = postJSON(t, newTestHandler(config.Config{}, Dependencies{Query: query}), "/v1/retrieve", map[string]any{"query": "what", "top_k": 500})
	if query.lastTopK != defaultMaxTopK {
		t.Fatalf("expected default cap %d, got %d", defaultMaxTopK, query.lastTopK)
	}
}

func TestRetrieveRejectsBlankQuery(t *testing.T) {
	handler := newTestHandler(config.Config{}, Dependencies{Query: &queryFake{}})
	res := postJSON(t, handler, "/v1/retrieve", map[string]any{"query": "  "})
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestRetrieveRejectsMalformedJSON(t *testing.T) {
	handler := newTestHandler(config.Config{}, Dependencies{Query: &queryFake{}})
	req := httptest.NewRequest(http.MethodPost, "/v1/retrieve", strings.NewReader("{"))
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestRAGQueryReturnsAnswerAndRecordsMetrics(t *testing.T) {
	m := metrics.NewHTTPServerMetrics("api")
	query := &queryFake{results: []domain.RetrievalResult{{Content: "ctx", Score: 1}}}
	handler := newTestHandler(config.Config{}, Dependencies{Query: query, Metrics: m})

	res := postJSON(t, handler, "/v1/rag/query", map[string]any{"question": "why", "top_k": 2})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	var answer domain.Answer
	if err := json.NewDecoder(res.Body).Decode(&answer); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if answer.Text != "ok" || len(answer.Sources) != 1 {
		t.Fatalf("unexpected answer: %+v", answer)
	}

	scrape := httptest.NewRecorder()
	handler.ServeHTTP(scrape, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(scrape.Body.String(), `ragflow_rag_requests_total{endpoint="rag_query",rerank="false",service="api"} 1`) {
		t.Fatalf("expected rag request counter in exposition:\n%s", scrape.Body.String())
	}
}

func TestScoreEndpoints(t *testing.T) {
	scoring := &scoringFake{}
	handler := newTestHandler(config.Config{}, Dependencies{Scoring: scoring})

	res := postJSON(t, handler, "/v1/score", map[string]any{"query": "q", "documents": []string{"a", "b"}})
	if res.Code != http.StatusOK {
		t.Fatalf("score expected 200, got %d", res.Code)
	}
	var single struct {
		Results []domain.ScoringResult `json:"results"`
	}
	if err := json.NewDecoder(res.Body).Decode(&single); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(single.Results) != 2 || single.Results[0].Document != "a" {
		t.Fatalf("unexpected score results: %+v", single.Results)
	}

	res = postJSON(t, handler, "/v1/score/batch", map[string]any{"queries": []string{"q1", "q2"}, "documents": []string{"a"}})
	var batch struct {
		Results [][]domain.ScoringResult `json:"results"`
	}
	if err := json.NewDecoder(res.Body).Decode(&batch); err != nil {
		t.Fatalf("decode batch: %v", err)
	}
	if len(batch.Results) != 2 || len(batch.Results[1]) != 1 {
		t.Fatalf("unexpected batch results: %+v", batch.Results)
	}

	req := httptest.NewRequest(http.MethodDelete, "/v1/score/cache", nil)
	cleared := httptest.NewRecorder()
	handler.ServeHTTP(cleared, req)
	if cleared.Code != http.StatusNoContent || scoring.cleared != 1 {
		t.Fatalf("expected cache clear with 204, got %d (cleared=%d)", cleared.Code, scoring.cleared)
	}
}
