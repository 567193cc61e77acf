package httpadapter

import (
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/ragflow/internal/core/domain"
)

type retrieveRequest struct {
	Query  string `json:"query"`
	TopK   int    `json:"top_k"`
	Rerank bool   `json:"rerank"`
}

type ragQueryRequest struct {
	Question string `json:"question"`
	TopK     int    `json:"top_k"`
	Rerank   bool   `json:"rerank"`
}

func (rt *Router) retrieve(w http.ResponseWriter, r *http.Request) {
	var req retrieveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, r, domain.NewError(domain.ErrInvalidRequest, "retrieve", "query is required"))
		return
	}

	start := time.Now()
	results, err := rt.deps.Query.Retrieve(r.Context(), req.Query, rt.topK(req.TopK), req.Rerank)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if results == nil {
		results = []domain.RetrievalResult{}
	}
	rt.recordRAG("retrieve", req.Rerank, len(results), time.Since(start))
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (rt *Router) queryRAG(w http.ResponseWriter, r *http.Request) {
	var req ragQueryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(w, r, domain.NewError(domain.ErrInvalidRequest, "rag query", "question is required"))
		return
	}

	start := time.Now()
	answer, err := rt.deps.Query.Answer(r.Context(), req.Question, rt.topK(req.TopK), req.Rerank)
	if err != nil {
		writeError(w, r, err)
		return
	}
	rt.recordRAG("rag_query", req.Rerank, len(answer.Sources), time.Since(start))
	writeJSON(w, http.StatusOK, answer)
}

func (rt *Router) recordRAG(endpoint string, rerank bool, results int, duration time.Duration) {
	if rt.deps.Metrics == nil {
		return
	}
	rt.deps.Metrics.RecordRAGObservation(serviceName, endpoint, rerank, results, duration)
}

type scoreRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type batchScoreRequest struct {
	Queries   []string `json:"queries"`
	Documents []string `json:"documents"`
}

func (rt *Router) score(w http.ResponseWriter, r *http.Request) {
	var req scoreRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	results, err := rt.deps.Scoring.Score(r.Context(), req.Query, req.Documents)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (rt *Router) batchScore(w http.ResponseWriter, r *http.Request) {
	var req batchScoreRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	results, err := rt.deps.Scoring.BatchScore(r.Context(), req.Queries, req.Documents)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (rt *Router) clearScoreCache(w http.ResponseWriter, _ *http.Request) {
	rt.deps.Scoring.ClearCache()
	w.WriteHeader(http.StatusNoContent)
}
