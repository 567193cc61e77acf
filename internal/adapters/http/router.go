// Package httpadapter exposes retrieval, scoring and document ingestion over
// HTTP.
package httpadapter

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kirillkom/ragflow/internal/config"
	"github.com/kirillkom/ragflow/internal/core/domain"
	"github.com/kirillkom/ragflow/internal/core/ports"
	"github.com/kirillkom/ragflow/internal/observability/metrics"
)

const (
	serviceName    = "api"
	maxJSONBody    = 1 << 20
	maxUploadBytes = 32 << 20
)

// Dependencies are the inbound ports served by the router. Nil optional
// ports leave their routes unregistered.
type Dependencies struct {
	Query     ports.DocumentQueryService
	Scoring   ports.ScoringService
	Registry  ports.RetrieverRegistry
	Ingestor  ports.DocumentIngestor
	Documents ports.DocumentReader
	Processor ports.DocumentProcessor
	Metrics   *metrics.HTTPServerMetrics
}

type Router struct {
	cfg  config.Config
	deps Dependencies
}

func NewRouter(cfg config.Config, deps Dependencies) *Router {
	return &Router{cfg: cfg, deps: deps}
}

func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	if rt.deps.Metrics != nil {
		r.Use(func(next http.Handler) http.Handler {
			return rt.deps.Metrics.Middleware(serviceName, next)
		})
		r.Method(http.MethodGet, "/metrics", rt.deps.Metrics.Handler())
	}

	r.Get("/healthz", rt.healthz)

	r.Group(func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler {
			return rateLimitMiddleware(next, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst)
		})
		r.Use(func(next http.Handler) http.Handler {
			return backpressureMiddleware(next, rt.cfg.APIBackpressureMaxInFlight, rt.cfg.APIBackpressureWait)
		})

		if rt.deps.Query != nil {
			r.Post("/v1/retrieve", rt.retrieve)
			r.Post("/v1/rag/query", rt.queryRAG)
		}
		if rt.deps.Scoring != nil {
			r.Post("/v1/score", rt.score)
			r.Post("/v1/score/batch", rt.batchScore)
			r.Delete("/v1/score/cache", rt.clearScoreCache)
		}
		if rt.deps.Registry != nil {
			r.Route("/v1/retrievers", func(r chi.Router) {
				r.Get("/", rt.listWeights)
				r.Post("/rebalance", rt.rebalanceWeights)
				r.Put("/{type}/weight", rt.updateWeight)
				r.Delete("/{type}", rt.removeRetriever)
			})
		}
		if rt.deps.Ingestor != nil {
			r.Post("/v1/documents", rt.uploadDocument)
		}
		if rt.deps.Documents != nil {
			r.Get("/v1/documents/{id}", rt.getDocumentByID)
		}
		if rt.deps.Processor != nil {
			r.Delete("/v1/documents/{id}", rt.deleteDocument)
		}
	})

	return requestIDMiddleware(accessLogMiddleware(r))
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

const (
	defaultTopK    = 5
	defaultMaxTopK = 50
)

// topK resolves the requested result count: non-positive means the
// configured default, and anything above RAGMaxTopK is clamped to it.
func (rt *Router) topK(requested int) int {
	limit := rt.cfg.RAGMaxTopK
	if limit <= 0 {
		limit = defaultMaxTopK
	}
	k := requested
	if k <= 0 {
		k = rt.cfg.RAGTopK
	}
	if k <= 0 {
		k = defaultTopK
	}
	return min(k, limit)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return domain.NewError(domain.ErrInvalidRequest, "decode request", "request body is required")
		}
		return domain.WrapError(domain.ErrInvalidRequest, "decode request", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
