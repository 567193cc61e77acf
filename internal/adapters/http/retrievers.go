package httpadapter

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kirillkom/ragflow/internal/core/domain"
)

type weightsResponse struct {
	Weights map[domain.RetrieverType]float64 `json:"weights"`
}

func (rt *Router) listWeights(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, weightsResponse{Weights: rt.deps.Registry.Weights()})
}

func (rt *Router) updateWeight(w http.ResponseWriter, r *http.Request) {
	retrieverType, err := domain.ParseRetrieverType(chi.URLParam(r, "type"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req struct {
		Weight *float64 `json:"weight"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Weight == nil {
		writeError(w, r, domain.NewError(domain.ErrInvalidRequest, "update weight", "weight is required"))
		return
	}

	if err := rt.deps.Registry.UpdateWeight(retrieverType, *req.Weight); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, weightsResponse{Weights: rt.deps.Registry.Weights()})
}

func (rt *Router) removeRetriever(w http.ResponseWriter, r *http.Request) {
	retrieverType, err := domain.ParseRetrieverType(chi.URLParam(r, "type"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := rt.deps.Registry.RemoveRetriever(retrieverType); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Router) rebalanceWeights(w http.ResponseWriter, r *http.Request) {
	if err := rt.deps.Registry.RebalanceWeights(); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, weightsResponse{Weights: rt.deps.Registry.Weights()})
}
