package httpadapter

import (
	"bytes"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kirillkom/ragflow/internal/config"
	"github.com/kirillkom/ragflow/internal/core/domain"
)

func newRegistryHandler() (http.Handler, *registryFake) {
	registry := &registryFake{weights: map[domain.RetrieverType]float64{
		domain.RetrieverVector:    0.7,
		domain.RetrieverWebSearch: 0.3,
	}}
	return newTestHandler(config.Config{}, Dependencies{Registry: registry}), registry
}

func decodeWeights(t *testing.T, res *httptest.ResponseRecorder) map[domain.RetrieverType]float64 {
	t.Helper()
	var body weightsResponse
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode weights: %v", err)
	}
	return body.Weights
}

func TestListWeights(t *testing.T) {
	handler, _ := newRegistryHandler()
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/v1/retrievers", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	weights := decodeWeights(t, res)
	if weights[domain.RetrieverVector] != 0.7 || weights[domain.RetrieverWebSearch] != 0.3 {
		t.Fatalf("unexpected weights: %+v", weights)
	}
}

func TestUpdateWeightThenRebalance(t *testing.T) {
	handler, registry := newRegistryHandler()

	req := httptest.NewRequest(http.MethodPut, "/v1/retrievers/web_search/weight", bytes.NewBufferString(`{"weight":0.7}`))
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if registry.weights[domain.RetrieverWebSearch] != 0.7 {
		t.Fatalf("expected weight update, got %+v", registry.weights)
	}

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/v1/retrievers/rebalance", nil))
	weights := decodeWeights(t, res)
	if math.Abs(weights[domain.RetrieverVector]-0.5) > 1e-9 || math.Abs(weights[domain.RetrieverWebSearch]-0.5) > 1e-9 {
		t.Fatalf("expected rebalanced 0.5/0.5, got %+v", weights)
	}
}

func TestUpdateWeightValidation(t *testing.T) {
	handler, _ := newRegistryHandler()
	cases := []struct {
		path string
		body string
	}{
		{"/v1/retrievers/unknown/weight", `{"weight":0.5}`},
		{"/v1/retrievers/hybrid/weight", `{"weight":0.5}`},
		{"/v1/retrievers/vector/weight", `{}`},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPut, tc.path, bytes.NewBufferString(tc.body))
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, req)
		if res.Code != http.StatusBadRequest {
			t.Fatalf("PUT %s %s expected 400, got %d", tc.path, tc.body, res.Code)
		}
	}
}

func TestRemoveRetriever(t *testing.T) {
	handler, registry := newRegistryHandler()
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodDelete, "/v1/retrievers/VECTOR", nil))
	if res.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", res.Code)
	}
	if _, ok := registry.weights[domain.RetrieverVector]; ok {
		t.Fatalf("expected vector source to be removed")
	}

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodDelete, "/v1/retrievers/VECTOR", nil))
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for removing an unknown source, got %d", res.Code)
	}
}
