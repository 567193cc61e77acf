package httpadapter

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/kirillkom/ragflow/internal/core/domain"
	"github.com/kirillkom/ragflow/internal/observability/requestid"
)

type errorResponse struct {
	Error             string `json:"error"`
	Code              int    `json:"code"`
	RequestID         string `json:"request_id,omitempty"`
	UpstreamRequestID string `json:"upstream_request_id,omitempty"`
}

// mapErrorToHTTPStatus treats upstream ErrAPI failures as gateway errors
// unless they carry a kind the caller can act on.
func mapErrorToHTTPStatus(err error) int {
	if domain.IsKind(err, domain.ErrAPI) {
		switch {
		case domain.IsKind(err, domain.ErrRateLimitExceeded):
			return http.StatusTooManyRequests
		case domain.IsKind(err, domain.ErrModelOverloaded):
			return http.StatusServiceUnavailable
		case domain.IsKind(err, domain.ErrTimeout):
			return http.StatusGatewayTimeout
		default:
			return http.StatusBadGateway
		}
	}

	switch {
	case domain.IsKind(err, domain.ErrInvalidRequest), domain.IsKind(err, domain.ErrContextLengthExceeded):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case domain.IsKind(err, domain.ErrDocumentNotFound):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrRateLimitExceeded):
		return http.StatusTooManyRequests
	case domain.IsKind(err, domain.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case domain.IsKind(err, domain.ErrTemporary), domain.IsKind(err, domain.ErrModelOverloaded):
		return http.StatusServiceUnavailable
	case domain.IsKind(err, domain.ErrConnection):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	inbound := requestid.FromContext(r.Context())
	resp := errorResponse{
		Error:     err.Error(),
		Code:      domain.ErrorCode(err),
		RequestID: inbound,
	}
	if upstream := domain.RequestIDOf(err); upstream != "" && upstream != inbound {
		resp.UpstreamRequestID = upstream
	}

	if status >= http.StatusInternalServerError {
		slog.Error("http_request_failed", "request_id", inbound, "path", r.URL.Path, "status", status, "error", err)
	}
	writeJSON(w, status, resp)
}
