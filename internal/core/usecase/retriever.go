package usecase

import (
	"strings"

	"github.com/kirillkom/ragflow/internal/core/domain"
)

func validateRetrieveArgs(op, query string, topK int) error {
	if strings.TrimSpace(query) == "" {
		return domain.NewError(domain.ErrInvalidRequest, op, "query must not be empty")
	}
	if topK <= 0 {
		return domain.NewError(domain.ErrInvalidRequest, op, "topK must be positive")
	}
	return nil
}
