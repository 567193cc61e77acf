// Package plaintext extracts UTF-8 text from stored documents.
package plaintext

import (
	"context"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/kirillkom/ragflow/internal/core/domain"
	"github.com/kirillkom/ragflow/internal/core/ports"
)

const op = "plaintext extract"

type Extractor struct {
	storage ports.ObjectStorage
}

func NewExtractor(storage ports.ObjectStorage) *Extractor {
	return &Extractor{storage: storage}
}

func (e *Extractor) Extract(ctx context.Context, doc *domain.Document) (string, error) {
	reader, err := e.storage.Open(ctx, doc.StoragePath)
	if err != nil {
		return "", fmt.Errorf("open source document: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("read source document: %w", err)
	}

	if !utf8.Valid(raw) {
		return "", domain.NewError(domain.ErrInvalidRequest, op, fmt.Sprintf("unsupported binary format: %s", doc.Filename))
	}

	// Drop a UTF-8 byte order mark left by some editors.
	text := strings.TrimPrefix(string(raw), "\uFEFF")
	return strings.TrimSpace(text), nil
}
