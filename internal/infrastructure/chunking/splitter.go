// Package chunking splits extracted document text into overlapping
// rune windows ready for embedding.
package chunking

import (
	"strings"

	"github.com/kirillkom/ragflow/internal/core/domain"
)

const (
	defaultChunkSize = 900
	defaultOverlap   = 150
)

type Splitter struct {
	ChunkSize int
	Overlap   int
}

func NewSplitter(chunkSize, overlap int) *Splitter {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkSize {
		overlap = chunkSize / 4
	}
	return &Splitter{
		ChunkSize: chunkSize,
		Overlap:   overlap,
	}
}

// Split turns text into chunks carrying deterministic ids so indexing the
// same document twice overwrites its points.
func (s *Splitter) Split(doc *domain.Document, text string) []domain.Chunk {
	windows := s.windows(text)
	if len(windows) == 0 {
		return nil
	}

	chunks := make([]domain.Chunk, 0, len(windows))
	for idx, window := range windows {
		chunks = append(chunks, domain.Chunk{
			ID:         domain.ChunkID(doc.ID, idx),
			DocumentID: doc.ID,
			Index:      idx,
			Text:       window,
			Metadata: map[string]any{
				"doc_id":      doc.ID,
				"filename":    doc.Filename,
				"chunk_index": idx,
			},
		})
	}
	return chunks
}

func (s *Splitter) windows(text string) []string {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	step := s.ChunkSize - s.Overlap
	if step <= 0 {
		step = s.ChunkSize
	}

	out := make([]string, 0, len(runes)/step+1)
	for start := 0; start < len(runes); start += step {
		end := start + s.ChunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunk := strings.TrimSpace(string(runes[start:end]))
		if chunk != "" {
			out = append(out, chunk)
		}
		if end == len(runes) {
			break
		}
	}
	return out
}
