// Package prompt builds the generation prompts shared by the LLM adapters.
package prompt

import (
	"fmt"
	"strings"

	"github.com/kirillkom/ragflow/internal/core/domain"
)

const maxSourceChars = 2000

func BuildAnswerPrompt(question string, sources []domain.RetrievalResult) string {
	var contextBuilder strings.Builder
	for idx, source := range sources {
		text := source.Content
		if len(text) > maxSourceChars {
			text = text[:maxSourceChars]
		}
		label := sourceLabel(source)
		contextBuilder.WriteString(fmt.Sprintf(
			"[%d] source=%s %s score=%.3f\n%s\n\n",
			idx+1,
			source.SourceType,
			label,
			source.Score,
			text,
		))
	}

	return fmt.Sprintf(`Answer user question only from context below.
If context is insufficient, say it directly.
Cite sources by their [number].

Question:
%s

Context:
%s
`, question, contextBuilder.String())
}

func sourceLabel(source domain.RetrievalResult) string {
	for _, key := range []string{"filename", "title", "url", "id"} {
		if v, ok := source.Metadata[key]; ok {
			if s := fmt.Sprint(v); s != "" {
				return key + "=" + s
			}
		}
	}
	return ""
}
