package rerank

import (
	"context"
	"strings"
	"unicode"
)

// LexicalEncoder is a dependency-free cross-encoder stand-in that scores by
// query token coverage with a bonus for the whole query appearing verbatim.
type LexicalEncoder struct{}

func (LexicalEncoder) Predict(ctx context.Context, query string, documents []string) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	queryTokens := toTokenSet(query)
	phrase := strings.Join(splitAlphaNumLower(query), " ")

	out := make([]float64, len(documents))
	for i, doc := range documents {
		docTokens := splitAlphaNumLower(doc)
		score := 0.8 * tokenOverlap(queryTokens, docTokens)
		if phrase != "" && strings.Contains(strings.Join(docTokens, " "), phrase) {
			score += 0.2
		}
		out[i] = score
	}
	return out, nil
}

func tokenOverlap(query map[string]struct{}, doc []string) float64 {
	if len(query) == 0 || len(doc) == 0 {
		return 0
	}
	seen := make(map[string]struct{}, len(doc))
	for _, token := range doc {
		seen[token] = struct{}{}
	}
	matches := 0
	for token := range query {
		if _, ok := seen[token]; ok {
			matches++
		}
	}
	return float64(matches) / float64(len(query))
}

func toTokenSet(s string) map[string]struct{} {
	tokens := splitAlphaNumLower(s)
	out := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		out[token] = struct{}{}
	}
	return out
}

func splitAlphaNumLower(s string) []string {
	if s == "" {
		return nil
	}

	tokens := make([]string, 0, 16)
	var b strings.Builder
	for _, r := range s {
		r = unicode.ToLower(r)
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			continue
		}
		if b.Len() > 0 {
			tokens = append(tokens, b.String())
			b.Reset()
		}
	}
	if b.Len() > 0 {
		tokens = append(tokens, b.String())
	}
	return tokens
}
