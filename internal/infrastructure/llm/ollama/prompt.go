package ollama

import "strings"

const maxPassageChars = 3000

func buildRelevancePrompt(query, document string) string {
	passage := document
	if len(passage) > maxPassageChars {
		passage = passage[:maxPassageChars]
	}

	return `You are a relevance judge for a search engine.
Rate how well the passage answers the query.
Return strict JSON object with a single key:
score (number from 0 to 1, where 1 means fully relevant).
No markdown, no extra keys.

Query:
` + query + `

Passage:
` + passage
}

func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}
