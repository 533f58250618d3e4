package reranker

import (
	"context"
	"strings"
)

// SimpleReranker scores documents by query term overlap.
//
// It needs no model and is the fallback when no relevance service is
// configured. Scores are the fraction of distinct query terms found in the
// document, so they fall in [0, 1] like a calibrated cross-encoder.
type SimpleReranker struct{}

// NewSimpleReranker creates a new SimpleReranker instance.
func NewSimpleReranker() *SimpleReranker {
	return &SimpleReranker{}
}

// Rerank scores docs by term overlap with query.
// A query without usable terms ranks documents by their coarse score.
func (r *SimpleReranker) Rerank(ctx context.Context, query string, docs []Document, topK int) ([]ScoredDocument, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if len(docs) == 0 {
		return []ScoredDocument{}, nil
	}

	queryTokens := tokenize(query)
	scores := make([]float32, len(docs))
	for i, doc := range docs {
		if len(queryTokens) == 0 {
			scores[i] = doc.Score
			continue
		}
		scores[i] = calculateTermOverlap(queryTokens, tokenize(doc.Content))
	}

	return rankByScore(fromScores(docs, scores), topK), nil
}

// Close is a no-op.
func (r *SimpleReranker) Close() error {
	return nil
}

// tokenize splits text into lowercase terms, dropping stopwords and short tokens.
func tokenize(text string) []string {
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !isAlphanumeric(r)
	})

	filtered := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if len(token) > 2 && !stopwords[token] {
			filtered = append(filtered, token)
		}
	}
	return filtered
}

func isAlphanumeric(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_'
}

var stopwords = map[string]bool{
	"the": true, "and": true, "but": true, "for": true, "with": true, "from": true,
	"was": true, "are": true, "been": true, "being": true, "have": true, "has": true,
	"had": true, "does": true, "did": true, "will": true, "would": true, "could": true,
	"should": true, "may": true, "might": true, "can": true, "this": true, "that": true,
	"these": true, "those": true, "you": true, "she": true, "they": true, "what": true,
	"which": true, "who": true, "when": true, "where": true, "why": true, "how": true,
	"about": true, "your": true, "our": true, "their": true,
}

// calculateTermOverlap returns the share of distinct query terms present in docTokens.
func calculateTermOverlap(queryTokens, docTokens []string) float32 {
	docSet := make(map[string]struct{}, len(docTokens))
	for _, t := range docTokens {
		docSet[t] = struct{}{}
	}

	distinct := make(map[string]struct{}, len(queryTokens))
	matches := 0
	for _, t := range queryTokens {
		if _, seen := distinct[t]; seen {
			continue
		}
		distinct[t] = struct{}{}
		if _, ok := docSet[t]; ok {
			matches++
		}
	}
	return float32(matches) / float32(len(distinct))
}

var _ Reranker = (*SimpleReranker)(nil)
