// Package reranker reorders coarse-recall candidates by pairwise query relevance.
package reranker

import (
	"context"
	"errors"
	"sort"
)

var (
	// ErrNilContext is returned when a nil context is passed to Rerank.
	ErrNilContext = errors.New("context cannot be nil")

	// ErrRerankFailed indicates the relevance model could not score the candidates.
	ErrRerankFailed = errors.New("rerank failed")

	// ErrInvalidConfig indicates invalid reranker configuration.
	ErrInvalidConfig = errors.New("invalid reranker configuration")
)

// Document is a candidate passed to the reranker.
type Document struct {
	ID      string  // Unique identifier for the document
	Content string  // Text scored against the query
	Score   float32 // Coarse similarity score from search
}

// ScoredDocument is a candidate with its relevance score.
type ScoredDocument struct {
	Document
	RerankerScore float32 // Relevance score from the reranker
	OriginalRank  int     // Position in the input slice (0-indexed)
}

// Reranker scores (query, document) pairs.
type Reranker interface {
	// Rerank returns documents sorted by RerankerScore descending, limited
	// to topK. Equal scores keep their input order. A topK <= 0 returns all
	// documents.
	Rerank(ctx context.Context, query string, docs []Document, topK int) ([]ScoredDocument, error)

	// Close releases any resources held by the reranker.
	Close() error
}

// rankByScore sorts scored in place and truncates to topK.
func rankByScore(scored []ScoredDocument, topK int) []ScoredDocument {
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].RerankerScore != scored[j].RerankerScore {
			return scored[i].RerankerScore > scored[j].RerankerScore
		}
		return scored[i].OriginalRank < scored[j].OriginalRank
	})
	if topK > 0 && len(scored) > topK {
		scored = scored[:topK]
	}
	return scored
}

// fromScores pairs docs with scores indexed by input position.
func fromScores(docs []Document, scores []float32) []ScoredDocument {
	out := make([]ScoredDocument, len(docs))
	for i, d := range docs {
		out[i] = ScoredDocument{Document: d, RerankerScore: scores[i], OriginalRank: i}
	}
	return out
}
