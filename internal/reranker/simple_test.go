package reranker_test

import (
	"context"
	"testing"

	"github.com/fyrsmithlabs/knowme/internal/reranker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ids(docs []reranker.ScoredDocument) []string {
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.ID)
	}
	return out
}

func TestSimpleReranker_Rerank(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		docs    []reranker.Document
		topK    int
		wantIDs []string
	}{
		{
			name:    "empty documents",
			query:   "test query",
			docs:    []reranker.Document{},
			topK:    10,
			wantIDs: []string{},
		},
		{
			name:  "overlap beats coarse score",
			query: "authentication token retry",
			docs: []reranker.Document{
				{ID: "doc1", Content: "use retry with exponential backoff for authentication", Score: 0.8},
				{ID: "doc2", Content: "invalid request parameter", Score: 0.9},
				{ID: "doc3", Content: "token refresh and authentication handling", Score: 0.85},
			},
			topK:    10,
			wantIDs: []string{"doc1", "doc3", "doc2"},
		},
		{
			name:  "topK limits results",
			query: "error handling",
			docs: []reranker.Document{
				{ID: "doc1", Content: "error handling patterns", Score: 0.9},
				{ID: "doc2", Content: "error recovery strategies", Score: 0.85},
				{ID: "doc3", Content: "nothing relevant", Score: 0.8},
			},
			topK:    2,
			wantIDs: []string{"doc1", "doc2"},
		},
		{
			name:  "ties keep input order",
			query: "cats",
			docs: []reranker.Document{
				{ID: "a", Content: "cats purr", Score: 0.1},
				{ID: "b", Content: "dogs bark", Score: 0.9},
				{ID: "c", Content: "cats sleep", Score: 0.5},
			},
			topK:    0,
			wantIDs: []string{"a", "c", "b"},
		},
		{
			name:  "query without terms falls back to coarse score",
			query: "   ",
			docs: []reranker.Document{
				{ID: "low", Content: "some content", Score: 0.2},
				{ID: "high", Content: "other content", Score: 0.9},
			},
			topK:    10,
			wantIDs: []string{"high", "low"},
		},
	}

	r := reranker.NewSimpleReranker()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Rerank(context.Background(), tt.query, tt.docs, tt.topK)
			require.NoError(t, err)
			assert.Equal(t, tt.wantIDs, ids(got))
		})
	}
}

func TestSimpleReranker_ScoresAndRanks(t *testing.T) {
	r := reranker.NewSimpleReranker()
	docs := []reranker.Document{
		{ID: "none", Content: "unrelated words here"},
		{ID: "half", Content: "cats only"},
		{ID: "full", Content: "cats and mammals"},
	}

	got, err := r.Rerank(context.Background(), "cats mammals", docs, 0)
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, "full", got[0].ID)
	assert.InDelta(t, 1.0, got[0].RerankerScore, 1e-6)
	assert.Equal(t, 2, got[0].OriginalRank)
	assert.InDelta(t, 0.5, got[1].RerankerScore, 1e-6)
	assert.InDelta(t, 0.0, got[2].RerankerScore, 1e-6)
}

func TestSimpleReranker_NilContext(t *testing.T) {
	//nolint:staticcheck // nil context is the case under test
	_, err := reranker.NewSimpleReranker().Rerank(nil, "q", []reranker.Document{{ID: "a"}}, 1)
	assert.ErrorIs(t, err, reranker.ErrNilContext)
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     reranker.Config
		wantErr bool
	}{
		{name: "default is simple", cfg: reranker.Config{}},
		{name: "tei", cfg: reranker.Config{Provider: "tei", BaseURL: "http://localhost:8081"}},
		{name: "tei without url", cfg: reranker.Config{Provider: "tei"}, wantErr: true},
		{name: "cohere", cfg: reranker.Config{Provider: "cohere", APIKey: "k"}},
		{name: "cohere without key", cfg: reranker.Config{Provider: "cohere"}, wantErr: true},
		{name: "unknown", cfg: reranker.Config{Provider: "bm25"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := reranker.New(tt.cfg, nil)
			if tt.wantErr {
				assert.ErrorIs(t, err, reranker.ErrInvalidConfig)
				return
			}
			require.NoError(t, err)
			assert.NoError(t, r.Close())
		})
	}
}
