package vectorstore_test

import (
	"context"
	"testing"

	"github.com/fyrsmithlabs/knowme/internal/vectorstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testDim = 4

func newTestChromemStore(t *testing.T, collections ...string) *vectorstore.ChromemStore {
	t.Helper()

	store, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	for _, name := range collections {
		require.NoError(t, store.EnsureCollection(context.Background(), name, testDim, vectorstore.DistanceCosine))
	}
	return store
}

func TestChromemStore_EnsureCollection(t *testing.T) {
	ctx := context.Background()
	store := newTestChromemStore(t)

	require.NoError(t, store.EnsureCollection(ctx, "chunks", testDim, vectorstore.DistanceCosine))
	// Second call is a no-op.
	require.NoError(t, store.EnsureCollection(ctx, "chunks", testDim, vectorstore.DistanceCosine))

	err := store.EnsureCollection(ctx, "chunks", testDim+1, vectorstore.DistanceCosine)
	assert.ErrorIs(t, err, vectorstore.ErrInvalidRequest)

	err = store.EnsureCollection(ctx, "Bad-Name", testDim, vectorstore.DistanceCosine)
	assert.ErrorIs(t, err, vectorstore.ErrInvalidRequest)

	err = store.EnsureCollection(ctx, "other", 0, vectorstore.DistanceCosine)
	assert.ErrorIs(t, err, vectorstore.ErrInvalidRequest)
}

func TestChromemStore_PersistentReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{Path: dir}, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, store.EnsureCollection(ctx, "chunks", testDim, vectorstore.DistanceCosine))
	require.NoError(t, store.Upsert(ctx, "chunks", []vectorstore.Record{
		{ID: "a", Vector: []float32{1, 0, 0, 0}, Payload: map[string]any{"text": "persisted", "page": 2}},
	}))

	reopened, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{Path: dir}, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, reopened.EnsureCollection(ctx, "chunks", testDim, vectorstore.DistanceCosine))

	records, err := reopened.Scroll(ctx, "chunks", nil, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "persisted", records[0].String("text"))
	assert.Equal(t, 2, records[0].Int("page", 1))

	err = reopened.EnsureCollection(ctx, "chunks", testDim*2, vectorstore.DistanceCosine)
	assert.ErrorIs(t, err, vectorstore.ErrInvalidRequest)
}

func TestChromemStore_UpsertReplaces(t *testing.T) {
	ctx := context.Background()
	store := newTestChromemStore(t, "profiles")

	require.NoError(t, store.Upsert(ctx, "profiles", []vectorstore.Record{
		{ID: "p1", Vector: []float32{1, 0, 0, 0}, Payload: map[string]any{"user_id": "u1", "profile_text": "old"}},
	}))
	require.NoError(t, store.Upsert(ctx, "profiles", []vectorstore.Record{
		{ID: "p1", Vector: []float32{0, 1, 0, 0}, Payload: map[string]any{"user_id": "u1", "profile_text": "new"}},
	}))

	records, err := store.Scroll(ctx, "profiles", vectorstore.Filter{"user_id": "u1"}, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "new", records[0].String("profile_text"))
}

func TestChromemStore_Search(t *testing.T) {
	ctx := context.Background()
	store := newTestChromemStore(t, "chunks")

	require.NoError(t, store.Upsert(ctx, "chunks", []vectorstore.Record{
		{ID: "1", Vector: []float32{1, 0, 0, 0}, Payload: map[string]any{"text": "exact", "user_id": "a"}},
		{ID: "2", Vector: []float32{1, 1, 0, 0}, Payload: map[string]any{"text": "near", "user_id": "a"}},
		{ID: "3", Vector: []float32{0, 0, 1, 0}, Payload: map[string]any{"text": "far", "user_id": "a"}},
		{ID: "4", Vector: []float32{1, 0, 0, 0}, Payload: map[string]any{"text": "other user", "user_id": "b"}},
	}))

	tests := []struct {
		name    string
		limit   int
		filter  vectorstore.Filter
		wantIDs []string
	}{
		{name: "ordered by similarity", limit: 3, filter: vectorstore.Filter{"user_id": "a"}, wantIDs: []string{"1", "2", "3"}},
		{name: "limit truncates", limit: 1, filter: vectorstore.Filter{"user_id": "a"}, wantIDs: []string{"1"}},
		{name: "filter scopes to user", limit: 10, filter: vectorstore.Filter{"user_id": "b"}, wantIDs: []string{"4"}},
		{name: "no match", limit: 10, filter: vectorstore.Filter{"user_id": "c"}, wantIDs: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, err := store.Search(ctx, "chunks", []float32{1, 0, 0, 0}, tt.limit, tt.filter)
			require.NoError(t, err)

			var ids []string
			for _, r := range results {
				ids = append(ids, r.ID)
			}
			assert.Equal(t, tt.wantIDs, ids)
		})
	}
}

func TestChromemStore_SearchScoresDescending(t *testing.T) {
	ctx := context.Background()
	store := newTestChromemStore(t, "chunks")

	require.NoError(t, store.Upsert(ctx, "chunks", []vectorstore.Record{
		{ID: "1", Vector: []float32{0, 1, 0, 0}, Payload: map[string]any{"text": "b"}},
		{ID: "2", Vector: []float32{1, 0.1, 0, 0}, Payload: map[string]any{"text": "a"}},
	}))

	results, err := store.Search(ctx, "chunks", []float32{1, 0, 0, 0}, 2, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestChromemStore_PayloadTypes(t *testing.T) {
	ctx := context.Background()
	store := newTestChromemStore(t, "chunks")

	require.NoError(t, store.Upsert(ctx, "chunks", []vectorstore.Record{
		{ID: "1", Vector: []float32{1, 0, 0, 0}, Payload: map[string]any{
			"text":   "hello",
			"page":   3,
			"public": true,
		}},
	}))

	records, err := store.Scroll(ctx, "chunks", vectorstore.Filter{"page": 3}, 1)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, int64(3), records[0].Payload["page"])
	assert.Equal(t, true, records[0].Payload["public"])
	assert.Equal(t, "hello", records[0].Payload["text"])
}

func TestChromemStore_Scroll(t *testing.T) {
	ctx := context.Background()
	store := newTestChromemStore(t, "chunks")

	records, err := store.Scroll(ctx, "chunks", nil, 5)
	require.NoError(t, err)
	assert.Empty(t, records)

	var batch []vectorstore.Record
	for _, id := range []string{"a", "b", "c"} {
		batch = append(batch, vectorstore.Record{
			ID:      id,
			Vector:  []float32{0, 0, 1, 0},
			Payload: map[string]any{"source": "doc.pdf"},
		})
	}
	require.NoError(t, store.Upsert(ctx, "chunks", batch))

	records, err = store.Scroll(ctx, "chunks", vectorstore.Filter{"source": "doc.pdf"}, 2)
	require.NoError(t, err)
	assert.Len(t, records, 2)

	records, err = store.Scroll(ctx, "chunks", vectorstore.Filter{"source": "missing.pdf"}, 1)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestChromemStore_Delete(t *testing.T) {
	ctx := context.Background()
	store := newTestChromemStore(t, "chunks")

	require.NoError(t, store.Upsert(ctx, "chunks", []vectorstore.Record{
		{ID: "1", Vector: []float32{1, 0, 0, 0}, Payload: map[string]any{"source": "a.pdf"}},
		{ID: "2", Vector: []float32{0, 1, 0, 0}, Payload: map[string]any{"source": "a.pdf"}},
		{ID: "3", Vector: []float32{0, 0, 1, 0}, Payload: map[string]any{"source": "b.pdf"}},
	}))

	require.NoError(t, store.Delete(ctx, "chunks", vectorstore.Filter{"source": "a.pdf"}))
	// Deleting again matches nothing and is not an error.
	require.NoError(t, store.Delete(ctx, "chunks", vectorstore.Filter{"source": "a.pdf"}))

	records, err := store.Scroll(ctx, "chunks", nil, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "b.pdf", records[0].String("source"))

	err = store.Delete(ctx, "chunks", nil)
	assert.ErrorIs(t, err, vectorstore.ErrInvalidRequest)
}

func TestChromemStore_InvalidRequests(t *testing.T) {
	ctx := context.Background()
	store := newTestChromemStore(t, "chunks")

	tests := []struct {
		name string
		run  func() error
	}{
		{
			name: "dimension mismatch on upsert",
			run: func() error {
				return store.Upsert(ctx, "chunks", []vectorstore.Record{{ID: "x", Vector: []float32{1, 0}}})
			},
		},
		{
			name: "dimension mismatch on search",
			run: func() error {
				_, err := store.Search(ctx, "chunks", []float32{1}, 5, nil)
				return err
			},
		},
		{
			name: "unknown collection",
			run: func() error {
				_, err := store.Scroll(ctx, "nope", nil, 5)
				return err
			},
		},
		{
			name: "malformed filter value",
			run: func() error {
				_, err := store.Search(ctx, "chunks", []float32{1, 0, 0, 0}, 5, vectorstore.Filter{"user_id": []string{"a"}})
				return err
			},
		},
		{
			name: "empty filter key",
			run: func() error {
				_, err := store.Scroll(ctx, "chunks", vectorstore.Filter{"": "a"}, 5)
				return err
			},
		},
		{
			name: "non-positive limit",
			run: func() error {
				_, err := store.Search(ctx, "chunks", []float32{1, 0, 0, 0}, 0, nil)
				return err
			},
		},
		{
			name: "reserved payload key",
			run: func() error {
				return store.Upsert(ctx, "chunks", []vectorstore.Record{
					{ID: "x", Vector: []float32{1, 0, 0, 0}, Payload: map[string]any{"_payload": "x"}},
				})
			},
		},
		{
			name: "empty id",
			run: func() error {
				return store.Upsert(ctx, "chunks", []vectorstore.Record{{Vector: []float32{1, 0, 0, 0}}})
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.run(), vectorstore.ErrInvalidRequest)
		})
	}
}

func TestChromemStore_UpsertEmptyIsNoop(t *testing.T) {
	store := newTestChromemStore(t, "chunks")
	assert.NoError(t, store.Upsert(context.Background(), "chunks", nil))
}
