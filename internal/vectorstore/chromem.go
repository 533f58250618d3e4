package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const (
	backendChromem = "chromem"

	// payloadKey holds the JSON-encoded typed payload in chromem metadata.
	// Scalar payload fields are also stored stringified under their own key
	// so chromem's where-filter can match them.
	payloadKey = "_payload"
)

// errPrecomputedOnly is returned by the embedding func handed to chromem.
// Every record arrives with its vector already computed.
var errPrecomputedOnly = errors.New("chromem store only accepts precomputed embeddings")

// ChromemConfig holds configuration for the embedded chromem-go store.
type ChromemConfig struct {
	// Path is the persistence directory. Empty keeps everything in memory.
	// Supports ~ expansion.
	Path string

	// Compress enables gzip compression of persisted files.
	Compress bool
}

// ChromemStore is a Store backed by the embedded chromem-go database.
type ChromemStore struct {
	db     *chromem.DB
	logger *zap.Logger

	// dims caches collection name -> vector size.
	dims sync.Map
}

// NewChromemStore opens (or creates) a chromem database.
func NewChromemStore(config ChromemConfig, logger *zap.Logger) (*ChromemStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if config.Path == "" {
		logger.Info("chromem store running in memory")
		return &ChromemStore{db: chromem.NewDB(), logger: logger}, nil
	}

	path, err := expandChromemPath(config.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: expanding path: %v", ErrInvalidConfig, err)
	}
	db, err := openPersistentDB(path, config.Compress, logger)
	if err != nil {
		return nil, fmt.Errorf("%w: opening chromem database at %s: %w", ErrStoreUnavailable, path, err)
	}

	logger.Info("chromem store opened",
		zap.String("path", path),
		zap.Bool("compress", config.Compress))
	return &ChromemStore{db: db, logger: logger}, nil
}

func expandChromemPath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[2:])
	}
	return filepath.Clean(path), nil
}

func precomputedOnly(context.Context, string) ([]float32, error) {
	return nil, errPrecomputedOnly
}

// EnsureCollection creates the collection when absent. For an existing,
// non-empty collection the vector size is verified with a probe query.
func (s *ChromemStore) EnsureCollection(ctx context.Context, name string, dim int, metric Distance) (err error) {
	ctx, span, done := startOp(ctx, backendChromem, "ChromemStore.EnsureCollection", "ensure_collection")
	defer func() { done(err) }()

	span.SetAttributes(
		attribute.String("collection", name),
		attribute.Int("vector_size", dim),
	)

	if err := ValidateCollectionName(name); err != nil {
		return err
	}
	if dim <= 0 {
		return fmt.Errorf("%w: vector size must be positive, got %d", ErrInvalidRequest, dim)
	}
	// chromem normalizes vectors, so dot product equals cosine similarity.
	if metric != DistanceCosine && metric != DistanceDot && metric != "" {
		return fmt.Errorf("%w: unsupported distance %q", ErrInvalidRequest, metric)
	}
	if cached, ok := s.dims.Load(name); ok {
		if cached.(int) != dim {
			return fmt.Errorf("%w: collection %s has vector size %d, want %d", ErrInvalidRequest, name, cached, dim)
		}
		return nil
	}

	collection, err := s.db.GetOrCreateCollection(name, map[string]string{
		"dimension": strconv.Itoa(dim),
		"distance":  string(DistanceCosine),
	}, precomputedOnly)
	if err != nil {
		return fmt.Errorf("%w: creating collection %s: %w", ErrStoreUnavailable, name, err)
	}

	if collection.Count() > 0 {
		if _, err := collection.QueryEmbedding(ctx, probeVector(dim), 1, nil, nil); err != nil {
			return fmt.Errorf("%w: collection %s does not hold %d-dimensional vectors: %v", ErrInvalidRequest, name, dim, err)
		}
	}

	s.dims.Store(name, dim)
	return nil
}

// Upsert writes records. Existing ids are overwritten.
func (s *ChromemStore) Upsert(ctx context.Context, collection string, records []Record) (err error) {
	ctx, span, done := startOp(ctx, backendChromem, "ChromemStore.Upsert", "upsert")
	defer func() { done(err) }()

	span.SetAttributes(
		attribute.String("collection", collection),
		attribute.Int("record_count", len(records)),
	)

	if len(records) == 0 {
		return nil
	}
	coll, dim, err := s.collection(collection)
	if err != nil {
		return err
	}

	docs := make([]chromem.Document, len(records))
	for i, rec := range records {
		if rec.ID == "" {
			return fmt.Errorf("%w: record id cannot be empty", ErrInvalidRequest)
		}
		if err := validateVector(rec.Vector, dim); err != nil {
			return err
		}
		metadata, err := encodeChromemMetadata(rec.Payload)
		if err != nil {
			return err
		}
		content, _ := rec.Payload["text"].(string)
		docs[i] = chromem.Document{
			ID:        rec.ID,
			Metadata:  metadata,
			Embedding: append([]float32(nil), rec.Vector...),
			Content:   content,
		}
	}

	if err := coll.AddDocuments(ctx, docs, 1); err != nil {
		return fmt.Errorf("%w: adding documents to %s: %w", ErrStoreUnavailable, collection, err)
	}
	return nil
}

// Search runs a filtered similarity query.
func (s *ChromemStore) Search(ctx context.Context, collection string, vector []float32, limit int, filter Filter) (_ []ScoredRecord, err error) {
	ctx, span, done := startOp(ctx, backendChromem, "ChromemStore.Search", "search")
	defer func() { done(err) }()

	span.SetAttributes(
		attribute.String("collection", collection),
		attribute.Int("limit", limit),
	)

	if err := validateLimit(limit); err != nil {
		return nil, err
	}
	if err := ValidateFilter(filter); err != nil {
		return nil, err
	}
	coll, dim, err := s.collection(collection)
	if err != nil {
		return nil, err
	}
	if err := validateVector(vector, dim); err != nil {
		return nil, err
	}

	results, err := s.query(ctx, coll, vector, limit, filter)
	if err != nil {
		return nil, err
	}

	out := make([]ScoredRecord, 0, len(results))
	for _, r := range results {
		out = append(out, ScoredRecord{
			Record: Record{
				ID:      r.ID,
				Vector:  r.Embedding,
				Payload: decodeChromemMetadata(r.Metadata),
			},
			Score: r.Similarity,
		})
	}
	span.SetAttributes(attribute.Int("results_count", len(out)))
	return out, nil
}

// Scroll lists records matching filter. chromem has no scan API, so this
// queries with a fixed probe vector across the whole collection; the result
// order carries no meaning.
func (s *ChromemStore) Scroll(ctx context.Context, collection string, filter Filter, limit int) (_ []Record, err error) {
	ctx, span, done := startOp(ctx, backendChromem, "ChromemStore.Scroll", "scroll")
	defer func() { done(err) }()

	span.SetAttributes(
		attribute.String("collection", collection),
		attribute.Int("limit", limit),
	)

	if err := validateLimit(limit); err != nil {
		return nil, err
	}
	if err := ValidateFilter(filter); err != nil {
		return nil, err
	}
	coll, dim, err := s.collection(collection)
	if err != nil {
		return nil, err
	}

	results, err := s.query(ctx, coll, probeVector(dim), coll.Count(), filter)
	if err != nil {
		return nil, err
	}
	if len(results) > limit {
		results = results[:limit]
	}

	out := make([]Record, len(results))
	for i, r := range results {
		out[i] = Record{
			ID:      r.ID,
			Vector:  r.Embedding,
			Payload: decodeChromemMetadata(r.Metadata),
		}
	}
	span.SetAttributes(attribute.Int("results_count", len(out)))
	return out, nil
}

// Delete removes every record matching a non-empty filter.
func (s *ChromemStore) Delete(ctx context.Context, collection string, filter Filter) (err error) {
	ctx, span, done := startOp(ctx, backendChromem, "ChromemStore.Delete", "delete")
	defer func() { done(err) }()

	span.SetAttributes(attribute.String("collection", collection))

	if len(filter) == 0 {
		return fmt.Errorf("%w: delete requires a filter", ErrInvalidRequest)
	}
	if err := ValidateFilter(filter); err != nil {
		return err
	}
	coll, _, err := s.collection(collection)
	if err != nil {
		return err
	}

	if err := coll.Delete(ctx, chromemWhere(filter), nil); err != nil {
		return fmt.Errorf("%w: deleting from %s: %w", ErrStoreUnavailable, collection, err)
	}
	return nil
}

// Close is a no-op; chromem persists on every write.
func (s *ChromemStore) Close() error {
	return nil
}

func (s *ChromemStore) collection(name string) (*chromem.Collection, int, error) {
	if err := ValidateCollectionName(name); err != nil {
		return nil, 0, err
	}
	dim, ok := s.dims.Load(name)
	if !ok {
		return nil, 0, fmt.Errorf("%w: unknown collection %s", ErrInvalidRequest, name)
	}
	coll := s.db.GetCollection(name, precomputedOnly)
	if coll == nil {
		return nil, 0, fmt.Errorf("%w: unknown collection %s", ErrInvalidRequest, name)
	}
	return coll, dim.(int), nil
}

// query wraps QueryEmbedding, which refuses nResults above the collection
// size or below one.
func (s *ChromemStore) query(ctx context.Context, coll *chromem.Collection, vector []float32, n int, filter Filter) ([]chromem.Result, error) {
	total := coll.Count()
	if total == 0 {
		return nil, nil
	}
	if n > total {
		n = total
	}
	results, err := coll.QueryEmbedding(ctx, vector, capLimit(n), chromemWhere(filter), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: querying %s: %w", ErrStoreUnavailable, coll.Name, err)
	}
	return results, nil
}

func probeVector(dim int) []float32 {
	v := make([]float32, dim)
	v[0] = 1
	return v
}

func chromemWhere(filter Filter) map[string]string {
	if len(filter) == 0 {
		return nil
	}
	where := make(map[string]string, len(filter))
	for k, v := range filter {
		where[k] = scalarString(v)
	}
	return where
}

func scalarString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case int64:
		return strconv.FormatInt(val, 10)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}

func encodeChromemMetadata(payload map[string]any) (map[string]string, error) {
	metadata := make(map[string]string, len(payload)+1)
	for k, v := range payload {
		if k == payloadKey {
			return nil, fmt.Errorf("%w: payload key %q is reserved", ErrInvalidRequest, payloadKey)
		}
		switch v.(type) {
		case string, bool, int, int32, int64, float32, float64:
			metadata[k] = scalarString(v)
		default:
			return nil, fmt.Errorf("%w: unsupported payload value type %T for key %q", ErrInvalidRequest, v, k)
		}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: encoding payload: %v", ErrInvalidRequest, err)
	}
	metadata[payloadKey] = string(raw)
	return metadata, nil
}

// decodeChromemMetadata restores the typed payload. Integers come back as
// int64 to match the Qdrant backend.
func decodeChromemMetadata(metadata map[string]string) map[string]any {
	raw, ok := metadata[payloadKey]
	if !ok {
		out := make(map[string]any, len(metadata))
		for k, v := range metadata {
			out[k] = v
		}
		return out
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return map[string]any{}
	}
	for k, v := range payload {
		if n, ok := v.(json.Number); ok {
			if i, err := n.Int64(); err == nil {
				payload[k] = i
			} else if f, err := n.Float64(); err == nil {
				payload[k] = f
			}
		}
	}
	return payload
}

var _ Store = (*ChromemStore)(nil)
