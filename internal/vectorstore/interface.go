package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

// Sentinel errors for vector store operations.
var (
	// ErrStoreUnavailable is returned when the backing service is unreachable
	// or an operation times out.
	ErrStoreUnavailable = errors.New("vector store unavailable")

	// ErrInvalidRequest is returned for malformed filters, unknown
	// collections, invalid names and dimension mismatches.
	ErrInvalidRequest = errors.New("invalid vector store request")

	// ErrInvalidConfig indicates invalid store configuration.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// collectionNamePattern validates collection names.
var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// Distance is the similarity metric of a collection.
type Distance string

const (
	// DistanceCosine ranks by cosine similarity, descending.
	DistanceCosine Distance = "cosine"
	// DistanceDot ranks by dot product, descending.
	DistanceDot Distance = "dot"
)

// Record is a stored point: an identifier, its vector and a payload.
type Record struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// String returns the payload value for key as a string, or "".
func (r Record) String(key string) string {
	if v, ok := r.Payload[key].(string); ok {
		return v
	}
	return ""
}

// Int returns the payload value for key as an int, or def when absent.
func (r Record) Int(key string, def int) int {
	switch v := r.Payload[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case int32:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

// ScoredRecord is a Record returned from a similarity search.
type ScoredRecord struct {
	Record
	Score float32
}

// Filter is a conjunction of equality conditions over payload fields.
type Filter map[string]any

// Store is the vector storage contract used by every KnowMe component.
//
// Implementations are safe for concurrent use.
type Store interface {
	// EnsureCollection creates the collection if it does not exist.
	// Calling it for an existing collection is a no-op.
	EnsureCollection(ctx context.Context, name string, dim int, metric Distance) error

	// Upsert writes records. Existing ids are fully replaced.
	Upsert(ctx context.Context, collection string, records []Record) error

	// Search returns up to limit records ordered by similarity, descending,
	// restricted to records matching filter.
	Search(ctx context.Context, collection string, vector []float32, limit int, filter Filter) ([]ScoredRecord, error)

	// Scroll returns up to limit records matching filter, unranked.
	Scroll(ctx context.Context, collection string, filter Filter, limit int) ([]Record, error)

	// Delete removes every record matching filter. No match is not an error.
	Delete(ctx context.Context, collection string, filter Filter) error

	// Close releases backend resources.
	Close() error
}

// ValidateCollectionName validates a collection name.
// Pattern: ^[a-z0-9_]{1,64}$
func ValidateCollectionName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: collection name cannot be empty", ErrInvalidRequest)
	}
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: collection name must match pattern ^[a-z0-9_]{1,64}$, got %q", ErrInvalidRequest, name)
	}
	return nil
}

// ValidateFilter checks that every key is non-empty and every value has a
// supported type.
func ValidateFilter(filter Filter) error {
	for key, value := range filter {
		if key == "" {
			return fmt.Errorf("%w: filter key cannot be empty", ErrInvalidRequest)
		}
		switch value.(type) {
		case string, bool, int, int32, int64:
		default:
			return fmt.Errorf("%w: unsupported filter value type %T for key %q", ErrInvalidRequest, value, key)
		}
	}
	return nil
}

func validateLimit(limit int) error {
	if limit <= 0 {
		return fmt.Errorf("%w: limit must be positive, got %d", ErrInvalidRequest, limit)
	}
	return nil
}

func validateVector(vector []float32, dim int) error {
	if len(vector) != dim {
		return fmt.Errorf("%w: vector dimension %d does not match collection dimension %d", ErrInvalidRequest, len(vector), dim)
	}
	return nil
}

// maxLimit bounds the result size of a single call.
const maxLimit = 10000

func capLimit(limit int) int {
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}
