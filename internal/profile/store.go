// Package profile keeps one embedded free-text profile per user.
package profile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/knowme/internal/embeddings"
	"github.com/fyrsmithlabs/knowme/internal/vectorstore"
)

// Payload keys of profile records.
const (
	FieldUserID      = "user_id"
	FieldProfileText = "profile_text"
	FieldType        = "type"

	recordType = "user_profile"
)

// idNamespace derives stable point IDs from user IDs.
var idNamespace = uuid.MustParse("4f1c2b9e-8d3a-4c6e-9b7f-2a5d8e1c0f63")

// Config configures the profile store.
type Config struct {
	// Collection holds profile records. Default: knowme_profiles
	Collection string
	// VectorSize is the embedding dimension. Default: 768
	VectorSize int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{Collection: "knowme_profiles", VectorSize: 768}
}

// Store saves and loads user profiles.
type Store struct {
	config   *Config
	store    vectorstore.Store
	embedder embeddings.Embedder
	logger   *zap.Logger
}

// NewStore creates a profile store.
func NewStore(cfg *Config, store vectorstore.Store, embedder embeddings.Embedder, logger *zap.Logger) (*Store, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if store == nil {
		return nil, errors.New("vector store is required")
	}
	if embedder == nil {
		return nil, errors.New("embedder is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{config: cfg, store: store, embedder: embedder, logger: logger}, nil
}

// EnsureCollection creates the profile collection if it does not exist.
func (s *Store) EnsureCollection(ctx context.Context) error {
	return s.store.EnsureCollection(ctx, s.config.Collection, s.config.VectorSize, vectorstore.DistanceCosine)
}

// Save replaces the profile of userID with data, flattened to
// "field: value" lines in field order.
func (s *Store) Save(ctx context.Context, userID string, data map[string]string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("%w: user id required", vectorstore.ErrInvalidRequest)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("%w: profile data required", vectorstore.ErrInvalidRequest)
	}

	text := Flatten(data)
	vector, err := s.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return "", fmt.Errorf("embedding profile: %w", err)
	}

	err = s.store.Upsert(ctx, s.config.Collection, []vectorstore.Record{{
		ID:     RecordID(userID),
		Vector: vector,
		Payload: map[string]any{
			FieldUserID:      userID,
			FieldProfileText: text,
			FieldType:        recordType,
		},
	}})
	if err != nil {
		return "", fmt.Errorf("storing profile: %w", err)
	}

	s.logger.Info("saved profile", zap.String("user_id", userID), zap.Int("fields", len(data)))
	return text, nil
}

// Get returns the profile text of userID, or "" when none is stored.
func (s *Store) Get(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		return "", nil
	}
	records, err := s.store.Scroll(ctx, s.config.Collection, vectorstore.Filter{FieldUserID: userID}, 1)
	if err != nil {
		return "", fmt.Errorf("loading profile: %w", err)
	}
	if len(records) == 0 {
		return "", nil
	}
	return records[0].String(FieldProfileText), nil
}

// Flatten renders data as "field: value" lines sorted by field.
func Flatten(data map[string]string) string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, len(keys))
	for i, k := range keys {
		lines[i] = k + ": " + data[k]
	}
	return strings.Join(lines, "\n")
}

// RecordID is the point ID of userID's profile.
func RecordID(userID string) string {
	return uuid.NewSHA1(idNamespace, []byte(userID)).String()
}
