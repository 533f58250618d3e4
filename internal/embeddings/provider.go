package embeddings

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

var (
	// ErrEmptyInput indicates empty or nil input texts
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid configuration
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmbeddingFailed indicates embedding generation failure
	ErrEmbeddingFailed = errors.New("embedding generation failed")
)

// Embedder converts text to fixed-dimension vectors.
//
// Output is position-preserving: EmbedDocuments(ctx, []string{a, b})[0]
// is the vector for a. Empty strings produce a vector.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	// Dimension returns the vector size of the current model.
	Dimension() int
}

// Provider is an Embedder that holds releasable resources.
type Provider interface {
	Embedder
	Close() error
}

// ProviderConfig holds configuration for creating an embedding provider.
type ProviderConfig struct {
	// Provider is the provider type: "tei", "openai" or "fastembed"
	Provider string
	// Model is the embedding model name
	Model string
	// BaseURL is the TEI or OpenAI-compatible endpoint
	BaseURL string
	// APIKey authenticates OpenAI-compatible endpoints
	APIKey string
	// Dimension overrides the dimension detected from the model name
	Dimension int
	// BatchSize caps texts per request
	BatchSize int
	// QueryPrefix and DocumentPrefix are prepended for TEI models that
	// expect them
	QueryPrefix    string
	DocumentPrefix string
	// CacheDir is the model cache directory (only used for FastEmbed)
	CacheDir string
}

// detectDimensionFromModel returns the embedding dimension for a model name.
// Falls back to 768 if model is unknown.
func detectDimensionFromModel(model string) int {
	if dim, ok := fastEmbedModelDimension(model); ok {
		return dim
	}
	lower := strings.ToLower(model)
	switch {
	case strings.Contains(lower, "text-embedding-3-large"):
		return 3072
	case strings.Contains(lower, "text-embedding"):
		return 1536
	case strings.Contains(lower, "large"):
		return 1024
	case strings.Contains(lower, "small"), strings.Contains(lower, "mini"):
		return 384
	default:
		return 768
	}
}

// NewProvider creates an embedding provider based on the configuration.
func NewProvider(cfg ProviderConfig, logger *zap.Logger) (Provider, error) {
	dim := cfg.Dimension
	if dim == 0 {
		dim = detectDimensionFromModel(cfg.Model)
	}

	switch cfg.Provider {
	case "tei", "":
		return NewTEIService(TEIConfig{
			BaseURL:        cfg.BaseURL,
			Model:          cfg.Model,
			Dimension:      dim,
			BatchSize:      cfg.BatchSize,
			QueryPrefix:    cfg.QueryPrefix,
			DocumentPrefix: cfg.DocumentPrefix,
		}, logger)
	case "openai":
		return NewOpenAIService(OpenAIConfig{
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			APIKey:    cfg.APIKey,
			Dimension: dim,
			BatchSize: cfg.BatchSize,
		}, logger)
	case "fastembed":
		return NewFastEmbedProvider(FastEmbedConfig{
			Model:    cfg.Model,
			CacheDir: cfg.CacheDir,
		})
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
}
