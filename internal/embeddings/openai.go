package embeddings

import (
	"context"
	"fmt"
	"time"

	lcembeddings "github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"
)

// OpenAIConfig configures an OpenAI-compatible embeddings endpoint.
type OpenAIConfig struct {
	// BaseURL is the API base, e.g. https://api.openai.com/v1.
	BaseURL string
	Model   string
	APIKey  string
	// Dimension is the expected vector size.
	Dimension int
	// BatchSize caps texts per request. Default: 64
	BatchSize int
}

// Validate validates the configuration.
func (c OpenAIConfig) Validate() error {
	if c.Model == "" {
		return fmt.Errorf("%w: model required", ErrInvalidConfig)
	}
	if c.Dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}
	return nil
}

// OpenAIService embeds through langchaingo's OpenAI client.
type OpenAIService struct {
	embedder  *lcembeddings.EmbedderImpl
	model     string
	dimension int
	metrics   *Metrics
}

// NewOpenAIService creates an OpenAI-compatible embedder.
func NewOpenAIService(config OpenAIConfig, logger *zap.Logger) (*OpenAIService, error) {
	if config.BatchSize <= 0 {
		config.BatchSize = 64
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	opts := []openai.Option{
		openai.WithEmbeddingModel(config.Model),
	}
	if config.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(config.BaseURL))
	}
	// The client refuses to start without a token; local
	// OpenAI-compatible servers accept any value.
	token := config.APIKey
	if token == "" {
		token = "unused"
	}
	opts = append(opts, openai.WithToken(token))

	client, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating OpenAI client: %w", err)
	}

	embedder, err := lcembeddings.NewEmbedder(client,
		lcembeddings.WithBatchSize(config.BatchSize),
		lcembeddings.WithStripNewLines(false),
	)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}

	return &OpenAIService{
		embedder:  embedder,
		model:     config.Model,
		dimension: config.Dimension,
		metrics:   NewMetrics("openai", logger),
	}, nil
}

// EmbedDocuments embeds texts, preserving input order.
func (s *OpenAIService) EmbedDocuments(ctx context.Context, texts []string) (_ [][]float32, err error) {
	start := time.Now()
	defer func() {
		s.metrics.Record(ctx, s.model, "embed_documents", time.Since(start), len(texts), err)
	}()

	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}

	vectors, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d inputs", ErrEmbeddingFailed, len(vectors), len(texts))
	}
	for _, v := range vectors {
		if len(v) != s.dimension {
			return nil, fmt.Errorf("%w: got %d-dimensional vector, want %d", ErrEmbeddingFailed, len(v), s.dimension)
		}
	}
	return vectors, nil
}

// EmbedQuery embeds a single query.
func (s *OpenAIService) EmbedQuery(ctx context.Context, text string) (_ []float32, err error) {
	start := time.Now()
	defer func() {
		s.metrics.Record(ctx, s.model, "embed_query", time.Since(start), 1, err)
	}()

	vector, err := s.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	if len(vector) != s.dimension {
		return nil, fmt.Errorf("%w: got %d-dimensional vector, want %d", ErrEmbeddingFailed, len(vector), s.dimension)
	}
	return vector, nil
}

// Dimension returns the configured vector size.
func (s *OpenAIService) Dimension() int {
	return s.dimension
}

// Close is a no-op; the client holds no resources.
func (s *OpenAIService) Close() error {
	return nil
}

var _ Provider = (*OpenAIService)(nil)
