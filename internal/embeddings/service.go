package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// TEIConfig holds configuration for a Text Embeddings Inference server.
type TEIConfig struct {
	// BaseURL is the TEI server URL, e.g. http://localhost:8080.
	BaseURL string

	// Model is reported in metrics and logs only; TEI serves one model.
	Model string

	// Dimension is the expected vector size. Responses of another size fail.
	Dimension int

	// BatchSize caps the number of inputs per request.
	// Default: 32 (TEI's default max_client_batch_size)
	BatchSize int

	// QueryPrefix and DocumentPrefix are prepended to inputs, for models
	// trained with them (e5: "query: " and "passage: ").
	QueryPrefix    string
	DocumentPrefix string

	// Timeout bounds each HTTP request.
	// Default: 30s
	Timeout time.Duration
}

// Validate validates the configuration.
func (c TEIConfig) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	if c.Dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}
	return nil
}

// TEIService generates embeddings through TEI's /embed endpoint.
type TEIService struct {
	config  TEIConfig
	client  *http.Client
	metrics *Metrics
	logger  *zap.Logger
}

// NewTEIService creates a TEI-backed embedder.
func NewTEIService(config TEIConfig, logger *zap.Logger) (*TEIService, error) {
	if config.BatchSize <= 0 {
		config.BatchSize = 32
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	return &TEIService{
		config:  config,
		client:  &http.Client{Timeout: config.Timeout},
		metrics: NewMetrics("tei", logger),
		logger:  logger,
	}, nil
}

// teiRequest is the request body for TEI embed endpoint.
type teiRequest struct {
	Inputs   []string `json:"inputs"`
	Truncate bool     `json:"truncate"`
}

// EmbedDocuments embeds texts in batches, preserving input order.
func (s *TEIService) EmbedDocuments(ctx context.Context, texts []string) (_ [][]float32, err error) {
	start := time.Now()
	defer func() {
		s.metrics.Record(ctx, s.config.Model, "embed_documents", time.Since(start), len(texts), err)
	}()

	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}

	vectors := make([][]float32, 0, len(texts))
	for from := 0; from < len(texts); from += s.config.BatchSize {
		to := min(from+s.config.BatchSize, len(texts))
		batch := withPrefix(s.config.DocumentPrefix, texts[from:to])

		out, err := s.embed(ctx, batch)
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, out...)
	}
	return vectors, nil
}

// EmbedQuery embeds a single query.
func (s *TEIService) EmbedQuery(ctx context.Context, text string) (_ []float32, err error) {
	start := time.Now()
	defer func() {
		s.metrics.Record(ctx, s.config.Model, "embed_query", time.Since(start), 1, err)
	}()

	out, err := s.embed(ctx, withPrefix(s.config.QueryPrefix, []string{text}))
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// Dimension returns the configured vector size.
func (s *TEIService) Dimension() int {
	return s.config.Dimension
}

// Close is a no-op for TEI since it uses HTTP.
func (s *TEIService) Close() error {
	return nil
}

func (s *TEIService) embed(ctx context.Context, inputs []string) ([][]float32, error) {
	body, err := json.Marshal(teiRequest{Inputs: inputs, Truncate: true})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.BaseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: status %d: %s", ErrEmbeddingFailed, resp.StatusCode, string(respBody))
	}

	var vectors [][]float32
	if err := json.NewDecoder(resp.Body).Decode(&vectors); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", ErrEmbeddingFailed, err)
	}
	if len(vectors) != len(inputs) {
		return nil, fmt.Errorf("%w: got %d vectors for %d inputs", ErrEmbeddingFailed, len(vectors), len(inputs))
	}
	for _, v := range vectors {
		if len(v) != s.config.Dimension {
			return nil, fmt.Errorf("%w: got %d-dimensional vector, want %d", ErrEmbeddingFailed, len(v), s.config.Dimension)
		}
	}

	s.logger.Debug("embedded batch", zap.Int("inputs", len(inputs)))
	return vectors, nil
}

func withPrefix(prefix string, texts []string) []string {
	if prefix == "" {
		return texts
	}
	out := make([]string, len(texts))
	for i, t := range texts {
		out[i] = prefix + t
	}
	return out
}

var _ Provider = (*TEIService)(nil)
