package reranker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("knowme.reranker")

const (
	// DefaultCohereURL is Cohere's rerank endpoint.
	DefaultCohereURL = "https://api.cohere.ai/v1/rerank"
	// DefaultCohereModel is the Cohere model used when none is configured.
	DefaultCohereModel = "rerank-english-v3.0"

	// Cohere accepts at most this many documents per request.
	cohereMaxDocuments = 1000
)

// httpScorer posts one scoring request and returns a score per input document.
type httpScorer func(ctx context.Context, query string, texts []string) ([]float32, error)

// CrossEncoder reranks through a remote cross-encoder.
type CrossEncoder struct {
	name   string
	score  httpScorer
	logger *zap.Logger
}

// Rerank scores every (query, doc) pair remotely.
func (c *CrossEncoder) Rerank(ctx context.Context, query string, docs []Document, topK int) (_ []ScoredDocument, err error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if len(docs) == 0 {
		return []ScoredDocument{}, nil
	}

	ctx, span := tracer.Start(ctx, "reranker.Rerank")
	span.SetAttributes(
		attribute.String("reranker.provider", c.name),
		attribute.Int("reranker.documents", len(docs)),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Content
	}

	start := time.Now()
	scores, err := c.score(ctx, query, texts)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("reranked candidates",
		zap.String("provider", c.name),
		zap.Int("documents", len(docs)),
		zap.Duration("duration", time.Since(start)))

	return rankByScore(fromScores(docs, scores), topK), nil
}

// Close is a no-op; the HTTP client holds no resources.
func (c *CrossEncoder) Close() error {
	return nil
}

// NewTEIReranker scores with a Text Embeddings Inference server running a
// cross-encoder (POST {baseURL}/rerank).
func NewTEIReranker(baseURL string, timeout time.Duration, logger *zap.Logger) (*CrossEncoder, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client := &http.Client{Timeout: timeoutOrDefault(timeout)}
	endpoint := strings.TrimRight(baseURL, "/") + "/rerank"

	return &CrossEncoder{
		name:   "tei",
		logger: logger,
		score: func(ctx context.Context, query string, texts []string) ([]float32, error) {
			var results []struct {
				Index int     `json:"index"`
				Score float32 `json:"score"`
			}
			body := map[string]any{
				"query":      query,
				"texts":      texts,
				"raw_scores": false,
				"truncate":   true,
			}
			if err := postJSON(ctx, client, endpoint, "", body, &results); err != nil {
				return nil, err
			}

			scores := make([]float32, len(texts))
			seen := 0
			for _, r := range results {
				if r.Index < 0 || r.Index >= len(texts) {
					return nil, fmt.Errorf("%w: index %d out of range", ErrRerankFailed, r.Index)
				}
				scores[r.Index] = r.Score
				seen++
			}
			if seen != len(texts) {
				return nil, fmt.Errorf("%w: got %d scores for %d texts", ErrRerankFailed, seen, len(texts))
			}
			return scores, nil
		},
	}, nil
}

// CohereConfig configures the Cohere rerank API.
type CohereConfig struct {
	APIKey string
	// Model defaults to DefaultCohereModel.
	Model string
	// URL defaults to DefaultCohereURL.
	URL     string
	Timeout time.Duration
}

// NewCohereReranker scores with Cohere's hosted rerank models.
// Documents beyond Cohere's per-request limit score zero.
func NewCohereReranker(cfg CohereConfig, logger *zap.Logger) (*CrossEncoder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: cohere API key required", ErrInvalidConfig)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultCohereModel
	}
	if cfg.URL == "" {
		cfg.URL = DefaultCohereURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client := &http.Client{Timeout: timeoutOrDefault(cfg.Timeout)}

	return &CrossEncoder{
		name:   "cohere",
		logger: logger,
		score: func(ctx context.Context, query string, texts []string) ([]float32, error) {
			sent := texts
			if len(sent) > cohereMaxDocuments {
				sent = sent[:cohereMaxDocuments]
			}
			var resp struct {
				Results []struct {
					Index          int     `json:"index"`
					RelevanceScore float64 `json:"relevance_score"`
				} `json:"results"`
			}
			body := map[string]any{
				"query":     query,
				"documents": sent,
				"model":     cfg.Model,
				"top_n":     len(sent),
			}
			if err := postJSON(ctx, client, cfg.URL, cfg.APIKey, body, &resp); err != nil {
				return nil, err
			}

			scores := make([]float32, len(texts))
			for _, r := range resp.Results {
				if r.Index < 0 || r.Index >= len(sent) {
					return nil, fmt.Errorf("%w: index %d out of range", ErrRerankFailed, r.Index)
				}
				scores[r.Index] = float32(r.RelevanceScore)
			}
			return scores, nil
		},
	}, nil
}

func postJSON(ctx context.Context, client *http.Client, url, token string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRerankFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: status %d: %s", ErrRerankFailed, resp.StatusCode, string(msg))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decoding response: %v", ErrRerankFailed, err)
	}
	return nil
}

func timeoutOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return 30 * time.Second
	}
	return d
}

var _ Reranker = (*CrossEncoder)(nil)
