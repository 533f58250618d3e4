package reranker

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Config selects and configures a reranker.
type Config struct {
	// Provider is "tei", "cohere" or "simple".
	Provider string
	BaseURL  string
	Model    string
	APIKey   string
	Timeout  time.Duration
}

// New creates the reranker named by cfg.Provider.
func New(cfg Config, logger *zap.Logger) (Reranker, error) {
	switch cfg.Provider {
	case "tei":
		return NewTEIReranker(cfg.BaseURL, cfg.Timeout, logger)
	case "cohere":
		return NewCohereReranker(CohereConfig{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			URL:     cfg.BaseURL,
			Timeout: cfg.Timeout,
		}, logger)
	case "simple", "":
		return NewSimpleReranker(), nil
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
}
