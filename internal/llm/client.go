package llm

import (
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

const (
	// DefaultBaseURL is Gemini's OpenAI-compatible endpoint.
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai/"
	// DefaultModel is the chat model used when none is configured.
	DefaultModel = "gemini-2.5-flash"
)

// ClientConfig configures the chat model client.
type ClientConfig struct {
	BaseURL string
	Model   string
	APIKey  string
}

// NewModel creates an OpenAI-compatible chat model.
func NewModel(cfg ClientConfig) (llms.Model, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("llm: API key required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	model, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithModel(cfg.Model),
		openai.WithToken(cfg.APIKey),
	)
	if err != nil {
		return nil, fmt.Errorf("creating chat model: %w", err)
	}
	return model, nil
}
