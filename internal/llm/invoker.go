// Package llm calls the chat model with per-user conversation memory and
// bounded retries.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/knowme/internal/retry"
)

// AttemptsTotal counts model calls by outcome: success, retryable or failed.
var AttemptsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "knowme",
		Subsystem: "llm",
		Name:      "attempts_total",
		Help:      "Total number of chat model calls by outcome",
	},
	[]string{"outcome"},
)

// Config configures an Invoker.
type Config struct {
	// SystemPrompt leads every conversation. Default: DefaultSystemPrompt
	SystemPrompt string
	// Temperature is the sampling temperature. Default: 0.5
	Temperature float64
	// MaxAttempts bounds calls per invocation. Default: 3
	MaxAttempts int
	// Backoff is the fixed wait between attempts. Default: 10s
	Backoff time.Duration
	// RateLimit caps model calls per second across users. Zero disables limiting.
	RateLimit float64
	// Burst is the limiter burst. Default: 1
	Burst int
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.SystemPrompt == "" {
		c.SystemPrompt = DefaultSystemPrompt
	}
	if c.Temperature == 0 {
		c.Temperature = 0.5
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.Backoff <= 0 {
		c.Backoff = 10 * time.Second
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
}

// Request is one chat turn.
type Request struct {
	UserID string
	// Input is the full text sent to the model for this turn.
	Input string
	// Remember is what the user's side of the turn stores in memory.
	// Empty stores Input.
	Remember string
}

// Invoker runs chat turns against a model.
type Invoker struct {
	model   llms.Model
	memory  *Memory
	config  Config
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewInvoker creates an Invoker. A nil memory keeps no history.
func NewInvoker(model llms.Model, mem *Memory, cfg Config, logger *zap.Logger) (*Invoker, error) {
	if model == nil {
		return nil, errors.New("llm: model is required")
	}
	cfg.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	if mem == nil {
		mem = NewMemory(MemoryConfig{}, logger)
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	return &Invoker{
		model:   model,
		memory:  mem,
		config:  cfg,
		limiter: rate.NewLimiter(limit, cfg.Burst),
		logger:  logger,
	}, nil
}

// Memory returns the invoker's conversation memory.
func (inv *Invoker) Memory() *Memory {
	return inv.memory
}

// Invoke sends req with the user's history and returns the completion.
// Transient failures are retried; a final failure wraps ErrGenerationFailed.
// The turn is remembered only on success.
func (inv *Invoker) Invoke(ctx context.Context, req Request) (string, error) {
	if req.UserID == "" {
		return "", fmt.Errorf("%w: user id required", ErrGenerationFailed)
	}

	s := inv.memory.acquire(req.UserID)
	defer inv.memory.release(s)

	history, err := s.messages(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: loading history: %w", ErrGenerationFailed, err)
	}
	messages := make([]llms.MessageContent, 0, len(history)+2)
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, inv.config.SystemPrompt))
	for _, msg := range history {
		messages = append(messages, llms.TextParts(msg.GetType(), msg.GetContent()))
	}
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, req.Input))

	policy := retry.Policy{
		MaxAttempts: inv.config.MaxAttempts,
		Backoff:     inv.config.Backoff,
		Retryable:   IsRetryable,
		OnRetry: func(attempt int, err error, wait time.Duration) {
			inv.logger.Warn("retryable llm error",
				zap.String("user_id", req.UserID),
				zap.Int("attempt", attempt),
				zap.Duration("wait", wait),
				zap.Error(err))
		},
	}

	text, err := retry.Do(ctx, policy, func(ctx context.Context) (string, error) {
		return inv.generate(ctx, messages)
	})
	if err != nil {
		inv.logger.Error("llm invocation failed", zap.String("user_id", req.UserID), zap.Error(err))
		return "", fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}

	remember := req.Remember
	if remember == "" {
		remember = req.Input
	}
	if err := s.appendTurn(ctx, remember, text, inv.memory.config.MaxMessages); err != nil {
		inv.logger.Warn("failed to record conversation turn", zap.Error(err))
	}
	return text, nil
}

func (inv *Invoker) generate(ctx context.Context, messages []llms.MessageContent) (string, error) {
	if err := inv.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}

	resp, err := inv.model.GenerateContent(ctx, messages, llms.WithTemperature(inv.config.Temperature))
	if err == nil {
		if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Content) == "" {
			err = ErrEmptyCompletion
		}
	}

	switch {
	case err == nil:
		AttemptsTotal.WithLabelValues("success").Inc()
		return resp.Choices[0].Content, nil
	case IsRetryable(err):
		AttemptsTotal.WithLabelValues("retryable").Inc()
	default:
		AttemptsTotal.WithLabelValues("failed").Inc()
	}
	return "", err
}
