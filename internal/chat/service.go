// Package chat answers user messages grounded in their documents and profile.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/knowme/internal/llm"
	"github.com/fyrsmithlabs/knowme/internal/retrieval"
	"github.com/fyrsmithlabs/knowme/internal/vectorstore"
)

// Retriever builds grounding for a query.
type Retriever interface {
	Retrieve(ctx context.Context, userID, query string) (*retrieval.Grounding, error)
}

// Generator produces a completion for a chat turn.
type Generator interface {
	Invoke(ctx context.Context, req llm.Request) (string, error)
}

// MemoryResetter forgets a user's conversation.
type MemoryResetter interface {
	Reset(ctx context.Context, userID string) error
}

// Answer is the reply to one message.
type Answer struct {
	Response string   `json:"response"`
	Sources  []string `json:"sources"`
}

// Service runs chat turns.
type Service struct {
	retriever Retriever
	generator Generator
	memory    MemoryResetter
	logger    *zap.Logger
}

// NewService creates a chat service. memory may be nil.
func NewService(r Retriever, g Generator, memory MemoryResetter, logger *zap.Logger) (*Service, error) {
	if r == nil || g == nil {
		return nil, errors.New("chat: retriever and generator are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{retriever: r, generator: g, memory: memory, logger: logger}, nil
}

// Chat answers message for userID. Retrieval finding nothing still produces
// an answer, grounded in the profile alone or in nothing.
func (s *Service) Chat(ctx context.Context, userID, message string) (*Answer, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, fmt.Errorf("%w: message cannot be empty", vectorstore.ErrInvalidRequest)
	}

	g, err := s.retriever.Retrieve(ctx, userID, message)
	if err != nil {
		return nil, err
	}

	text, err := s.generator.Invoke(ctx, llm.Request{
		UserID:   userID,
		Input:    Input(message, g.Text),
		Remember: message,
	})
	if err != nil {
		return nil, err
	}

	sources := g.Citations
	if sources == nil {
		sources = []string{}
	}
	s.logger.Debug("answered message",
		zap.String("user_id", userID),
		zap.Int("sources", len(sources)))
	return &Answer{Response: strings.TrimSpace(text), Sources: sources}, nil
}

// Reset clears userID's conversation memory.
func (s *Service) Reset(ctx context.Context, userID string) error {
	if s.memory == nil {
		return nil
	}
	return s.memory.Reset(ctx, userID)
}

// Input is the model input of a turn: the message followed by its grounding.
func Input(message, grounding string) string {
	return message + "\n\n" + grounding
}
