package llm

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/memory"
	"go.uber.org/zap"
)

// MemoryConfig bounds conversation memory.
type MemoryConfig struct {
	// MaxMessages keeps only the most recent messages per user. Default: 50
	MaxMessages int
	// IdleTTL evicts sessions unused for this long. Zero disables eviction.
	IdleTTL time.Duration
	// SweepInterval is how often idle sessions are evicted. Default: IdleTTL/2
	SweepInterval time.Duration
}

// Memory holds per-user conversation history in process memory.
//
// Each user's history is guarded by its own mutex, held for a whole
// invocation so that one user's turns never interleave.
type Memory struct {
	config MemoryConfig
	logger *zap.Logger
	now    func() time.Time

	mu       sync.Mutex
	sessions map[string]*session

	stop chan struct{}
	done chan struct{}
}

type session struct {
	mu       sync.Mutex
	history  *memory.ChatMessageHistory
	refs     int
	lastUsed time.Time
}

// NewMemory creates conversation memory. Call Close to stop eviction.
func NewMemory(cfg MemoryConfig, logger *zap.Logger) *Memory {
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = 50
	}
	if cfg.IdleTTL > 0 && cfg.SweepInterval <= 0 {
		cfg.SweepInterval = cfg.IdleTTL / 2
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &Memory{
		config:   cfg,
		logger:   logger,
		now:      time.Now,
		sessions: make(map[string]*session),
	}
	if cfg.IdleTTL > 0 {
		m.stop = make(chan struct{})
		m.done = make(chan struct{})
		go m.janitor()
	}
	return m
}

// acquire returns userID's session locked. The caller must release it.
func (m *Memory) acquire(userID string) *session {
	m.mu.Lock()
	s, ok := m.sessions[userID]
	if !ok {
		s = &session{history: memory.NewChatMessageHistory()}
		m.sessions[userID] = s
	}
	s.refs++
	m.mu.Unlock()

	s.mu.Lock()
	return s
}

func (m *Memory) release(s *session) {
	s.mu.Unlock()

	m.mu.Lock()
	s.refs--
	s.lastUsed = m.now()
	m.mu.Unlock()
}

// messages returns the session history.
func (s *session) messages(ctx context.Context) ([]llms.ChatMessage, error) {
	return s.history.Messages(ctx)
}

// appendTurn records a completed exchange and trims the history to max messages.
func (s *session) appendTurn(ctx context.Context, user, ai string, limit int) error {
	if err := s.history.AddUserMessage(ctx, user); err != nil {
		return err
	}
	if err := s.history.AddAIMessage(ctx, ai); err != nil {
		return err
	}

	msgs, err := s.history.Messages(ctx)
	if err != nil {
		return err
	}
	if len(msgs) > limit {
		return s.history.SetMessages(ctx, slices.Clone(msgs[len(msgs)-limit:]))
	}
	return nil
}

// History returns a copy of userID's messages.
func (m *Memory) History(ctx context.Context, userID string) ([]llms.ChatMessage, error) {
	s := m.acquire(userID)
	defer m.release(s)
	msgs, err := s.messages(ctx)
	return slices.Clone(msgs), err
}

// Reset forgets userID's conversation.
func (m *Memory) Reset(ctx context.Context, userID string) error {
	s := m.acquire(userID)
	defer m.release(s)
	return s.history.Clear(ctx)
}

// Sessions returns the number of live sessions.
func (m *Memory) Sessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Evict drops sessions idle for longer than the configured TTL and
// returns how many were dropped. Sessions in use are kept.
func (m *Memory) Evict() int {
	if m.config.IdleTTL <= 0 {
		return 0
	}
	cutoff := m.now().Add(-m.config.IdleTTL)

	m.mu.Lock()
	defer m.mu.Unlock()
	evicted := 0
	for id, s := range m.sessions {
		if s.refs == 0 && s.lastUsed.Before(cutoff) {
			delete(m.sessions, id)
			evicted++
		}
	}
	return evicted
}

func (m *Memory) janitor() {
	defer close(m.done)
	ticker := time.NewTicker(m.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			if n := m.Evict(); n > 0 {
				m.logger.Debug("evicted idle conversations", zap.Int("count", n))
			}
		}
	}
}

// Close stops background eviction.
func (m *Memory) Close() error {
	if m.stop != nil {
		close(m.stop)
		<-m.done
		m.stop = nil
	}
	return nil
}
