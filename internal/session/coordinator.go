package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Veraticus/confidant/internal/metrics"
	"github.com/Veraticus/confidant/internal/ollama"
)

const (
	// DefaultMaxAttempts is how many times a message is tried before giving up.
	DefaultMaxAttempts = 3
	// DefaultBackoff is the fixed wait between attempts.
	DefaultBackoff = time.Second
)

// PromptSource supplies the system prompt used to prime new sessions.
type PromptSource interface {
	SystemPrompt() string
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// RetryPolicy bounds how Do retries failed attempts.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// DefaultRetryPolicy returns three attempts one second apart.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: DefaultMaxAttempts, Backoff: DefaultBackoff}
}

// Option configures a Coordinator.
type Option func(*Coordinator) error

// WithRetryPolicy sets the retry policy.
func WithRetryPolicy(policy RetryPolicy) Option {
	return func(c *Coordinator) error {
		if policy.MaxAttempts < 1 {
			return fmt.Errorf("max attempts must be at least 1")
		}
		if policy.Backoff < 0 {
			return fmt.Errorf("backoff cannot be negative")
		}
		c.retry = policy
		return nil
	}
}

// WithSleeper replaces the wait used between attempts.
func WithSleeper(sleep Sleeper) Option {
	return func(c *Coordinator) error {
		if sleep == nil {
			return fmt.Errorf("sleeper cannot be nil")
		}
		c.sleep = sleep
		return nil
	}
}

// WithClock sets the time source for session bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) error {
		if now == nil {
			return fmt.Errorf("clock cannot be nil")
		}
		c.now = now
		return nil
	}
}

// WithLogger sets the coordinator's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		c.logger = logger.With(slog.String("component", "session.coordinator"))
		return nil
	}
}

// Coordinator keeps at most one session per user and drives every backend
// call made on their behalf.
type Coordinator struct {
	backend ollama.Backend
	prompts PromptSource
	model   string
	retry   RetryPolicy
	sleep   Sleeper
	now     func() time.Time
	logger  *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewCoordinator creates a coordinator for model on backend.
func NewCoordinator(backend ollama.Backend, prompts PromptSource, model string, opts ...Option) (*Coordinator, error) {
	if backend == nil {
		return nil, fmt.Errorf("backend cannot be nil")
	}
	if prompts == nil {
		return nil, fmt.Errorf("prompt source cannot be nil")
	}
	if strings.TrimSpace(model) == "" {
		return nil, fmt.Errorf("model cannot be empty")
	}

	c := &Coordinator{
		backend:  backend,
		prompts:  prompts,
		model:    model,
		retry:    DefaultRetryPolicy(),
		sleep:    sleepContext,
		now:      time.Now,
		logger:   slog.Default().With(slog.String("component", "session.coordinator")),
		sessions: make(map[string]*Session),
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}
	return c, nil
}

// GetOrCreate returns the user's session, creating an uninitialized one if
// none exists. Concurrent callers for one user always get the same session.
func (c *Coordinator) GetOrCreate(userID, model string) *Session {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s, ok := c.sessions[userID]; ok {
		return s
	}

	if model == "" {
		model = c.model
	}
	now := c.now()
	s := &Session{
		id:       uuid.NewString(),
		userID:   userID,
		model:    model,
		created:  now,
		state:    StateUninitialized,
		lastUsed: now,
	}
	c.sessions[userID] = s
	metrics.ActiveSessions.Set(float64(len(c.sessions)))
	return s
}

// Initialize primes an uninitialized session with systemPrompt as its only
// turn. Ready sessions are left alone.
func (c *Coordinator) Initialize(ctx context.Context, s *Session, systemPrompt string) error {
	if strings.TrimSpace(systemPrompt) == "" {
		return ErrEmptyPrompt
	}

	s.mu.Lock()
	if s.state == StateReady {
		s.mu.Unlock()
		return nil
	}
	if !s.setState(StateInitializing) {
		state := s.state
		s.mu.Unlock()
		return &StateError{Op: "initialize", State: state}
	}
	generation := s.generation
	s.mu.Unlock()

	seed := ollama.Message{Role: ollama.RoleSystem, Content: systemPrompt}
	_, err := c.chat(ctx, s.model, []ollama.Message{seed})

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.generation != generation {
		return &StateError{Op: "initialize", State: s.state, Reason: "session was reset during initialization"}
	}
	if err != nil {
		s.state = StateUninitialized
		return fmt.Errorf("failed to initialize session: %w", err)
	}

	s.turns = []ollama.Message{seed}
	s.setState(StateReady)
	s.lastUsed = c.now()

	c.logger.DebugContext(ctx, "Session initialized",
		slog.String("user_id", s.userID),
		slog.String("session_id", s.id),
	)
	return nil
}

// Send appends message to a ready session, sends the whole history and
// records the reply. On failure the message is rolled back out of history.
func (c *Coordinator) Send(ctx context.Context, s *Session, message string) (string, error) {
	s.mu.Lock()
	if s.state != StateReady {
		state := s.state
		s.mu.Unlock()
		return "", &StateError{Op: "send on", State: state}
	}
	s.turns = append(s.turns, ollama.Message{Role: ollama.RoleUser, Content: message})
	history := append([]ollama.Message(nil), s.turns...)
	generation := s.generation
	s.mu.Unlock()

	resp, err := c.chat(ctx, s.model, history)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.generation != generation {
		return "", &StateError{Op: "send on", State: s.state, Reason: "session was reset during send"}
	}
	if err != nil {
		s.turns = s.turns[:len(s.turns)-1]
		return "", fmt.Errorf("failed to send message: %w", err)
	}

	s.turns = append(s.turns, ollama.Message{Role: ollama.RoleAssistant, Content: resp.Message.Content})
	s.lastUsed = c.now()
	return resp.Message.Content, nil
}

// Reset drops the session's history and returns it to uninitialized.
func (c *Coordinator) Reset(s *Session) {
	c.reset(s, "manual")
}

// ResetUser resets the user's session if one exists.
func (c *Coordinator) ResetUser(userID string) bool {
	c.mu.Lock()
	s, ok := c.sessions[userID]
	c.mu.Unlock()

	if ok {
		c.reset(s, "manual")
	}
	return ok
}

// Remove forgets the user's session entirely.
func (c *Coordinator) Remove(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.sessions, userID)
	metrics.ActiveSessions.Set(float64(len(c.sessions)))
}

func (c *Coordinator) reset(s *Session, reason string) {
	s.mu.Lock()
	s.turns = nil
	s.state = StateUninitialized
	s.generation++
	s.mu.Unlock()

	metrics.SessionResets.WithLabelValues(reason).Inc()
}

// Do sends message for userID, priming the session first when needed. A
// failed attempt resets the session and, if attempts remain, waits for the
// backoff before trying again. State errors and an empty system prompt end
// the request immediately.
func (c *Coordinator) Do(ctx context.Context, userID, message string) (string, error) {
	var lastErr error

	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		s := c.GetOrCreate(userID, c.model)

		reply, err := c.attempt(ctx, s, message)
		if err == nil {
			return reply, nil
		}
		lastErr = err

		if IsStateError(err) || errors.Is(err, ErrEmptyPrompt) {
			return "", err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("request abandoned: %w", ctxErr)
		}

		c.logger.WarnContext(ctx, "Backend attempt failed",
			slog.String("user_id", userID),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", c.retry.MaxAttempts),
			slog.Any("error", err),
		)
		c.reset(s, "error")

		if attempt < c.retry.MaxAttempts {
			if err := c.sleep(ctx, c.retry.Backoff); err != nil {
				return "", fmt.Errorf("request abandoned during backoff: %w", err)
			}
		}
	}

	metrics.RetriesExhausted.Inc()
	c.logger.ErrorContext(ctx, "All backend attempts failed",
		slog.String("user_id", userID),
		slog.Int("attempts", c.retry.MaxAttempts),
		slog.Any("error", lastErr),
	)
	return "", &RetryError{Attempts: c.retry.MaxAttempts, Last: lastErr}
}

func (c *Coordinator) attempt(ctx context.Context, s *Session, message string) (string, error) {
	if s.State() != StateReady {
		if err := c.Initialize(ctx, s, c.prompts.SystemPrompt()); err != nil {
			return "", err
		}
	}
	return c.Send(ctx, s, message)
}

// chat performs one backend call and records its outcome.
func (c *Coordinator) chat(ctx context.Context, model string, messages []ollama.Message) (*ollama.ChatResponse, error) {
	start := time.Now()
	resp, err := c.backend.Chat(ctx, ollama.ChatRequest{Model: model, Messages: messages})
	metrics.BackendLatency.WithLabelValues(model).Observe(time.Since(start).Seconds())

	if err == nil && (resp == nil || resp.Message == nil) {
		err = &ollama.ProtocolError{Reason: "response has no message"}
	}
	metrics.BackendAttempts.WithLabelValues(resultLabel(err)).Inc()
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// ExpireIdle removes sessions unused since before. Sessions with a priming
// call in flight are kept.
func (c *Coordinator) ExpireIdle(before time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for userID, s := range c.sessions {
		s.mu.Lock()
		idle := s.state != StateInitializing && s.lastUsed.Before(before)
		s.mu.Unlock()
		if idle {
			delete(c.sessions, userID)
			removed++
		}
	}
	metrics.ActiveSessions.Set(float64(len(c.sessions)))
	return removed
}

// Stats returns session counts by state.
func (c *Coordinator) Stats() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := map[string]int{"total": len(c.sessions), "ready": 0}
	for _, s := range c.sessions {
		if s.State() == StateReady {
			stats["ready"]++
		}
	}
	return stats
}

// Lookup returns the user's session without creating one.
func (c *Coordinator) Lookup(userID string) (*Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[userID]
	return s, ok
}

// Info reports the user's session, if one exists.
func (c *Coordinator) Info(userID string) (Info, bool) {
	s, ok := c.Lookup(userID)
	if !ok {
		return Info{}, false
	}
	return s.Info(), true
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return metrics.ResultSuccess
	case errors.Is(err, context.Canceled):
		return metrics.ResultCanceled
	case ollama.IsProtocolError(err):
		return metrics.ResultProtocol
	default:
		return metrics.ResultTransport
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
