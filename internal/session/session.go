// Package session owns the per-user chat sessions held against the model
// backend: priming, message exchange with the full mirrored history, reset,
// and bounded retry.
package session

import (
	"sync"
	"time"

	"github.com/Veraticus/confidant/internal/ollama"
)

// Session mirrors one user's chat history with the backend. Sessions are
// created and mutated only by the Coordinator.
type Session struct {
	id      string
	userID  string
	model   string
	created time.Time

	mu         sync.Mutex
	state      State
	turns      []ollama.Message
	generation int
	lastUsed   time.Time
}

// ID returns the session's unique identifier.
func (s *Session) ID() string {
	return s.id
}

// UserID returns the owning user.
func (s *Session) UserID() string {
	return s.userID
}

// Model returns the backend model the session talks to.
func (s *Session) Model() string {
	return s.model
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Turns returns a copy of the mirrored history.
func (s *Session) Turns() []ollama.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ollama.Message(nil), s.turns...)
}

// Generation counts resets since creation.
func (s *Session) Generation() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// LastUsed returns when the session last completed a call or was created.
func (s *Session) LastUsed() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}

// setState moves the session to next. Callers hold s.mu.
func (s *Session) setState(next State) bool {
	if !CanTransition(s.state, next) {
		return false
	}
	s.state = next
	return true
}

// CreatedAt returns when the session was registered.
func (s *Session) CreatedAt() time.Time {
	return s.created
}

// Info is a point-in-time view of a session for reporting.
type Info struct {
	ID         string    `json:"id"`
	Model      string    `json:"model"`
	State      string    `json:"state"`
	Turns      int       `json:"turns"`
	Generation int       `json:"generation"`
	CreatedAt  time.Time `json:"created_at"`
	LastUsed   time.Time `json:"last_used"`
}

// Info returns a snapshot of the session.
func (s *Session) Info() Info {
	s.mu.Lock()
	state, turns, generation := s.state, len(s.turns), s.generation
	s.mu.Unlock()

	return Info{
		ID:         s.id,
		Model:      s.model,
		State:      state.String(),
		Turns:      turns,
		Generation: generation,
		CreatedAt:  s.CreatedAt(),
		LastUsed:   s.LastUsed(),
	}
}
