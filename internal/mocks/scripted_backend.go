// Package mocks provides a scripted chat backend for tests.
package mocks

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/Veraticus/confidant/internal/ollama"
)

// ScriptedResponse is one scripted reply from the backend.
type ScriptedResponse struct {
	// Content is returned as the assistant message.
	Content string

	// Error is returned instead of a response.
	Error error

	// NoMessage returns a response without a message field.
	NoMessage bool

	// Pattern is matched against the last message content. Empty matches anything.
	Pattern string

	// Delay before returning, honoring context cancellation.
	Delay time.Duration

	// BeforeReturn runs before the response is returned.
	BeforeReturn func(req ollama.ChatRequest)

	// Repeatable scripts are never consumed.
	Repeatable bool
}

// Call records one request made to the backend.
type Call struct {
	Request   ollama.ChatRequest
	Timestamp time.Time
}

// ScriptedBackend implements ollama.Backend with scripted replies. Scripts
// are consumed in order; when none match, the fallback is used.
type ScriptedBackend struct {
	mu            sync.Mutex
	scripts       []ScriptedResponse
	used          []bool
	calls         []Call
	fallback      string
	fallbackError error
	strictMode    bool
}

// ScriptedBackendOption configures a ScriptedBackend.
type ScriptedBackendOption func(*ScriptedBackend)

// WithStrictMode fails any call no script matches.
func WithStrictMode() ScriptedBackendOption {
	return func(s *ScriptedBackend) {
		s.strictMode = true
	}
}

// WithFallback sets the reply used when no script matches.
func WithFallback(content string) ScriptedBackendOption {
	return func(s *ScriptedBackend) {
		s.fallback = content
	}
}

// WithFallbackError makes every unmatched call fail with err.
func WithFallbackError(err error) ScriptedBackendOption {
	return func(s *ScriptedBackend) {
		s.fallbackError = err
	}
}

// NewScriptedBackend creates a backend with no scripts.
func NewScriptedBackend(opts ...ScriptedBackendOption) *ScriptedBackend {
	s := &ScriptedBackend{fallback: "ok"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddScript appends a scripted response.
func (s *ScriptedBackend) AddScript(script ScriptedResponse) *ScriptedBackend {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.scripts = append(s.scripts, script)
	s.used = append(s.used, false)
	return s
}

// AddReply appends a one-shot text reply.
func (s *ScriptedBackend) AddReply(content string) *ScriptedBackend {
	return s.AddScript(ScriptedResponse{Content: content})
}

// AddError appends a one-shot error.
func (s *ScriptedBackend) AddError(err error) *ScriptedBackend {
	return s.AddScript(ScriptedResponse{Error: err})
}

// AddPatternReply appends a repeatable reply for messages matching pattern.
func (s *ScriptedBackend) AddPatternReply(pattern, content string) *ScriptedBackend {
	return s.AddScript(ScriptedResponse{Pattern: pattern, Content: content, Repeatable: true})
}

// Chat implements ollama.Backend.
func (s *ScriptedBackend) Chat(ctx context.Context, req ollama.ChatRequest) (*ollama.ChatResponse, error) {
	s.mu.Lock()
	s.calls = append(s.calls, Call{Request: cloneRequest(req), Timestamp: time.Now()})
	script, found := s.next(lastContent(req))
	s.mu.Unlock()

	if !found {
		return s.handleNoMatch(req)
	}
	return execute(ctx, script, req)
}

func (s *ScriptedBackend) next(content string) (ScriptedResponse, bool) {
	for i, script := range s.scripts {
		if s.used[i] || !matchesPattern(script.Pattern, content) {
			continue
		}
		if !script.Repeatable {
			s.used[i] = true
		}
		return script, true
	}
	return ScriptedResponse{}, false
}

func execute(ctx context.Context, script ScriptedResponse, req ollama.ChatRequest) (*ollama.ChatResponse, error) {
	if script.BeforeReturn != nil {
		script.BeforeReturn(req)
	}

	if script.Delay > 0 {
		select {
		case <-time.After(script.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if script.Error != nil {
		return nil, script.Error
	}
	if script.NoMessage {
		return &ollama.ChatResponse{Model: req.Model, Done: true}, nil
	}
	return reply(req.Model, script.Content), nil
}

func (s *ScriptedBackend) handleNoMatch(req ollama.ChatRequest) (*ollama.ChatResponse, error) {
	if s.strictMode {
		return nil, fmt.Errorf("no script matches message: %q", lastContent(req))
	}
	if s.fallbackError != nil {
		return nil, s.fallbackError
	}
	return reply(req.Model, s.fallback), nil
}

// Calls returns a copy of every recorded call.
func (s *ScriptedBackend) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()

	calls := make([]Call, len(s.calls))
	copy(calls, s.calls)
	return calls
}

// CallCount returns how many calls were made.
func (s *ScriptedBackend) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// ExpectContentContains reports an error unless some call's last message
// contained substring.
func (s *ScriptedBackend) ExpectContentContains(substring string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, call := range s.calls {
		if strings.Contains(lastContent(call.Request), substring) {
			return nil
		}
	}
	return fmt.Errorf("no call contained message substring: %q", substring)
}

// Reset clears recorded calls and re-arms consumed scripts.
func (s *ScriptedBackend) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = nil
	for i := range s.used {
		s.used[i] = false
	}
}

func reply(model, content string) *ollama.ChatResponse {
	return &ollama.ChatResponse{
		Model:     model,
		CreatedAt: time.Now(),
		Message:   &ollama.Message{Role: ollama.RoleAssistant, Content: content},
		Done:      true,
	}
}

func lastContent(req ollama.ChatRequest) string {
	if len(req.Messages) == 0 {
		return ""
	}
	return req.Messages[len(req.Messages)-1].Content
}

func cloneRequest(req ollama.ChatRequest) ollama.ChatRequest {
	out := req
	out.Messages = append([]ollama.Message(nil), req.Messages...)
	return out
}

func matchesPattern(pattern, value string) bool {
	if pattern == "" {
		return true
	}
	matched, err := regexp.MatchString(pattern, value)
	return err == nil && matched
}
