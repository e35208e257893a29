package ollama

import (
	"context"
	"time"
)

// Chat roles understood by the backend.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Backend is anything that can answer a chat request.
type Backend interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options are the sampling parameters sent with every request.
type Options struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	TopK        int     `json:"top_k"`
}

// DefaultOptions returns the sampling parameters used when none are configured.
func DefaultOptions() Options {
	return Options{Temperature: 0.8, TopP: 0.9, TopK: 40}
}

// ChatRequest is the body of POST /api/chat. Model and Options are filled in
// by the client when left empty.
type ChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
	Options  *Options  `json:"options,omitempty"`
}

// ChatResponse is the non-streaming reply from /api/chat.
type ChatResponse struct {
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"created_at"`
	Message   *Message  `json:"message"`
	Done      bool      `json:"done"`
}

// Config configures a Client.
type Config struct {
	BaseURL string
	Model   string
	Timeout time.Duration
	Options Options
}
