package relay

import (
	"context"

	"github.com/Veraticus/confidant/internal/command"
	"github.com/Veraticus/confidant/internal/facts"
	"github.com/Veraticus/confidant/internal/memory"
)

// InboundMessage is a message received from a messenger bridge.
type InboundMessage struct {
	// ID identifies the message for deduplication. Optional.
	ID     string
	UserID string
	Text   string
}

// Reply is what the transport should deliver back to the user. Ignored is
// set, with a Reason, when the message was dropped without a reply.
type Reply struct {
	Text    string `json:"reply"`
	Command string `json:"command,omitempty"`
	Ignored bool   `json:"ignored"`
	Reason  string `json:"reason,omitempty"`
}

// Reasons a message is ignored.
const (
	ReasonEmpty      = "empty"
	ReasonNotAllowed = "not_allowed"
	ReasonDuplicate  = "duplicate"
)

// Handler processes inbound messages.
type Handler interface {
	Process(ctx context.Context, msg InboundMessage) (Reply, error)
	// Clear forgets a user's conversation, facts and session once any
	// message in flight for the user has finished.
	Clear(ctx context.Context, userID string) error
}

// Exchanges is the write side of the conversation log. Clear also drops
// the user's facts.
type Exchanges interface {
	Append(userID string, role memory.Role, text string)
	Clear(userID string) error
}

// FactStore loads and saves user facts.
type FactStore interface {
	Load(userID string) facts.UserFacts
	Save(userID string, f facts.UserFacts)
}

// ContextBuilder renders the prompt context for a message.
type ContextBuilder interface {
	Build(userID, currentMessage string) string
}

// Sessions sends a prompt to the backend on a user's session.
type Sessions interface {
	Do(ctx context.Context, userID, message string) (string, error)
	ResetUser(userID string) bool
}

// Commands handles chat commands.
type Commands interface {
	Handle(ctx context.Context, userID, text string) (command.Result, bool)
}

// Sanitizer cleans model output.
type Sanitizer interface {
	Clean(raw string, f facts.UserFacts) string
}

// Extractor derives facts from user text.
type Extractor interface {
	Extract(message string, existing facts.UserFacts) facts.UserFacts
}
