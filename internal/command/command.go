package command

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/Veraticus/confidant/internal/memory"
	"github.com/Veraticus/confidant/internal/metrics"
)

// DefaultPrefix marks a message as a command.
const DefaultPrefix = "/"

// Replies sent back for commands.
const (
	ClearedReply      = "Memory cleared! I've forgotten our previous conversation. What would you like to talk about?"
	ClearFailedReply  = "I couldn't clear our conversation right now. Please try again."
	PromptSavedReply  = "System prompt updated successfully! The new prompt will be used for future messages."
	PromptFailedReply = "Failed to update system prompt. Please try again."
)

// Memory is the conversation store the commands act on.
type Memory interface {
	Clear(userID string) error
	Summarize(userID string) memory.Summary
}

// Sessions resets backend sessions.
type Sessions interface {
	ResetUser(userID string) bool
}

// Prompts reads and replaces the system prompt.
type Prompts interface {
	SystemPrompt() string
	Set(prompt string) error
}

// Result is the outcome of a handled command.
type Result struct {
	Name  string
	Reply string
}

type handlerFunc func(ctx context.Context, userID, args string) string

// Option configures a Router.
type Option func(*Router) error

// WithPrefix changes the command prefix.
func WithPrefix(prefix string) Option {
	return func(r *Router) error {
		if strings.TrimSpace(prefix) == "" {
			return fmt.Errorf("prefix cannot be empty")
		}
		r.prefix = prefix
		return nil
	}
}

// WithLogger sets the router's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		r.logger = logger.With(slog.String("component", "command"))
		return nil
	}
}

// Router dispatches prefixed chat messages to their handlers.
type Router struct {
	prefix   string
	memory   Memory
	sessions Sessions
	prompts  Prompts
	handlers map[string]handlerFunc
	logger   *slog.Logger
}

// NewRouter creates a router with the clear, reset, status, prompt and help
// commands.
func NewRouter(mem Memory, sessions Sessions, prompts Prompts, opts ...Option) (*Router, error) {
	if mem == nil {
		return nil, fmt.Errorf("memory cannot be nil")
	}
	if sessions == nil {
		return nil, fmt.Errorf("sessions cannot be nil")
	}
	if prompts == nil {
		return nil, fmt.Errorf("prompts cannot be nil")
	}

	r := &Router{
		prefix:   DefaultPrefix,
		memory:   mem,
		sessions: sessions,
		prompts:  prompts,
		logger:   slog.Default().With(slog.String("component", "command")),
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	r.handlers = map[string]handlerFunc{
		"clear":  r.clear,
		"reset":  r.clear,
		"status": r.status,
		"prompt": r.prompt,
		"help":   r.help,
	}
	return r, nil
}

// IsCommand reports whether text is addressed to the router: the prefix
// immediately followed by a letter.
func (r *Router) IsCommand(text string) bool {
	rest, ok := strings.CutPrefix(strings.TrimSpace(text), r.prefix)
	if !ok {
		return false
	}
	first, _ := utf8.DecodeRuneInString(rest)
	return unicode.IsLetter(first)
}

// Handle runs the command in text. The second result is false when text is
// not a command and should go to the model instead.
func (r *Router) Handle(ctx context.Context, userID, text string) (Result, bool) {
	if !r.IsCommand(text) {
		return Result{}, false
	}

	name, args := parse(strings.TrimPrefix(strings.TrimSpace(text), r.prefix))

	handler, ok := r.handlers[name]
	if !ok {
		metrics.CommandsHandled.WithLabelValues("unknown").Inc()
		return Result{
			Name:  name,
			Reply: fmt.Sprintf("Unknown command %s%s. Send %shelp to see the available commands.", r.prefix, name, r.prefix),
		}, true
	}

	metrics.CommandsHandled.WithLabelValues(name).Inc()
	r.logger.InfoContext(ctx, "Handling command",
		slog.String("command", name),
		slog.String("user_id", userID),
	)
	return Result{Name: name, Reply: handler(ctx, userID, args)}, true
}

func parse(body string) (string, string) {
	name, args, _ := strings.Cut(body, " ")
	if i := strings.IndexAny(name, "\n\t"); i >= 0 {
		args = name[i:] + " " + args
		name = name[:i]
	}
	return strings.ToLower(name), strings.TrimSpace(args)
}

func (r *Router) clear(ctx context.Context, userID, _ string) string {
	if err := r.memory.Clear(userID); err != nil {
		r.logger.ErrorContext(ctx, "Failed to clear conversation",
			slog.String("user_id", userID),
			slog.Any("error", err),
		)
		return ClearFailedReply
	}
	r.sessions.ResetUser(userID)
	return ClearedReply
}

func (r *Router) status(_ context.Context, userID, _ string) string {
	summary := r.memory.Summarize(userID)
	return FormatStatus(summary)
}

// FormatStatus renders a conversation summary for chat.
func FormatStatus(summary memory.Summary) string {
	last := "Never"
	if summary.LastInteraction != nil {
		last = summary.LastInteraction.Format(memory.TimestampLayout)
	}

	return fmt.Sprintf("Conversation Status:\n"+
		"• Total Exchanges: %d\n"+
		"• Last Interaction: %s\n"+
		"• Memory Size: %.2f KB\n"+
		"• Context Length: %d characters",
		summary.ExchangeCount, last, float64(summary.SizeBytes)/1024, summary.ContextLength)
}

func (r *Router) prompt(ctx context.Context, _ string, args string) string {
	if args == "" {
		return "Current system prompt:\n\n" + r.prompts.SystemPrompt()
	}
	if err := r.prompts.Set(args); err != nil {
		r.logger.ErrorContext(ctx, "Failed to update system prompt", slog.Any("error", err))
		return PromptFailedReply
	}
	return PromptSavedReply
}

func (r *Router) help(context.Context, string, string) string {
	p := r.prefix
	return "Available commands:\n" +
		p + "clear or " + p + "reset - Clear conversation memory\n" +
		p + "status - Show conversation statistics\n" +
		p + "prompt - Show current system prompt\n" +
		p + "prompt <new prompt> - Update system prompt\n" +
		p + "help - Show this help message"
}
