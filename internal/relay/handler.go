// Package relay runs the per-message pipeline: filtering, commands, context
// assembly, the backend call, reply cleanup and persistence.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Veraticus/confidant/internal/facts"
	"github.com/Veraticus/confidant/internal/keyed"
	"github.com/Veraticus/confidant/internal/memory"
	"github.com/Veraticus/confidant/internal/metrics"
	"github.com/Veraticus/confidant/internal/sanitize"
)

// ErrMissingUser is returned for a message without a user ID.
var ErrMissingUser = errors.New("message has no user id")

// handler implements Handler.
type handler struct {
	sessions  Sessions
	exchanges Exchanges
	facts     FactStore
	contexts  ContextBuilder
	commands  Commands
	sanitizer Sanitizer
	extractor Extractor
	recovery  *ErrorRecovery

	allowed   map[string]struct{}
	dedupSize int
	perMinute int
	burst     int
	dedup     *deduper
	limiter   *userLimiter
	locks     *keyed.Mutex

	now    func() time.Time
	logger *slog.Logger
}

// HandlerOption is a functional option for configuring a handler.
type HandlerOption func(*handler) error

// NewHandler creates a handler that sends prompts through sessions.
// Exchanges, facts and a context builder are required.
func NewHandler(sessions Sessions, opts ...HandlerOption) (Handler, error) {
	if sessions == nil {
		return nil, fmt.Errorf("handler creation failed: sessions are required")
	}

	h := &handler{
		sessions:  sessions,
		sanitizer: sanitize.New(),
		extractor: facts.NewExtractor(),
		recovery:  NewErrorRecovery(),
		dedupSize: DefaultDedupSize,
		locks:     keyed.NewMutex(),
		now:       time.Now,
		logger:    slog.Default().With(slog.String("component", "relay.handler")),
	}

	for _, opt := range opts {
		if err := opt(h); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if h.exchanges == nil {
		return nil, fmt.Errorf("handler creation failed: exchange store is required")
	}
	if h.facts == nil {
		return nil, fmt.Errorf("handler creation failed: fact store is required")
	}
	if h.contexts == nil {
		return nil, fmt.Errorf("handler creation failed: context builder is required")
	}

	var err error
	if h.dedup, err = newDeduper(h.dedupSize, h.now); err != nil {
		return nil, err
	}
	if h.limiter, err = newUserLimiter(h.perMinute, h.burst, h.now); err != nil {
		return nil, err
	}
	return h, nil
}

// WithExchanges sets the conversation log.
func WithExchanges(exchanges Exchanges) HandlerOption {
	return func(h *handler) error {
		if exchanges == nil {
			return fmt.Errorf("invalid option: exchange store cannot be nil")
		}
		h.exchanges = exchanges
		return nil
	}
}

// WithFactStore sets the fact store.
func WithFactStore(store FactStore) HandlerOption {
	return func(h *handler) error {
		if store == nil {
			return fmt.Errorf("invalid option: fact store cannot be nil")
		}
		h.facts = store
		return nil
	}
}

// WithContextBuilder sets the context builder.
func WithContextBuilder(builder ContextBuilder) HandlerOption {
	return func(h *handler) error {
		if builder == nil {
			return fmt.Errorf("invalid option: context builder cannot be nil")
		}
		h.contexts = builder
		return nil
	}
}

// WithCommands enables chat commands.
func WithCommands(commands Commands) HandlerOption {
	return func(h *handler) error {
		if commands == nil {
			return fmt.Errorf("invalid option: commands cannot be nil")
		}
		h.commands = commands
		return nil
	}
}

// WithSanitizer replaces the default sanitizer.
func WithSanitizer(sanitizer Sanitizer) HandlerOption {
	return func(h *handler) error {
		if sanitizer == nil {
			return fmt.Errorf("invalid option: sanitizer cannot be nil")
		}
		h.sanitizer = sanitizer
		return nil
	}
}

// WithExtractor replaces the default fact extractor.
func WithExtractor(extractor Extractor) HandlerOption {
	return func(h *handler) error {
		if extractor == nil {
			return fmt.Errorf("invalid option: extractor cannot be nil")
		}
		h.extractor = extractor
		return nil
	}
}

// WithAllowedUsers restricts the handler to the given users. An empty list
// allows everyone.
func WithAllowedUsers(users []string) HandlerOption {
	return func(h *handler) error {
		if len(users) == 0 {
			h.allowed = nil
			return nil
		}
		h.allowed = make(map[string]struct{}, len(users))
		for _, u := range users {
			if u = strings.TrimSpace(u); u != "" {
				h.allowed[u] = struct{}{}
			}
		}
		return nil
	}
}

// WithRateLimit allows each user perMinute messages with the given burst.
// Zero disables rate limiting.
func WithRateLimit(perMinute, burst int) HandlerOption {
	return func(h *handler) error {
		if perMinute < 0 || burst < 0 {
			return fmt.Errorf("invalid config: rate limits cannot be negative")
		}
		h.perMinute = perMinute
		h.burst = burst
		return nil
	}
}

// WithDedupSize sets how many message IDs are remembered.
func WithDedupSize(size int) HandlerOption {
	return func(h *handler) error {
		if size < 0 {
			return fmt.Errorf("invalid config: dedup size cannot be negative")
		}
		h.dedupSize = size
		return nil
	}
}

// WithClock sets the time source for deduplication and rate limiting.
func WithClock(now func() time.Time) HandlerOption {
	return func(h *handler) error {
		if now == nil {
			return fmt.Errorf("invalid option: clock cannot be nil")
		}
		h.now = now
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) HandlerOption {
	return func(h *handler) error {
		if logger == nil {
			return fmt.Errorf("invalid option: logger cannot be nil")
		}
		h.logger = logger.With(slog.String("component", "relay.handler"))
		return nil
	}
}

// Process handles one inbound message and returns the reply to deliver.
// Pipeline failures still produce a user-facing reply; the error is
// returned alongside it for logging.
func (h *handler) Process(ctx context.Context, msg InboundMessage) (Reply, error) {
	userID := strings.TrimSpace(msg.UserID)
	if userID == "" {
		metrics.MessagesProcessed.WithLabelValues(metrics.OutcomeDropped).Inc()
		return Reply{}, ErrMissingUser
	}

	if reason, ok := h.filter(userID, msg); !ok {
		metrics.MessagesProcessed.WithLabelValues(metrics.OutcomeIgnored).Inc()
		h.logger.DebugContext(ctx, "Ignoring message",
			slog.String("user_id", userID),
			slog.String("reason", reason),
		)
		return Reply{Ignored: true, Reason: reason}, nil
	}

	if !h.limiter.allow(userID) {
		h.dedup.forget(msg.ID)
		metrics.MessagesProcessed.WithLabelValues(metrics.OutcomeLimited).Inc()
		h.logger.WarnContext(ctx, "Rate limit exceeded", slog.String("user_id", userID))
		return Reply{Text: h.recovery.Message(ErrRateLimited)}, ErrRateLimited
	}

	unlock := h.locks.Lock(userID)
	defer unlock()

	if h.commands != nil {
		if res, ok := h.commands.Handle(ctx, userID, msg.Text); ok {
			metrics.MessagesProcessed.WithLabelValues(metrics.OutcomeCommand).Inc()
			return Reply{Text: res.Reply, Command: res.Name}, nil
		}
	}

	reply, err := h.converse(ctx, userID, msg.Text)
	if err != nil {
		h.dedup.forget(msg.ID)
	}
	return reply, err
}

// Clear forgets userID's conversation, facts and backend session. It takes
// the user's lock, so a reply being produced for the user is stored before
// the clear and never after it.
func (h *handler) Clear(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ErrMissingUser
	}

	unlock := h.locks.Lock(userID)
	defer unlock()

	if err := h.exchanges.Clear(userID); err != nil {
		return fmt.Errorf("clearing conversation for %s: %w", userID, err)
	}
	h.sessions.ResetUser(userID)
	h.logger.InfoContext(ctx, "Cleared user", slog.String("user_id", userID))
	return nil
}

// filter reports whether msg should be processed, and why not.
func (h *handler) filter(userID string, msg InboundMessage) (string, bool) {
	if strings.TrimSpace(msg.Text) == "" {
		return ReasonEmpty, false
	}
	if h.allowed != nil {
		if _, ok := h.allowed[userID]; !ok {
			return ReasonNotAllowed, false
		}
	}
	if h.dedup.duplicate(msg.ID) {
		return ReasonDuplicate, false
	}
	return "", true
}

// converse runs one model turn. The caller holds the user's lock.
func (h *handler) converse(ctx context.Context, userID, text string) (Reply, error) {
	start := h.now()
	known := h.facts.Load(userID)
	prompt := h.contexts.Build(userID, text)

	h.logger.DebugContext(ctx, "Processing message",
		slog.String("user_id", userID),
		slog.Int("text_length", len(text)),
		slog.Int("context_length", len(prompt)),
	)

	raw, err := h.sessions.Do(ctx, userID, prompt)
	if err != nil {
		metrics.MessagesProcessed.WithLabelValues(metrics.OutcomeFailed).Inc()
		h.logger.ErrorContext(ctx, "Message processing failed",
			slog.String("user_id", userID),
			slog.Any("error", err),
		)
		return Reply{Text: h.recovery.Message(err)}, fmt.Errorf("processing message for %s: %w", userID, err)
	}

	reply := h.sanitizer.Clean(raw, known)
	if reply == "" {
		reply = EmptyReplyFallback
	}

	h.exchanges.Append(userID, memory.RoleUser, text)
	h.exchanges.Append(userID, memory.RoleAssistant, reply)
	h.facts.Save(userID, h.extractor.Extract(text, known))

	metrics.MessagesProcessed.WithLabelValues(metrics.OutcomeReplied).Inc()
	h.logger.InfoContext(ctx, "Replied",
		slog.String("user_id", userID),
		slog.Int("reply_length", len(reply)),
		slog.Duration("duration", h.now().Sub(start)),
	)
	return Reply{Text: reply}, nil
}
