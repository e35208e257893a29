package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Veraticus/confidant/internal/facts"
	"github.com/Veraticus/confidant/internal/memory"
	"github.com/Veraticus/confidant/internal/relay"
	"github.com/Veraticus/confidant/internal/session"
)

// MessageRequest is the body of POST /api/messages.
type MessageRequest struct {
	UserID    string `json:"user_id"`
	MessageID string `json:"message_id,omitempty"`
	Text      string `json:"text"`
}

// Turn is one stored exchange in a conversation response.
type Turn struct {
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// ConversationResponse is the body of GET /api/conversations/{userID}.
// Session is omitted when the user has no live session.
type ConversationResponse struct {
	Summary memory.Summary  `json:"summary"`
	Facts   facts.UserFacts `json:"facts"`
	Recent  []Turn          `json:"recent"`
	Session *session.Info   `json:"session,omitempty"`
}

// PromptBody is the body of GET and PUT /api/prompt.
type PromptBody struct {
	Prompt string `json:"prompt"`
}

// PostMessage runs an inbound message through the relay.
func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	var req MessageRequest
	if err := decode(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	reply, err := h.deps.Relay.Process(r.Context(), relay.InboundMessage{
		ID:     req.MessageID,
		UserID: req.UserID,
		Text:   req.Text,
	})
	switch {
	case errors.Is(err, relay.ErrMissingUser):
		Error(w, http.StatusBadRequest, "user_id is required")
		return
	case errors.Is(err, relay.ErrRateLimited):
		JSON(w, http.StatusTooManyRequests, reply)
		return
	case err != nil:
		// The reply already carries a user-facing apology.
		h.logger.WarnContext(r.Context(), "Message failed",
			slog.String("user_id", req.UserID),
			slog.Any("error", err),
		)
	}
	JSON(w, http.StatusOK, reply)
}

// ListConversations summarizes every stored conversation.
func (h *Handler) ListConversations(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, h.deps.Conversations.ListAll())
}

// GetConversation returns a user's summary, facts and recent turns.
func (h *Handler) GetConversation(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	exchanges := h.deps.Conversations.Recent(userID, h.deps.RecentTurns)
	turns := make([]Turn, 0, len(exchanges))
	for _, ex := range exchanges {
		turns = append(turns, Turn{Role: ex.Role.String(), Text: ex.Text, Timestamp: ex.Timestamp})
	}

	resp := ConversationResponse{
		Summary: h.deps.Conversations.Summarize(userID),
		Facts:   h.deps.Facts.Load(userID),
		Recent:  turns,
	}
	if info, ok := h.deps.Sessions.Info(userID); ok {
		resp.Session = &info
	}
	JSON(w, http.StatusOK, resp)
}

// DeleteConversation forgets a user's conversation, facts and session. It
// waits for any message in flight for the user.
func (h *Handler) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if err := h.deps.Relay.Clear(r.Context(), userID); err != nil {
		h.logger.ErrorContext(r.Context(), "Failed to clear conversation",
			slog.String("user_id", userID),
			slog.Any("error", err),
		)
		Error(w, http.StatusInternalServerError, "failed to clear conversation")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetPrompt returns the system prompt.
func (h *Handler) GetPrompt(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, PromptBody{Prompt: h.deps.Prompts.SystemPrompt()})
}

// PutPrompt replaces the system prompt.
func (h *Handler) PutPrompt(w http.ResponseWriter, r *http.Request) {
	var body PromptBody
	if err := decode(w, r, &body); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(body.Prompt) == "" {
		Error(w, http.StatusBadRequest, "prompt cannot be empty")
		return
	}
	if err := h.deps.Prompts.Set(body.Prompt); err != nil {
		h.logger.ErrorContext(r.Context(), "Failed to update system prompt", slog.Any("error", err))
		Error(w, http.StatusInternalServerError, "failed to update prompt")
		return
	}
	JSON(w, http.StatusOK, PromptBody{Prompt: h.deps.Prompts.SystemPrompt()})
}
