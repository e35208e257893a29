package relay

import (
	"context"
	"errors"
	"strings"

	"github.com/Veraticus/confidant/internal/ollama"
	"github.com/Veraticus/confidant/internal/session"
)

// ErrRateLimited is returned when a user sends messages faster than allowed.
var ErrRateLimited = errors.New("rate limit exceeded")

// ErrorType classifies a pipeline error for the reply shown to the user.
type ErrorType int

const (
	// ErrorTypeUnknown covers anything not classified below.
	ErrorTypeUnknown ErrorType = iota
	// ErrorTypeCanceled is a request abandoned by its caller.
	ErrorTypeCanceled
	// ErrorTypeTimeout is a request that ran out of time.
	ErrorTypeTimeout
	// ErrorTypeRateLimit is a user over their message budget.
	ErrorTypeRateLimit
	// ErrorTypeBackend is a backend that kept failing.
	ErrorTypeBackend
)

// GenericErrorReply is sent when nothing more specific applies.
const GenericErrorReply = "I encountered an error processing your message. Please try again in a moment."

// EmptyReplyFallback replaces a reply that sanitizes to nothing.
const EmptyReplyFallback = "I apologize, but I couldn't generate a proper response. Could you please try again?"

// ErrorRecovery turns errors into replies that never expose internal detail.
type ErrorRecovery struct {
	messages map[ErrorType]string
}

// NewErrorRecovery creates an ErrorRecovery with the default replies.
func NewErrorRecovery() *ErrorRecovery {
	return &ErrorRecovery{
		messages: map[ErrorType]string{
			ErrorTypeCanceled:  "The request was canceled. Please try again if you still need me.",
			ErrorTypeTimeout:   "That took too long to answer. Please try again in a moment.",
			ErrorTypeRateLimit: "You're sending messages faster than I can keep up with. Please wait a moment and try again.",
			ErrorTypeBackend:   GenericErrorReply,
			ErrorTypeUnknown:   GenericErrorReply,
		},
	}
}

// Classify determines the type of err.
func (r *ErrorRecovery) Classify(err error) ErrorType {
	switch {
	case err == nil:
		return ErrorTypeUnknown
	case errors.Is(err, ErrRateLimited):
		return ErrorTypeRateLimit
	case errors.Is(err, context.Canceled):
		return ErrorTypeCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorTypeTimeout
	case errors.Is(err, session.ErrRetriesExhausted),
		ollama.IsTransportError(err),
		ollama.IsProtocolError(err):
		return ErrorTypeBackend
	}

	if strings.Contains(strings.ToLower(err.Error()), "timeout") {
		return ErrorTypeTimeout
	}
	return ErrorTypeUnknown
}

// Message returns the reply for err.
func (r *ErrorRecovery) Message(err error) string {
	return r.messages[r.Classify(err)]
}
