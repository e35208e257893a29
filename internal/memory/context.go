package memory

import (
	"fmt"
	"strings"

	"github.com/Veraticus/confidant/internal/facts"
)

// FactLoader is the read side of the fact store.
type FactLoader interface {
	Load(userID string) facts.UserFacts
}

// RecentReader is the read side of the exchange log.
type RecentReader interface {
	Recent(userID string, limit int) []Exchange
}

// ContextBuilder renders the prompt context sent to the model: known facts,
// then the last few turns, then the current message. The window is a fixed
// number of turns; long turns are not trimmed.
type ContextBuilder struct {
	exchanges   RecentReader
	facts       FactLoader
	recentTurns int
}

// NewContextBuilder creates a builder that includes the last recentTurns
// turns. Zero or less uses DefaultRecentTurns.
func NewContextBuilder(exchanges RecentReader, factLoader FactLoader, recentTurns int) *ContextBuilder {
	if recentTurns <= 0 {
		recentTurns = DefaultRecentTurns
	}
	return &ContextBuilder{
		exchanges:   exchanges,
		facts:       factLoader,
		recentTurns: recentTurns,
	}
}

// Build returns the context string for userID. Empty sections are left out.
func (b *ContextBuilder) Build(userID, currentMessage string) string {
	sections := make([]string, 0, 3)

	if preamble := FactPreamble(b.facts.Load(userID)); preamble != "" {
		sections = append(sections, preamble)
	}

	if recent := b.exchanges.Recent(userID, b.recentTurns); len(recent) > 0 {
		lines := make([]string, 0, len(recent)+1)
		lines = append(lines, "Recent conversation:")
		for _, ex := range recent {
			lines = append(lines, ex.Role.String()+": "+ex.Text)
		}
		sections = append(sections, strings.Join(lines, "\n"))
	}

	if strings.TrimSpace(currentMessage) != "" {
		sections = append(sections, "Current message:\n"+currentMessage)
	}

	return strings.Join(sections, "\n\n")
}

// Length is the size in characters of the context built with no current message.
func (b *ContextBuilder) Length(userID string) int {
	return len([]rune(b.Build(userID, "")))
}

// FactPreamble renders one sentence per known fact.
func FactPreamble(f facts.UserFacts) string {
	var parts []string
	if f.Name != "" {
		parts = append(parts, fmt.Sprintf("The user's name is %s. Always remember to use their name when appropriate.", f.Name))
	}
	if f.Age > 0 {
		parts = append(parts, fmt.Sprintf("The user is %d years old.", f.Age))
	}
	if f.Location != "" {
		parts = append(parts, fmt.Sprintf("The user lives in %s.", f.Location))
	}
	return strings.Join(parts, " ")
}
