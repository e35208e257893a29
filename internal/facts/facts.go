// Package facts extracts durable facts about a user (name, age, location,
// topics) from the text of their messages.
package facts

import (
	"time"
)

// MaxTopics bounds how many recent topics a fact record keeps.
const MaxTopics = 20

// UserFacts is the durable record kept per user. Name, Age and Location are
// sticky: they only change when a new message positively matches a rule.
type UserFacts struct {
	Name            string    `json:"name,omitempty"`
	Age             int       `json:"age,omitempty"`
	Location        string    `json:"location,omitempty"`
	Topics          []string  `json:"topics"`
	LastTopic       string    `json:"lastTopic,omitempty"`
	LastInteraction time.Time `json:"lastInteraction"`
	MessageCount    int       `json:"messageCount"`
}

// Clone returns a deep copy so callers can mutate the result freely.
func (f UserFacts) Clone() UserFacts {
	out := f
	if f.Topics != nil {
		out.Topics = make([]string, len(f.Topics))
		copy(out.Topics, f.Topics)
	}
	return out
}

// IsZero reports whether nothing has ever been recorded.
func (f UserFacts) IsZero() bool {
	return f.Name == "" && f.Age == 0 && f.Location == "" &&
		len(f.Topics) == 0 && f.LastTopic == "" && f.MessageCount == 0 &&
		f.LastInteraction.IsZero()
}

// Field identifies which fact a rule writes.
type Field int

const (
	// FieldName is the user's preferred name.
	FieldName Field = iota
	// FieldAge is the user's age in years.
	FieldAge
	// FieldLocation is where the user lives or comes from.
	FieldLocation
	// FieldTopic is something the user is talking about.
	FieldTopic
)

// String returns the field's record key.
func (f Field) String() string {
	switch f {
	case FieldName:
		return "name"
	case FieldAge:
		return "age"
	case FieldLocation:
		return "location"
	case FieldTopic:
		return "topic"
	default:
		return "unknown"
	}
}
