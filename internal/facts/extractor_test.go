package facts_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/confidant/internal/facts"
)

var fixedNow = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

func newExtractor() *facts.Extractor {
	return facts.NewExtractor(facts.WithClock(func() time.Time { return fixedNow }))
}

func TestExtractFields(t *testing.T) {
	tests := []struct {
		name     string
		message  string
		wantName string
		wantAge  int
		wantLoc  string
		wantTop  string
	}{
		{name: "introduction", message: "Hi, I'm Alex and I live in Denver", wantName: "Alex", wantLoc: "Denver"},
		{name: "my name is", message: "my name is jordan.", wantName: "Jordan"},
		{name: "call me", message: "Please call me Sam!", wantName: "Sam"},
		{name: "name's", message: "The name's Bond", wantName: "Bond"},
		{name: "that's my name", message: "Riley, that's my name", wantName: "Riley"},
		{name: "curly apostrophe", message: "I’m Noor", wantName: "Noor"},
		{name: "age", message: "I am 34 years old", wantAge: 34},
		{name: "age contraction", message: "I'm 29 years old", wantAge: 29},
		{name: "from is not a name", message: "I'm from Lisbon, Portugal.", wantLoc: "Lisbon, Portugal"},
		{name: "reside", message: "I reside in Kyoto", wantLoc: "Kyoto"},
		{name: "bare from proper noun", message: "Greetings from Oslo!", wantLoc: "Oslo"},
		{name: "bare from lowercase ignored", message: "I got a letter from my mom"},
		{name: "topic", message: "Let's keep talking about sourdough baking. It's fun", wantTop: "sourdough baking"},
		{name: "feeling words ignored", message: "I'm tired today"},
	}

	e := newExtractor()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.Extract(tt.message, facts.UserFacts{})
			assert.Equal(t, tt.wantName, got.Name)
			assert.Equal(t, tt.wantAge, got.Age)
			assert.Equal(t, tt.wantLoc, got.Location)
			assert.Equal(t, tt.wantTop, got.LastTopic)
			assert.Equal(t, 1, got.MessageCount)
			assert.Equal(t, fixedNow, got.LastInteraction)
		})
	}
}

func TestExtractFactsAreSticky(t *testing.T) {
	e := newExtractor()
	existing := facts.UserFacts{Name: "Sam", Age: 40, Location: "Austin", MessageCount: 7}

	got := e.Extract("what's the weather", existing)

	assert.Equal(t, "Sam", got.Name)
	assert.Equal(t, 40, got.Age)
	assert.Equal(t, "Austin", got.Location)
	assert.Equal(t, 8, got.MessageCount)
	assert.Equal(t, 7, existing.MessageCount, "input must not be mutated")
}

func TestExtractLastNameWins(t *testing.T) {
	e := newExtractor()

	got := e.Extract("My name is Chris. Actually, call me Kit", facts.UserFacts{})
	assert.Equal(t, "Kit", got.Name)

	got = e.Extract("I'm Ana, well I'm Bea", facts.UserFacts{})
	assert.Equal(t, "Bea", got.Name)
}

func TestExtractInvalidAgeIgnored(t *testing.T) {
	got := newExtractor().Extract("I am 999 years old", facts.UserFacts{Age: 20})
	assert.Equal(t, 20, got.Age)
}

func TestExtractTopics(t *testing.T) {
	e := newExtractor()
	f := facts.UserFacts{}

	f = e.Extract("I want to talk about chess", f)
	f = e.Extract("still about chess", f)
	f = e.Extract("regarding go openings", f)

	assert.Equal(t, []string{"chess", "go openings"}, f.Topics)
	assert.Equal(t, "go openings", f.LastTopic)
	assert.Equal(t, 3, f.MessageCount)
}

func TestExtractTopicsBounded(t *testing.T) {
	e := newExtractor()
	f := facts.UserFacts{}
	for i := range facts.MaxTopics + 5 {
		f = e.Extract("about topic "+string(rune('a'+i)), f)
	}
	require.Len(t, f.Topics, facts.MaxTopics)
	assert.Equal(t, "topic f", f.Topics[0])
}

func TestExtractEmptyMessage(t *testing.T) {
	got := newExtractor().Extract("", facts.UserFacts{})
	assert.Equal(t, 1, got.MessageCount)
	assert.NotNil(t, got.Topics)
}

func TestExtractCustomRules(t *testing.T) {
	rules := facts.Rules()[:1]
	e := facts.NewExtractor(facts.WithRules(rules))

	got := e.Extract("I'm Alex and I live in Denver", facts.UserFacts{})
	assert.Empty(t, got.Name)
	assert.Empty(t, got.Location)
}

func TestRulesHaveOneCaptureGroup(t *testing.T) {
	for _, rule := range facts.Rules() {
		assert.Equal(t, 1, rule.Pattern.NumSubexp(), rule.Name)
	}
}
