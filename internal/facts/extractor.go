package facts

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

const maxPhraseLength = 100

// Transform normalizes a captured value. Returning false discards the match.
type Transform func(capture string) (string, bool)

// Rule maps one phrasing onto one fact field. Pattern must have exactly one
// capture group.
type Rule struct {
	Name      string
	Field     Field
	Pattern   *regexp.Regexp
	Transform Transform
}

const (
	namePattern   = `([\p{L}][\p{L}\p{M}'’-]*)`
	phrasePattern = `([^.!?\n]+)`
)

// words that follow "I'm" or "call me" without being a name.
var notNames = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`a about afraid all alright also always an and asking at
		back being bored busy but curious currently doing done excited feeling fine from getting
		glad going gonna good great happy having here home hungry in interested just kinda
		learning living looking married much never new not off ok okay on only out pretty
		really sad sick single so sorry still studying sure talking the there thinking tired
		too trying very well wondering working`) {
		notNames[w] = struct{}{}
	}
}

// Rules returns the default rule set in evaluation order.
func Rules() []Rule {
	return []Rule{
		{Name: "my-name-is", Field: FieldName, Pattern: regexp.MustCompile(`(?i)\bmy name is\s+` + namePattern), Transform: normalizeName},
		{Name: "i-am", Field: FieldName, Pattern: regexp.MustCompile(`(?i)\bI['’]m\s+` + namePattern), Transform: normalizeName},
		{Name: "call-me", Field: FieldName, Pattern: regexp.MustCompile(`(?i)\bcall me\s+` + namePattern), Transform: normalizeName},
		{Name: "names", Field: FieldName, Pattern: regexp.MustCompile(`(?i)\bname['’]s\s+` + namePattern), Transform: normalizeName},
		{Name: "thats-my-name", Field: FieldName, Pattern: regexp.MustCompile(`(?i)^\s*` + namePattern + `\s*,\s*that['’]s my name\s*[.!]?\s*$`), Transform: normalizeName},

		{Name: "years-old", Field: FieldAge, Pattern: regexp.MustCompile(`(?i)\bI(?:\s+am|['’]m)\s+(\d{1,3})\s*(?:years?|yrs?)\s+old\b`), Transform: normalizeAge},

		{Name: "live-in", Field: FieldLocation, Pattern: regexp.MustCompile(`(?i)\bI live in\s+` + phrasePattern), Transform: normalizePhrase},
		{Name: "am-from", Field: FieldLocation, Pattern: regexp.MustCompile(`(?i)\bI(?:\s+am|['’]m)\s+from\s+` + phrasePattern), Transform: normalizePhrase},
		{Name: "reside-in", Field: FieldLocation, Pattern: regexp.MustCompile(`(?i)\bI reside in\s+` + phrasePattern), Transform: normalizePhrase},
		// Bare "from" only counts when a proper noun follows.
		{Name: "from", Field: FieldLocation, Pattern: regexp.MustCompile(`\b[Ff]rom\s+(\p{Lu}[^.!?\n]*)`), Transform: normalizePhrase},

		{Name: "topic", Field: FieldTopic, Pattern: regexp.MustCompile(`(?i)\b(?:talking about|discussing|regarding|about)\s+` + phrasePattern), Transform: normalizePhrase},
	}
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithRules replaces the rule set.
func WithRules(rules []Rule) Option {
	return func(e *Extractor) {
		e.rules = rules
	}
}

// WithClock sets the time source used for LastInteraction.
func WithClock(now func() time.Time) Option {
	return func(e *Extractor) {
		if now != nil {
			e.now = now
		}
	}
}

// Extractor applies an ordered rule list to user messages.
type Extractor struct {
	rules []Rule
	now   func() time.Time
}

// NewExtractor creates an extractor with the default rules.
func NewExtractor(opts ...Option) *Extractor {
	e := &Extractor{
		rules: Rules(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract returns existing updated with whatever message reveals. Within a
// rule the last match wins, and later rules override earlier ones. The
// message counter and interaction time are bumped on every call.
func (e *Extractor) Extract(message string, existing UserFacts) UserFacts {
	updated := existing.Clone()

	var topic string
	for _, rule := range e.rules {
		value, ok := lastMatch(rule, message)
		if !ok {
			continue
		}
		switch rule.Field {
		case FieldName:
			updated.Name = value
		case FieldAge:
			if age, err := strconv.Atoi(value); err == nil {
				updated.Age = age
			}
		case FieldLocation:
			updated.Location = value
		case FieldTopic:
			topic = value
		}
	}

	if topic != "" {
		updated.LastTopic = topic
		if n := len(updated.Topics); n == 0 || updated.Topics[n-1] != topic {
			updated.Topics = append(updated.Topics, topic)
		}
		if over := len(updated.Topics) - MaxTopics; over > 0 {
			updated.Topics = append([]string(nil), updated.Topics[over:]...)
		}
	}
	if updated.Topics == nil {
		updated.Topics = []string{}
	}

	updated.MessageCount++
	updated.LastInteraction = e.now()
	return updated
}

func lastMatch(rule Rule, message string) (string, bool) {
	if rule.Pattern == nil {
		return "", false
	}
	matches := rule.Pattern.FindAllStringSubmatch(message, -1)
	for i := len(matches) - 1; i >= 0; i-- {
		if len(matches[i]) < 2 {
			continue
		}
		value := matches[i][1]
		if rule.Transform != nil {
			var ok bool
			if value, ok = rule.Transform(value); !ok {
				continue
			}
		}
		if value != "" {
			return value, true
		}
	}
	return "", false
}

func normalizeName(capture string) (string, bool) {
	name := strings.Trim(capture, `'’-`)
	if name == "" {
		return "", false
	}
	if _, skip := notNames[strings.ToLower(name)]; skip {
		return "", false
	}
	r, size := utf8.DecodeRuneInString(name)
	return string(unicode.ToUpper(r)) + name[size:], true
}

func normalizeAge(capture string) (string, bool) {
	age, err := strconv.Atoi(capture)
	if err != nil || age <= 0 || age >= 150 {
		return "", false
	}
	return strconv.Itoa(age), true
}

func normalizePhrase(capture string) (string, bool) {
	phrase := strings.TrimRight(strings.TrimSpace(capture), ",;:")
	phrase = strings.TrimSpace(phrase)
	if phrase == "" {
		return "", false
	}
	if len(phrase) > maxPhraseLength {
		phrase = strings.TrimSpace(truncateRunes(phrase, maxPhraseLength))
	}
	return phrase, true
}

func truncateRunes(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
