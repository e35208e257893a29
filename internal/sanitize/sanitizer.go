// Package sanitize cleans model output before it is stored or delivered.
//
// Clean runs a fixed pipeline of named stages. Each stage is isolated: if a
// stage panics, its input is passed on unchanged. The result is a fixed
// point, so cleaning an already clean reply returns it unchanged.
package sanitize

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/Veraticus/confidant/internal/facts"
	"github.com/Veraticus/confidant/internal/metrics"
)

// maxPasses bounds the loop that runs the pipeline to a fixed point.
const maxPasses = 8

// Stage is one named transformation of the reply text.
type Stage struct {
	Name  string
	Apply func(text string, f facts.UserFacts) string
}

var (
	leakedInstructionPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)you are an? (?:ai|artificial intelligence|language model|helpful|friendly)\b[^\n]*`),
		regexp.MustCompile(`(?i)you always address (?:the )?users? as\b[^\n]*`),
		regexp.MustCompile(`(?i)you are having a casual conversation\b[^\n]*`),
	}
	bracketPattern    = regexp.MustCompile(`\[[^\]]*\]`)
	rolePrefixPattern = regexp.MustCompile(`(?im)^[ \t]*(?:(?:human|user|assistant|ai|friend)[ \t]*:[ \t]*)+`)
	metaWordPattern   = regexp.MustCompile(`(?i)\b(?:language model|ai|assistant|model)\b`)
	previousPattern   = regexp.MustCompile(`(?i)previous response:[ \t]*`)
	spaceRunPattern   = regexp.MustCompile(`[ \t]+`)
	orphanPunctuation = regexp.MustCompile(` +([,.!?;:])`)
	sentenceSplit     = regexp.MustCompile(`[.!?]+(?:\s+|$)`)
	secondPerson      = regexp.MustCompile(`(?i)\byour?\b`)
)

// Sanitizer cleans replies.
type Sanitizer struct {
	scrub  []Stage
	finish []Stage
	logger *slog.Logger
}

// New creates a sanitizer with the standard pipeline.
func New() *Sanitizer {
	return &Sanitizer{
		scrub: []Stage{
			{Name: "leaked_instructions", Apply: stripLeakedInstructions},
			{Name: "artifacts", Apply: stripArtifacts},
			{Name: "meta_words", Apply: stripMetaWords},
			{Name: "previous_response", Apply: stripPreviousLabels},
			{Name: "whitespace", Apply: normalizeWhitespace},
		},
		finish: []Stage{
			{Name: "name", Apply: injectName},
			{Name: "dedupe", Apply: dedupeSentences},
			{Name: "terminal_punctuation", Apply: ensureTerminalPunctuation},
		},
		logger: slog.Default().With(slog.String("component", "sanitize")),
	}
}

// SetLogger replaces the sanitizer's logger.
func (s *Sanitizer) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger.With(slog.String("component", "sanitize"))
	}
}

// Stages returns the stage names in execution order.
func (s *Sanitizer) Stages() []string {
	names := make([]string, 0, len(s.scrub)+len(s.finish))
	for _, st := range s.scrub {
		names = append(names, st.Name)
	}
	for _, st := range s.finish {
		names = append(names, st.Name)
	}
	return names
}

// Clean returns raw with leaked prompt text, role artifacts and repeated
// sentences removed, personalized with the user's name where it fits.
func (s *Sanitizer) Clean(raw string, f facts.UserFacts) string {
	text := raw
	for range maxPasses {
		before := text
		for _, st := range s.scrub {
			text = s.run(st, text, f)
		}
		// Joining sentences can bring scrubbable text together again.
		for _, st := range s.finish {
			text = s.run(st, text, f)
		}
		if text == before {
			break
		}
	}
	return text
}

func (s *Sanitizer) run(st Stage, text string, f facts.UserFacts) (out string) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Sanitizer stage panicked",
				slog.String("stage", st.Name),
				slog.Any("panic", r),
			)
			out = text
		}
	}()

	out = st.Apply(text, f)
	if out != text {
		metrics.SanitizerStageChanges.WithLabelValues(st.Name).Inc()
	}
	return out
}

func stripLeakedInstructions(text string, _ facts.UserFacts) string {
	for _, p := range leakedInstructionPatterns {
		text = p.ReplaceAllString(text, "")
	}
	return text
}

func stripArtifacts(text string, _ facts.UserFacts) string {
	text = bracketPattern.ReplaceAllString(text, "")
	return rolePrefixPattern.ReplaceAllString(text, "")
}

func stripMetaWords(text string, _ facts.UserFacts) string {
	return metaWordPattern.ReplaceAllString(text, "")
}

func stripPreviousLabels(text string, _ facts.UserFacts) string {
	return previousPattern.ReplaceAllString(text, "")
}

func normalizeWhitespace(text string, _ facts.UserFacts) string {
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		line = spaceRunPattern.ReplaceAllString(line, " ")
		line = orphanPunctuation.ReplaceAllString(line, "$1")
		line = strings.TrimSpace(strings.TrimLeft(line, ",;: "))
		if line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

func injectName(text string, f facts.UserFacts) string {
	name := strings.TrimSpace(f.Name)
	if text == "" || name == "" {
		return text
	}
	// A name the scrub stages would remove cannot be injected stably.
	if metaWordPattern.MatchString(name) || bracketPattern.MatchString(name) {
		return text
	}
	if strings.Contains(strings.ToLower(text), strings.ToLower(name)) {
		return text
	}
	if secondPerson.MatchString(text) {
		return text
	}
	return name + ", " + text
}

func dedupeSentences(text string, _ facts.UserFacts) string {
	parts := sentenceSplit.Split(text, -1)
	seen := make(map[string]struct{}, len(parts))
	sentences := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(part), ",;:"))
		if part == "" {
			continue
		}
		if _, dup := seen[part]; dup {
			continue
		}
		seen[part] = struct{}{}
		sentences = append(sentences, part)
	}
	return strings.Join(sentences, ". ")
}

func ensureTerminalPunctuation(text string, _ facts.UserFacts) string {
	if text == "" {
		return text
	}
	switch text[len(text)-1] {
	case '.', '!', '?':
		return text
	default:
		return text + "."
	}
}
