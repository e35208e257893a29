// Package memory keeps each user's rolling conversation log and fact
// record on disk, and assembles the prompt context built from them.
package memory

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/Veraticus/confidant/internal/keyed"
	"github.com/Veraticus/confidant/internal/metrics"
	"github.com/Veraticus/confidant/internal/storage"
)

const (
	// DefaultRecentTurns is how many turns Recent returns when no limit is given.
	DefaultRecentTurns = 10

	// TimestampLayout is the local-time layout written at the start of every log line.
	TimestampLayout = "01/02/2006, 15:04:05"
)

var linePattern = regexp.MustCompile(`^\[(.*?)\] (User|AI): (.*)$`)

// Role identifies who produced a turn.
type Role int

const (
	// RoleUser is a turn written by the user.
	RoleUser Role = iota
	// RoleAssistant is a turn produced by the model.
	RoleAssistant
)

// String returns the label used in prompt context.
func (r Role) String() string {
	if r == RoleAssistant {
		return "Assistant"
	}
	return "User"
}

func (r Role) logLabel() string {
	if r == RoleAssistant {
		return "AI"
	}
	return "User"
}

// Exchange is a single stored turn.
type Exchange struct {
	Role      Role
	Text      string
	Timestamp time.Time
}

// Summary describes a user's stored conversation.
type Summary struct {
	UserID          string     `json:"userId"`
	TurnCount       int        `json:"turnCount"`
	ExchangeCount   int        `json:"totalExchanges"`
	LastInteraction *time.Time `json:"lastInteraction"`
	SizeBytes       int64      `json:"fileSize"`
	ContextLength   int        `json:"contextLength"`
}

// ContextSource reports the size of the context that would be built for a
// user right now.
type ContextSource interface {
	Length(userID string) int
}

// ExchangeStore is the append-only per-user turn log. Storage errors are
// logged and absorbed: a broken disk degrades to an empty history.
type ExchangeStore struct {
	layout  *storage.Layout
	facts   *FactStore
	context ContextSource
	locks   *keyed.Mutex
	now     func() time.Time
	logger  *slog.Logger
}

// ExchangeOption configures an ExchangeStore.
type ExchangeOption func(*ExchangeStore)

// WithClock sets the time source used to stamp new turns.
func WithClock(now func() time.Time) ExchangeOption {
	return func(s *ExchangeStore) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the store's logger.
func WithLogger(logger *slog.Logger) ExchangeOption {
	return func(s *ExchangeStore) {
		if logger != nil {
			s.logger = logger.With(slog.String("component", "memory.exchange"))
		}
	}
}

// NewExchangeStore creates a store over layout. facts is the derived fact
// record that Clear removes alongside the log; it may be nil.
func NewExchangeStore(layout *storage.Layout, facts *FactStore, opts ...ExchangeOption) *ExchangeStore {
	s := &ExchangeStore{
		layout: layout,
		facts:  facts,
		locks:  keyed.NewMutex(),
		now:    time.Now,
		logger: slog.Default().With(slog.String("component", "memory.exchange")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AttachContext wires the context source used by Summarize.
func (s *ExchangeStore) AttachContext(source ContextSource) {
	s.context = source
}

// Append writes one turn to the user's log.
func (s *ExchangeStore) Append(userID string, role Role, text string) {
	path, err := s.layout.LogPath(userID)
	if err != nil {
		s.storageFailure("append", userID, err)
		return
	}

	line := fmt.Sprintf("[%s] %s: %s", s.now().Format(TimestampLayout), role.logLabel(), escapeText(text))

	unlock := s.locks.Lock(userID)
	defer unlock()

	if err := storage.AppendLine(path, line); err != nil {
		s.storageFailure("append", userID, err)
	}
}

// Recent returns the last limit well-formed turns, oldest first. A limit of
// zero or less uses DefaultRecentTurns.
func (s *ExchangeStore) Recent(userID string, limit int) []Exchange {
	if limit <= 0 {
		limit = DefaultRecentTurns
	}

	exchanges, _, err := s.read(userID)
	if err != nil {
		s.storageFailure("read", userID, err)
		return []Exchange{}
	}
	if len(exchanges) > limit {
		exchanges = exchanges[len(exchanges)-limit:]
	}
	return exchanges
}

// Clear removes the user's log and fact record. Missing files are fine.
func (s *ExchangeStore) Clear(userID string) error {
	path, err := s.layout.LogPath(userID)
	if err != nil {
		return err
	}

	unlock := s.locks.Lock(userID)
	err = storage.RemoveIfExists(path)
	unlock()
	if err != nil {
		return fmt.Errorf("failed to clear conversation log: %w", err)
	}

	if s.facts != nil {
		if err := s.facts.Delete(userID); err != nil {
			return fmt.Errorf("failed to clear user facts: %w", err)
		}
	}

	s.logger.Info("Cleared conversation", slog.String("user_id", userID))
	return nil
}

// Summarize reports turn counts, size and context length for a user.
func (s *ExchangeStore) Summarize(userID string) Summary {
	summary := Summary{UserID: userID}

	exchanges, size, err := s.read(userID)
	if err != nil {
		s.storageFailure("summarize", userID, err)
	}

	summary.TurnCount = len(exchanges)
	summary.ExchangeCount = len(exchanges) / 2
	summary.SizeBytes = size
	if n := len(exchanges); n > 0 && !exchanges[n-1].Timestamp.IsZero() {
		ts := exchanges[n-1].Timestamp
		summary.LastInteraction = &ts
	}
	if s.context != nil {
		summary.ContextLength = s.context.Length(userID)
	}
	return summary
}

// ListAll summarizes every user with a stored log.
func (s *ExchangeStore) ListAll() []Summary {
	ids, err := s.layout.UserIDs()
	if err != nil {
		s.storageFailure("list", "", err)
		return []Summary{}
	}

	summaries := make([]Summary, 0, len(ids))
	for _, id := range ids {
		summaries = append(summaries, s.Summarize(id))
	}
	return summaries
}

// read parses the whole log, skipping malformed lines.
func (s *ExchangeStore) read(userID string) ([]Exchange, int64, error) {
	path, err := s.layout.LogPath(userID)
	if err != nil {
		return nil, 0, err
	}

	unlock := s.locks.Lock(userID)
	defer unlock()

	f, err := os.Open(path) // #nosec G304 - path is built by Layout
	if errors.Is(err, os.ErrNotExist) {
		return []Exchange{}, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open conversation log: %w", err)
	}
	defer func() { _ = f.Close() }()

	var size int64
	if info, statErr := f.Stat(); statErr == nil {
		size = info.Size()
	}

	exchanges := make([]Exchange, 0)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if ex, ok := parseLine(scanner.Text()); ok {
			exchanges = append(exchanges, ex)
		}
	}
	if err := scanner.Err(); err != nil {
		return exchanges, size, fmt.Errorf("failed to read conversation log: %w", err)
	}
	return exchanges, size, nil
}

func parseLine(line string) (Exchange, bool) {
	m := linePattern.FindStringSubmatch(strings.TrimRight(line, "\r"))
	if m == nil {
		return Exchange{}, false
	}

	role := RoleUser
	if m[2] == "AI" {
		role = RoleAssistant
	}

	// An unparseable timestamp still leaves a usable turn.
	ts, err := time.ParseInLocation(TimestampLayout, m[1], time.Local)
	if err != nil {
		ts = time.Time{}
	}

	return Exchange{Role: role, Text: unescapeText(m[3]), Timestamp: ts}, true
}

func (s *ExchangeStore) storageFailure(op, userID string, err error) {
	metrics.StorageFailures.WithLabelValues(op).Inc()
	s.logger.Error("Conversation storage failure",
		slog.String("op", op),
		slog.String("user_id", userID),
		slog.Any("error", err),
	)
}

var (
	escaper   = strings.NewReplacer(`\`, `\\`, "\n", `\n`, "\r", `\r`)
	unescaper = strings.NewReplacer(`\\`, `\`, `\n`, "\n", `\r`, "\r")
)

func escapeText(text string) string {
	return escaper.Replace(text)
}

func unescapeText(text string) string {
	return unescaper.Replace(text)
}
