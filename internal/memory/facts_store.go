package memory

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/patrickmn/go-cache"

	"github.com/Veraticus/confidant/internal/facts"
	"github.com/Veraticus/confidant/internal/keyed"
	"github.com/Veraticus/confidant/internal/metrics"
	"github.com/Veraticus/confidant/internal/storage"
)

// DefaultFactsCacheTTL is how long a loaded fact record stays cached.
const DefaultFactsCacheTTL = 10 * time.Minute

// FactStore persists one facts.UserFacts record per user as JSON. Reads go
// through an in-memory cache that every write invalidates.
type FactStore struct {
	layout *storage.Layout
	cache  *cache.Cache
	locks  *keyed.Mutex
	logger *slog.Logger
}

// NewFactStore creates a fact store over layout. A ttl of zero uses
// DefaultFactsCacheTTL.
func NewFactStore(layout *storage.Layout, ttl time.Duration) *FactStore {
	if ttl <= 0 {
		ttl = DefaultFactsCacheTTL
	}
	return &FactStore{
		layout: layout,
		cache:  cache.New(ttl, ttl*2),
		locks:  keyed.NewMutex(),
		logger: slog.Default().With(slog.String("component", "memory.facts")),
	}
}

// SetLogger replaces the store's logger.
func (s *FactStore) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger.With(slog.String("component", "memory.facts"))
	}
}

// Load returns the user's facts, or the zero record when none are stored or
// the stored record cannot be read.
func (s *FactStore) Load(userID string) facts.UserFacts {
	if cached, ok := s.cache.Get(userID); ok {
		if f, ok := cached.(facts.UserFacts); ok {
			return f.Clone()
		}
	}

	path, err := s.layout.FactsPath(userID)
	if err != nil {
		s.storageFailure("load", userID, err)
		return emptyFacts()
	}

	unlock := s.locks.Lock(userID)
	defer unlock()

	data, err := os.ReadFile(path) // #nosec G304 - path is built by Layout
	if errors.Is(err, os.ErrNotExist) {
		return emptyFacts()
	}
	if err != nil {
		s.storageFailure("load", userID, err)
		return emptyFacts()
	}

	var f facts.UserFacts
	if err := json.Unmarshal(data, &f); err != nil {
		s.storageFailure("load", userID, fmt.Errorf("corrupt fact record: %w", err))
		return emptyFacts()
	}
	if f.Topics == nil {
		f.Topics = []string{}
	}

	s.cache.Set(userID, f.Clone(), cache.DefaultExpiration)
	return f
}

// Save writes the user's facts atomically. Failures are logged and absorbed.
func (s *FactStore) Save(userID string, f facts.UserFacts) {
	path, err := s.layout.FactsPath(userID)
	if err != nil {
		s.storageFailure("save", userID, err)
		return
	}

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		s.storageFailure("save", userID, fmt.Errorf("failed to marshal facts: %w", err))
		return
	}

	unlock := s.locks.Lock(userID)
	defer unlock()

	s.cache.Delete(userID)
	if err := storage.WriteFileAtomic(path, data); err != nil {
		s.storageFailure("save", userID, err)
		return
	}
	s.cache.Set(userID, f.Clone(), cache.DefaultExpiration)
}

// Delete removes the user's fact record.
func (s *FactStore) Delete(userID string) error {
	path, err := s.layout.FactsPath(userID)
	if err != nil {
		return err
	}

	unlock := s.locks.Lock(userID)
	defer unlock()

	s.cache.Delete(userID)
	return storage.RemoveIfExists(path)
}

func (s *FactStore) storageFailure(op, userID string, err error) {
	metrics.StorageFailures.WithLabelValues("facts_" + op).Inc()
	s.logger.Error("Fact storage failure",
		slog.String("op", op),
		slog.String("user_id", userID),
		slog.Any("error", err),
	)
}

func emptyFacts() facts.UserFacts {
	return facts.UserFacts{Topics: []string{}}
}
