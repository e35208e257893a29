package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Veraticus/confidant/internal/storage"
)

// DefaultSystemPrompt is written to the prompt file when none exists.
const DefaultSystemPrompt = `You are having a casual conversation with a friend. Keep the following in mind:

- Be natural and conversational
- Keep responses concise and casual
- If you don't know something, just say so
- Stay on topic and be genuine`

const promptDebounce = 500 * time.Millisecond

// LoadSystemPrompt loads a system prompt from the specified file path.
// It validates that the file exists and contains a non-empty prompt.
func LoadSystemPrompt(path string) (string, error) {
	content, err := os.ReadFile(path) // #nosec G304 - Path comes from config and is expected to be dynamic
	if errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("system prompt file not found: %s", path)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read system prompt: %w", err)
	}

	prompt := string(content)
	if err := ValidateSystemPrompt(prompt); err != nil {
		return "", err
	}
	return prompt, nil
}

// ValidateSystemPrompt ensures the system prompt is valid.
// A valid prompt must be non-empty after trimming whitespace.
func ValidateSystemPrompt(prompt string) error {
	if strings.TrimSpace(prompt) == "" {
		return fmt.Errorf("system prompt is empty")
	}
	return nil
}

// PromptStore holds the current system prompt, backed by a file that can be
// replaced through Set or edited on disk while the service runs.
type PromptStore struct {
	path     string
	current  atomic.Pointer[string]
	writeMu  sync.Mutex
	onChange []func(string)
	watcher  *fsnotify.Watcher
	logger   *slog.Logger
}

// NewPromptStore loads the prompt at path, creating it with
// DefaultSystemPrompt when it does not exist yet.
func NewPromptStore(path string, logger *slog.Logger) (*PromptStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &PromptStore{
		path:   path,
		logger: logger.With(slog.String("component", "config.prompt")),
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := storage.WriteFileAtomic(path, []byte(DefaultSystemPrompt)); err != nil {
			return nil, fmt.Errorf("failed to write default system prompt: %w", err)
		}
		s.logger.Info("Created default system prompt", slog.String("path", path))
	}

	prompt, err := LoadSystemPrompt(path)
	if err != nil {
		return nil, err
	}
	s.current.Store(&prompt)
	return s, nil
}

// SystemPrompt returns the current prompt.
func (s *PromptStore) SystemPrompt() string {
	if p := s.current.Load(); p != nil {
		return *p
	}
	return DefaultSystemPrompt
}

// Path returns the backing file path.
func (s *PromptStore) Path() string {
	return s.path
}

// Set validates and persists a new prompt. It applies to sessions primed
// after the call.
func (s *PromptStore) Set(prompt string) error {
	if err := ValidateSystemPrompt(prompt); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := storage.WriteFileAtomic(s.path, []byte(prompt)); err != nil {
		return fmt.Errorf("failed to save system prompt: %w", err)
	}
	s.store(prompt)
	return nil
}

// OnChange registers a callback run after the prompt changes.
func (s *PromptStore) OnChange(fn func(string)) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.onChange = append(s.onChange, fn)
}

// Watch reloads the prompt whenever the file changes on disk, until ctx is
// done. The directory is watched so atomic replacements are seen.
func (s *PromptStore) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create prompt watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch prompt directory: %w", err)
	}
	s.watcher = watcher

	go s.watchLoop(ctx)
	return nil
}

func (s *PromptStore) watchLoop(ctx context.Context) {
	var debounceTimer *time.Timer
	target := filepath.Clean(s.path)

	for {
		select {
		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			_ = s.watcher.Close()
			return

		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(promptDebounce, s.reload)
			}

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Error("Prompt watcher error", slog.Any("error", err))
		}
	}
}

func (s *PromptStore) reload() {
	prompt, err := LoadSystemPrompt(s.path)
	if err != nil {
		s.logger.Warn("Failed to reload system prompt, keeping current", slog.Any("error", err))
		return
	}
	if prompt == s.SystemPrompt() {
		return
	}

	s.writeMu.Lock()
	s.store(prompt)
	s.writeMu.Unlock()
	s.logger.Info("System prompt reloaded", slog.String("path", s.path))
}

// store swaps in prompt and notifies listeners. Callers hold writeMu.
func (s *PromptStore) store(prompt string) {
	s.current.Store(&prompt)
	for _, fn := range s.onChange {
		fn(prompt)
	}
}
