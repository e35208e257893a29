package config_test

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/confidant/internal/config"
)

func TestLoadSystemPrompt(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name        string
		content     *string
		want        string
		errContains string
	}{
		{name: "valid prompt", content: ptr("Be brief."), want: "Be brief."},
		{name: "multiline prompt", content: ptr("line one\nline two\n"), want: "line one\nline two\n"},
		{name: "missing file", errContains: "system prompt file not found"},
		{name: "empty file", content: ptr(""), errContains: "system prompt is empty"},
		{name: "whitespace only", content: ptr(" \n\t "), errContains: "system prompt is empty"},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, "prompt"+string(rune('a'+i))+".txt")
			if tt.content != nil {
				require.NoError(t, os.WriteFile(path, []byte(*tt.content), 0o600))
			}

			got, err := config.LoadSystemPrompt(path)
			if tt.errContains != "" {
				require.ErrorContains(t, err, tt.errContains)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPromptStoreCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "prompt.txt")

	store, err := config.NewPromptStore(path, nil)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultSystemPrompt, store.SystemPrompt())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultSystemPrompt, string(data))
}

func TestPromptStoreKeepsExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompt.txt")
	require.NoError(t, os.WriteFile(path, []byte("Custom prompt"), 0o600))

	store, err := config.NewPromptStore(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "Custom prompt", store.SystemPrompt())
}

func TestPromptStoreRejectsEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompt.txt")
	require.NoError(t, os.WriteFile(path, []byte("  "), 0o600))

	_, err := config.NewPromptStore(path, nil)
	require.Error(t, err)
}

func TestPromptStoreSet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompt.txt")
	store, err := config.NewPromptStore(path, nil)
	require.NoError(t, err)

	var notified atomic.Value
	store.OnChange(func(p string) { notified.Store(p) })

	require.NoError(t, store.Set("Talk like a pirate"))
	assert.Equal(t, "Talk like a pirate", store.SystemPrompt())
	assert.Equal(t, "Talk like a pirate", notified.Load())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "Talk like a pirate", string(data))

	require.Error(t, store.Set("   "))
	assert.Equal(t, "Talk like a pirate", store.SystemPrompt())
}

func TestPromptStoreWatchReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompt.txt")
	store, err := config.NewPromptStore(path, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, store.Watch(ctx))

	require.NoError(t, os.WriteFile(path, []byte("Edited on disk"), 0o600))

	assert.Eventually(t, func() bool {
		return store.SystemPrompt() == "Edited on disk"
	}, 5*time.Second, 20*time.Millisecond)
}

func ptr(s string) *string { return &s }
