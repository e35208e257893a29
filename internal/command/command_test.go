package command_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/confidant/internal/command"
	"github.com/Veraticus/confidant/internal/memory"
)

type fakeMemory struct {
	cleared  []string
	clearErr error
	summary  memory.Summary
}

func (f *fakeMemory) Clear(userID string) error {
	f.cleared = append(f.cleared, userID)
	return f.clearErr
}

func (f *fakeMemory) Summarize(userID string) memory.Summary {
	s := f.summary
	s.UserID = userID
	return s
}

type fakeSessions struct{ reset []string }

func (f *fakeSessions) ResetUser(userID string) bool {
	f.reset = append(f.reset, userID)
	return true
}

type fakePrompts struct {
	prompt string
	setErr error
}

func (f *fakePrompts) SystemPrompt() string { return f.prompt }

func (f *fakePrompts) Set(p string) error {
	if f.setErr != nil {
		return f.setErr
	}
	f.prompt = p
	return nil
}

func newRouter(t *testing.T, opts ...command.Option) (*command.Router, *fakeMemory, *fakeSessions, *fakePrompts) {
	t.Helper()
	mem := &fakeMemory{}
	sessions := &fakeSessions{}
	prompts := &fakePrompts{prompt: "Be nice."}
	r, err := command.NewRouter(mem, sessions, prompts, opts...)
	require.NoError(t, err)
	return r, mem, sessions, prompts
}

func TestNewRouterValidation(t *testing.T) {
	_, err := command.NewRouter(nil, &fakeSessions{}, &fakePrompts{})
	require.Error(t, err)
	_, err = command.NewRouter(&fakeMemory{}, nil, &fakePrompts{})
	require.Error(t, err)
	_, err = command.NewRouter(&fakeMemory{}, &fakeSessions{}, nil)
	require.Error(t, err)
	_, err = command.NewRouter(&fakeMemory{}, &fakeSessions{}, &fakePrompts{}, command.WithPrefix(""))
	require.Error(t, err)
}

func TestIsCommand(t *testing.T) {
	r, _, _, _ := newRouter(t)

	tests := map[string]bool{
		"/clear":        true,
		"  /status  ":   true,
		"/Help":         true,
		"/unknownthing": true,
		"/":             false,
		"/ hello":       false,
		"/42":           false,
		"hello /clear":  false,
		"":              false,
	}
	for text, want := range tests {
		assert.Equal(t, want, r.IsCommand(text), text)
	}
}

func TestClearAndReset(t *testing.T) {
	for _, text := range []string{"/clear", "/reset", "/CLEAR"} {
		t.Run(text, func(t *testing.T) {
			r, mem, sessions, _ := newRouter(t)

			res, ok := r.Handle(context.Background(), "alice", text)
			require.True(t, ok)
			assert.Equal(t, command.ClearedReply, res.Reply)
			assert.Equal(t, []string{"alice"}, mem.cleared)
			assert.Equal(t, []string{"alice"}, sessions.reset)
		})
	}
}

func TestClearFailure(t *testing.T) {
	r, mem, sessions, _ := newRouter(t)
	mem.clearErr = errors.New("disk gone")

	res, ok := r.Handle(context.Background(), "alice", "/clear")
	require.True(t, ok)
	assert.Equal(t, command.ClearFailedReply, res.Reply)
	assert.Empty(t, sessions.reset)
}

func TestStatus(t *testing.T) {
	r, mem, _, _ := newRouter(t)

	res, ok := r.Handle(context.Background(), "bob", "/status")
	require.True(t, ok)
	assert.Equal(t, "Conversation Status:\n"+
		"• Total Exchanges: 0\n"+
		"• Last Interaction: Never\n"+
		"• Memory Size: 0.00 KB\n"+
		"• Context Length: 0 characters", res.Reply)

	last := time.Date(2026, 5, 1, 18, 30, 0, 0, time.Local)
	mem.summary = memory.Summary{ExchangeCount: 3, LastInteraction: &last, SizeBytes: 2048, ContextLength: 512}
	res, _ = r.Handle(context.Background(), "bob", "/status")
	assert.Contains(t, res.Reply, "Total Exchanges: 3")
	assert.Contains(t, res.Reply, "Last Interaction: 05/01/2026, 18:30:00")
	assert.Contains(t, res.Reply, "Memory Size: 2.00 KB")
	assert.Contains(t, res.Reply, "Context Length: 512 characters")
}

func TestPrompt(t *testing.T) {
	r, _, _, prompts := newRouter(t)
	ctx := context.Background()

	res, ok := r.Handle(ctx, "carol", "/prompt")
	require.True(t, ok)
	assert.Equal(t, "Current system prompt:\n\nBe nice.", res.Reply)

	res, _ = r.Handle(ctx, "carol", "/prompt   You are a pirate.  ")
	assert.Equal(t, command.PromptSavedReply, res.Reply)
	assert.Equal(t, "You are a pirate.", prompts.prompt)

	prompts.setErr = errors.New("read-only")
	res, _ = r.Handle(ctx, "carol", "/prompt again")
	assert.Equal(t, command.PromptFailedReply, res.Reply)
}

func TestHelpAndUnknown(t *testing.T) {
	r, _, _, _ := newRouter(t, command.WithPrefix("!"))
	ctx := context.Background()

	res, ok := r.Handle(ctx, "dan", "!help")
	require.True(t, ok)
	assert.Contains(t, res.Reply, "!clear or !reset")
	assert.Contains(t, res.Reply, "!prompt <new prompt>")

	res, ok = r.Handle(ctx, "dan", "!dance now")
	require.True(t, ok)
	assert.Equal(t, "dance", res.Name)
	assert.Equal(t, "Unknown command !dance. Send !help to see the available commands.", res.Reply)

	_, ok = r.Handle(ctx, "dan", "/help")
	assert.False(t, ok)
}
