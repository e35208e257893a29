package session_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/confidant/internal/mocks"
	"github.com/Veraticus/confidant/internal/ollama"
	"github.com/Veraticus/confidant/internal/session"
)

type staticPrompt string

func (p staticPrompt) SystemPrompt() string { return string(p) }

type recordingSleeper struct {
	mu    sync.Mutex
	waits []time.Duration
	err   error
}

func (r *recordingSleeper) Sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.waits = append(r.waits, d)
	return r.err
}

func newCoordinator(t *testing.T, backend ollama.Backend, opts ...session.Option) (*session.Coordinator, *recordingSleeper) {
	t.Helper()
	sleeper := &recordingSleeper{}
	opts = append([]session.Option{session.WithSleeper(sleeper.Sleep)}, opts...)
	c, err := session.NewCoordinator(backend, staticPrompt("be kind"), "test-model", opts...)
	require.NoError(t, err)
	return c, sleeper
}

func TestNewCoordinatorValidation(t *testing.T) {
	backend := mocks.NewScriptedBackend()

	_, err := session.NewCoordinator(nil, staticPrompt("p"), "m")
	require.Error(t, err)
	_, err = session.NewCoordinator(backend, nil, "m")
	require.Error(t, err)
	_, err = session.NewCoordinator(backend, staticPrompt("p"), "")
	require.Error(t, err)
	_, err = session.NewCoordinator(backend, staticPrompt("p"), "m", session.WithRetryPolicy(session.RetryPolicy{MaxAttempts: 0}))
	require.Error(t, err)
	_, err = session.NewCoordinator(backend, staticPrompt("p"), "m", session.WithSleeper(nil))
	require.Error(t, err)
}

func TestGetOrCreateIsAtomic(t *testing.T) {
	c, _ := newCoordinator(t, mocks.NewScriptedBackend())

	const workers = 50
	got := make([]*session.Session, workers)
	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got[i] = c.GetOrCreate("alice", "")
		}()
	}
	wg.Wait()

	for _, s := range got {
		assert.Same(t, got[0], s)
	}
	assert.Equal(t, session.StateUninitialized, got[0].State())
	assert.Equal(t, "test-model", got[0].Model())
	assert.NotEmpty(t, got[0].ID())
	assert.Equal(t, 1, c.Stats()["total"])
}

func TestInitializeAndSend(t *testing.T) {
	backend := mocks.NewScriptedBackend()
	backend.AddReply("primed").AddReply("hello!").AddReply("second")
	c, _ := newCoordinator(t, backend)
	ctx := context.Background()

	s := c.GetOrCreate("bob", "")
	require.NoError(t, c.Initialize(ctx, s, "system prompt"))
	assert.Equal(t, session.StateReady, s.State())
	require.NoError(t, c.Initialize(ctx, s, "system prompt"), "initializing a ready session is a no-op")

	calls := backend.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, []ollama.Message{{Role: ollama.RoleSystem, Content: "system prompt"}}, calls[0].Request.Messages)
	assert.Equal(t, "test-model", calls[0].Request.Model)

	reply, err := c.Send(ctx, s, "hi")
	require.NoError(t, err)
	assert.Equal(t, "hello!", reply)

	_, err = c.Send(ctx, s, "again")
	require.NoError(t, err)

	calls = backend.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, []ollama.Message{
		{Role: ollama.RoleSystem, Content: "system prompt"},
		{Role: ollama.RoleUser, Content: "hi"},
		{Role: ollama.RoleAssistant, Content: "hello!"},
		{Role: ollama.RoleUser, Content: "again"},
	}, calls[2].Request.Messages)
	assert.Len(t, s.Turns(), 5)
}

func TestSendRequiresReady(t *testing.T) {
	c, _ := newCoordinator(t, mocks.NewScriptedBackend())
	s := c.GetOrCreate("carol", "")

	_, err := c.Send(context.Background(), s, "hi")
	require.Error(t, err)
	assert.True(t, session.IsStateError(err))
}

func TestInitializeRejectsEmptyPrompt(t *testing.T) {
	c, _ := newCoordinator(t, mocks.NewScriptedBackend())
	err := c.Initialize(context.Background(), c.GetOrCreate("u", ""), "   ")
	require.ErrorIs(t, err, session.ErrEmptyPrompt)
}

func TestInitializeFailureLeavesUninitialized(t *testing.T) {
	backend := mocks.NewScriptedBackend()
	backend.AddScript(mocks.ScriptedResponse{NoMessage: true})
	c, _ := newCoordinator(t, backend)
	s := c.GetOrCreate("u", "")

	err := c.Initialize(context.Background(), s, "p")
	require.Error(t, err)
	assert.True(t, ollama.IsProtocolError(err))
	assert.Equal(t, session.StateUninitialized, s.State())
	assert.Empty(t, s.Turns())
}

func TestSendMissingMessageRollsBack(t *testing.T) {
	backend := mocks.NewScriptedBackend()
	backend.AddReply("primed").AddScript(mocks.ScriptedResponse{NoMessage: true})
	c, _ := newCoordinator(t, backend)
	ctx := context.Background()
	s := c.GetOrCreate("dan", "")
	require.NoError(t, c.Initialize(ctx, s, "p"))

	_, err := c.Send(ctx, s, "hi")
	require.Error(t, err)
	assert.True(t, ollama.IsProtocolError(err))
	assert.Len(t, s.Turns(), 1)
	assert.Equal(t, session.StateReady, s.State())
}

func TestResetClearsHistory(t *testing.T) {
	c, _ := newCoordinator(t, mocks.NewScriptedBackend())
	ctx := context.Background()
	s := c.GetOrCreate("eve", "")
	require.NoError(t, c.Initialize(ctx, s, "p"))

	c.Reset(s)
	assert.Equal(t, session.StateUninitialized, s.State())
	assert.Empty(t, s.Turns())
	assert.Equal(t, 1, s.Generation())

	_, err := c.Send(ctx, s, "hi")
	assert.True(t, session.IsStateError(err))

	assert.True(t, c.ResetUser("eve"))
	assert.False(t, c.ResetUser("nobody"))
}

func TestDoRetriesThenGivesUp(t *testing.T) {
	transport := &ollama.TransportError{Err: errors.New("connection refused")}
	backend := mocks.NewScriptedBackend(mocks.WithFallbackError(transport))
	c, sleeper := newCoordinator(t, backend)

	_, err := c.Do(context.Background(), "frank", "hello")
	require.Error(t, err)

	var retryErr *session.RetryError
	require.ErrorAs(t, err, &retryErr)
	assert.Equal(t, 3, retryErr.Attempts)
	assert.ErrorIs(t, err, session.ErrRetriesExhausted)
	assert.True(t, ollama.IsTransportError(err))

	assert.Equal(t, 3, backend.CallCount())
	assert.Equal(t, []time.Duration{time.Second, time.Second}, sleeper.waits)

	s, ok := c.Lookup("frank")
	require.True(t, ok)
	assert.Equal(t, 3, s.Generation())
	assert.Equal(t, session.StateUninitialized, s.State())
}

func TestDoRecoversAfterFailure(t *testing.T) {
	backend := mocks.NewScriptedBackend()
	backend.
		AddReply("primed").
		AddError(&ollama.TransportError{StatusCode: 503, Err: errors.New("busy")}).
		AddReply("primed again").
		AddReply("finally")
	c, sleeper := newCoordinator(t, backend)

	reply, err := c.Do(context.Background(), "gina", "hello")
	require.NoError(t, err)
	assert.Equal(t, "finally", reply)
	assert.Len(t, sleeper.waits, 1)
	assert.Equal(t, 4, backend.CallCount())

	calls := backend.Calls()
	assert.Equal(t, ollama.RoleSystem, calls[2].Request.Messages[0].Role, "session was re-primed after reset")
}

func TestDoReusesReadySession(t *testing.T) {
	backend := mocks.NewScriptedBackend(mocks.WithFallback("reply"))
	c, _ := newCoordinator(t, backend)
	ctx := context.Background()

	_, err := c.Do(ctx, "hal", "one")
	require.NoError(t, err)
	_, err = c.Do(ctx, "hal", "two")
	require.NoError(t, err)

	assert.Equal(t, 3, backend.CallCount(), "one priming call then one call per message")
	require.NoError(t, backend.ExpectContentContains("be kind"))
}

func TestCoordinatorInfo(t *testing.T) {
	created := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	now := created
	backend := mocks.NewScriptedBackend(mocks.WithFallback("reply"))
	c, _ := newCoordinator(t, backend, session.WithClock(func() time.Time { return now }))

	_, ok := c.Info("hal")
	assert.False(t, ok)

	c.GetOrCreate("hal", "")
	now = created.Add(time.Minute)
	_, err := c.Do(context.Background(), "hal", "one")
	require.NoError(t, err)

	info, ok := c.Info("hal")
	require.True(t, ok)
	assert.NotEmpty(t, info.ID)
	assert.Equal(t, "test-model", info.Model)
	assert.Equal(t, "ready", info.State)
	assert.Equal(t, 3, info.Turns)
	assert.Zero(t, info.Generation)
	assert.Equal(t, created, info.CreatedAt)
	assert.Equal(t, now, info.LastUsed)
}

func TestDoDoesNotRetryStateErrors(t *testing.T) {
	backend := mocks.NewScriptedBackend()
	var c *session.Coordinator
	backend.AddScript(mocks.ScriptedResponse{
		Content: "primed",
		BeforeReturn: func(ollama.ChatRequest) {
			c.ResetUser("ivy")
		},
	})
	c, sleeper := newCoordinator(t, backend)

	_, err := c.Do(context.Background(), "ivy", "hi")
	require.Error(t, err)
	assert.True(t, session.IsStateError(err))
	assert.Equal(t, 1, backend.CallCount())
	assert.Empty(t, sleeper.waits)
}

func TestDoDoesNotRetryEmptyPrompt(t *testing.T) {
	backend := mocks.NewScriptedBackend()
	sleeper := &recordingSleeper{}
	c, err := session.NewCoordinator(backend, staticPrompt("  "), "test-model", session.WithSleeper(sleeper.Sleep))
	require.NoError(t, err)

	_, err = c.Do(context.Background(), "kim", "hi")
	require.ErrorIs(t, err, session.ErrEmptyPrompt)
	assert.Zero(t, backend.CallCount())
	assert.Empty(t, sleeper.waits)

	s, ok := c.Lookup("kim")
	require.True(t, ok)
	assert.Equal(t, session.StateUninitialized, s.State())
}

func TestDoStopsWhenContextCanceled(t *testing.T) {
	backend := mocks.NewScriptedBackend(mocks.WithFallbackError(&ollama.TransportError{Err: errors.New("down")}))
	c, sleeper := newCoordinator(t, backend)
	sleeper.err = context.Canceled

	_, err := c.Do(context.Background(), "jack", "hi")
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, backend.CallCount())
}

func TestExpireIdleAndCleanup(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	c, _ := newCoordinator(t, mocks.NewScriptedBackend(), session.WithClock(clock))

	c.GetOrCreate("old", "")
	mu.Lock()
	now = now.Add(time.Hour)
	mu.Unlock()
	c.GetOrCreate("new", "")

	cleanup := session.NewCleanupService(c, time.Minute, 30*time.Minute)
	assert.Equal(t, 1, cleanup.Sweep(context.Background()))

	_, ok := c.Lookup("old")
	assert.False(t, ok)
	_, ok = c.Lookup("new")
	assert.True(t, ok)
}

func TestCleanupServiceLifecycle(t *testing.T) {
	c, _ := newCoordinator(t, mocks.NewScriptedBackend())
	cleanup := session.NewCleanupService(c, 5*time.Millisecond, time.Minute)

	require.NoError(t, cleanup.Start(context.Background()))
	require.NoError(t, cleanup.Start(context.Background()))
	assert.True(t, cleanup.IsRunning())

	cleanup.Stop()
	assert.False(t, cleanup.IsRunning())
	cleanup.Stop()
}

func TestCanTransition(t *testing.T) {
	assert.True(t, session.CanTransition(session.StateUninitialized, session.StateInitializing))
	assert.True(t, session.CanTransition(session.StateInitializing, session.StateReady))
	assert.False(t, session.CanTransition(session.StateUninitialized, session.StateReady))
	assert.False(t, session.CanTransition(session.StateReady, session.StateInitializing))
}
