package ollama_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/confidant/internal/ollama"
)

func newClient(t *testing.T, handler http.HandlerFunc) *ollama.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := ollama.NewClient(ollama.Config{BaseURL: srv.URL + "/", Model: "test-model", Timeout: 2 * time.Second})
	require.NoError(t, err)
	return client
}

func TestNewClientValidation(t *testing.T) {
	_, err := ollama.NewClient(ollama.Config{Model: "m"})
	require.Error(t, err)

	_, err = ollama.NewClient(ollama.Config{BaseURL: "http://localhost:11434"})
	require.Error(t, err)

	client, err := ollama.NewClient(ollama.Config{BaseURL: "http://localhost:11434", Model: "m"})
	require.NoError(t, err)
	assert.Equal(t, "m", client.Model())
}

func TestChatRequestShape(t *testing.T) {
	var got map[string]any
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/chat", r.URL.Path)
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.NoError(t, json.Unmarshal(body, &got))

		_, _ = w.Write([]byte(`{"model":"test-model","message":{"role":"assistant","content":"hello"},"done":true}`))
	})

	resp, err := client.Chat(context.Background(), ollama.ChatRequest{
		Messages: []ollama.Message{{Role: ollama.RoleSystem, Content: "be nice"}},
		Stream:   true,
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Message.Content)

	assert.Equal(t, "test-model", got["model"])
	assert.Equal(t, false, got["stream"])
	opts, ok := got["options"].(map[string]any)
	require.True(t, ok)
	assert.InDelta(t, 0.8, opts["temperature"], 1e-9)
	assert.InDelta(t, 0.9, opts["top_p"], 1e-9)
	assert.InDelta(t, 40, opts["top_k"], 1e-9)
	msgs, ok := got["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 1)
}

func TestChatErrors(t *testing.T) {
	tests := []struct {
		name         string
		handler      http.HandlerFunc
		wantTrans    bool
		wantProtocol bool
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "model not loaded", http.StatusInternalServerError)
			},
			wantTrans: true,
		},
		{
			name: "garbage body",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(`not json`))
			},
			wantProtocol: true,
		},
		{
			name: "missing message",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(`{"model":"test-model","done":true}`))
			},
			wantProtocol: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newClient(t, tt.handler)
			_, err := client.Chat(context.Background(), ollama.ChatRequest{})
			require.Error(t, err)
			assert.Equal(t, tt.wantTrans, ollama.IsTransportError(err))
			assert.Equal(t, tt.wantProtocol, ollama.IsProtocolError(err))
		})
	}
}

func TestChatUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client, err := ollama.NewClient(ollama.Config{BaseURL: url, Model: "m"})
	require.NoError(t, err)

	_, err = client.Chat(context.Background(), ollama.ChatRequest{})
	require.Error(t, err)
	assert.True(t, ollama.IsTransportError(err))
}

func TestChatCanceled(t *testing.T) {
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Chat(ctx, ollama.ChatRequest{})
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, ollama.IsTransportError(err))
}
