package proxy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingoliang/anthropic-proxy/internal/config"
	"github.com/kingoliang/anthropic-proxy/internal/observability"
	"github.com/kingoliang/anthropic-proxy/internal/protocol/anthropic"
)

func newTestOrchestrator(t *testing.T, mutate func(*config.Config)) *Orchestrator {
	t.Helper()
	dir := t.TempDir()
	mgr, err := config.NewManager(filepath.Join(dir, "config.json"))
	require.NoError(t, err)
	if mutate != nil {
		require.NoError(t, mgr.Update(mutate))
	}
	store := observability.NewStore(100)
	return NewOrchestrator(mgr, store)
}

func TestHandleDirectNonStreaming(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		stopReason := anthropic.StopEndTurn
		_ = json.NewEncoder(w).Encode(anthropic.Reply{
			ID:         "msg_123",
			Type:       "message",
			Role:       "assistant",
			Model:      "claude-sonnet-4",
			Content:    []anthropic.ContentBlock{{Type: anthropic.BlockText, Text: "hello"}},
			StopReason: &stopReason,
			Usage:      anthropic.Usage{InputTokens: 5, OutputTokens: 3},
		})
	}))
	defer upstream.Close()

	o := newTestOrchestrator(t, func(c *config.Config) {
		c.Mode = config.ModeDirect
		c.AnthropicBaseURL = upstream.URL
	})

	body, _ := json.Marshal(map[string]interface{}{"model": "claude-sonnet-4", "messages": []interface{}{}})
	rec := httptest.NewRecorder()
	o.Handle(context.Background(), rec, InboundRequest{
		Method: "POST", Path: "/v1/messages", Headers: map[string]string{"x-api-key": "sk-ant-test"}, Body: body,
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "hello")
}

func TestHandleDirectUpstreamError(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"invalid key"}}`))
	}))
	defer upstream.Close()

	o := newTestOrchestrator(t, func(c *config.Config) {
		c.Mode = config.ModeDirect
		c.AnthropicBaseURL = upstream.URL
	})

	body, _ := json.Marshal(map[string]interface{}{"model": "claude-sonnet-4"})
	rec := httptest.NewRecorder()
	o.Handle(context.Background(), rec, InboundRequest{Method: "POST", Path: "/v1/messages", Body: body})

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	var errResp anthropic.ErrorPayload
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	assert.Equal(t, "api_error", errResp.Error.Type)
}

func TestHandleTranslatedNonStreaming(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "chatcmpl-abc123",
			"model": "anthropic/claude-sonnet-4",
			"choices": [{"index":0,"message":{"role":"assistant","content":"hi there"},"finish_reason":"stop"}],
			"usage": {"prompt_tokens":10,"completion_tokens":4,"total_tokens":14}
		}`))
	}))
	defer upstream.Close()

	t.Setenv("OPENROUTER_API_KEY", "test-key")

	o := newTestOrchestrator(t, func(c *config.Config) {
		c.Mode = config.ModeTranslated
		c.OpenRouterBaseURL = upstream.URL
	})

	body, _ := json.Marshal(map[string]interface{}{
		"model":    "claude-sonnet-4-20250514",
		"messages": []interface{}{map[string]interface{}{"role": "user", "content": "hi"}},
	})
	rec := httptest.NewRecorder()
	o.Handle(context.Background(), rec, InboundRequest{Method: "POST", Path: "/v1/messages", Body: body})

	assert.Equal(t, http.StatusOK, rec.Code)
	var reply anthropic.Reply
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reply))
	assert.Equal(t, "msg-abc123", reply.ID)
	assert.Equal(t, "hi there", reply.Content[0].Text)
	assert.Equal(t, int64(10), reply.Usage.InputTokens)
}

func TestHandleTranslatedStreaming(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		frames := []string{
			`{"choices":[{"index":0,"delta":{"content":"Hi"},"finish_reason":null}]}`,
			`{"choices":[{"index":0,"delta":{"content":" there"},"finish_reason":"stop"}],"usage":{"prompt_tokens":2,"completion_tokens":2,"total_tokens":4}}`,
		}
		for _, f := range frames {
			w.Write([]byte("data: " + f + "\n\n"))
		}
		w.Write([]byte("data: [DONE]\n\n"))
	}))
	defer upstream.Close()

	t.Setenv("OPENROUTER_API_KEY", "test-key")

	o := newTestOrchestrator(t, func(c *config.Config) {
		c.Mode = config.ModeTranslated
		c.OpenRouterBaseURL = upstream.URL
	})

	body, _ := json.Marshal(map[string]interface{}{
		"model":    "claude-sonnet-4-20250514",
		"stream":   true,
		"messages": []interface{}{map[string]interface{}{"role": "user", "content": "hi"}},
	})
	rec := httptest.NewRecorder()
	o.Handle(context.Background(), rec, InboundRequest{Method: "POST", Path: "/v1/messages", Body: body})

	out := rec.Body.String()
	assert.Contains(t, out, "event: message_start")
	assert.Contains(t, out, "event: content_block_delta")
	assert.Contains(t, out, "event: message_stop")
	assert.True(t, strings.Contains(out, `"text":"Hi"`) || strings.Contains(out, `"Hi"`))
}

func TestHandleInternalErrorBeforeHeadersSent(t *testing.T) {
	o := newTestOrchestrator(t, func(c *config.Config) {
		c.Mode = config.ModeTranslated
		c.OpenRouterBaseURL = "http://127.0.0.1:1"
	})

	body, _ := json.Marshal(map[string]interface{}{"model": "claude-sonnet-4", "messages": []interface{}{}})
	rec := httptest.NewRecorder()
	o.Handle(context.Background(), rec, InboundRequest{Method: "POST", Path: "/v1/messages", Body: body})

	assert.NotEqual(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")
}

func TestHandleClientDisconnectAfterChunks(t *testing.T) {
	dir := t.TempDir()
	mgr, err := config.NewManager(filepath.Join(dir, "config.json"))
	require.NoError(t, err)
	store := observability.NewStore(10)
	o := NewOrchestrator(mgr, store)

	recID := store.Start(observability.RequestSnapshot{Method: "POST", Path: "/v1/messages"}, nil)
	store.AddChunk(recID, []byte("data: chunk\n\n"))

	o.handleClientDisconnect(recID)

	rec, ok := store.Get(recID)
	require.True(t, ok)
	assert.Equal(t, observability.StatusSuccess, rec.Status)
}

func TestHandleClientDisconnectBeforeAnyChunk(t *testing.T) {
	dir := t.TempDir()
	mgr, err := config.NewManager(filepath.Join(dir, "config.json"))
	require.NoError(t, err)
	store := observability.NewStore(10)
	o := NewOrchestrator(mgr, store)

	recID := store.Start(observability.RequestSnapshot{Method: "POST", Path: "/v1/messages"}, nil)
	o.handleClientDisconnect(recID)

	rec, ok := store.Get(recID)
	require.True(t, ok)
	assert.Equal(t, observability.StatusError, rec.Status)
}
