package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xr-voice-gateway/internal/config"
)

func newTestClient(url string) *Client {
	cfg := config.Default().LLM
	cfg.BaseURL = url
	cfg.APIKey = "sk-test"
	cfg.Model = "gpt-5"
	cfg.FallbackModel = "local"
	c := NewClient(cfg)
	c.FallbackDelay = time.Millisecond
	return c
}

func TestModelSelectionAndFallback(t *testing.T) {
	var mu sync.Mutex
	var models []string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p chatPayload
		_ = json.NewDecoder(r.Body).Decode(&p)
		mu.Lock()
		models = append(models, p.Model)
		mu.Unlock()
		if p.Model == "gpt-5" {
			http.Error(w, "server error", http.StatusInternalServerError)
			return
		}
		resp := map[string]any{"id": "cmpl-1", "choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": "ok from " + p.Model}}}}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer ts.Close()

	resp, err := newTestClient(ts.URL).CreateChatCompletion(context.Background(), ChatRequest{
		Messages: []Message{{Role: RoleUser, Content: "hello"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "ok from local", resp.Content)
	assert.Equal(t, "local", resp.Model)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"gpt-5", "local"}, models)
}

func TestRequestShape(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		var p chatPayload
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		assert.Equal(t, []Message{{RoleSystem, "be brief"}, {RoleUser, "hi"}}, p.Messages)
		assert.Equal(t, 256, p.MaxTokens)
		assert.InDelta(t, 0.2, p.Temperature, 1e-9)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"hey"}}]}`))
	}))
	defer ts.Close()

	out, err := newTestClient(ts.URL+"/").Complete(context.Background(), []Message{{RoleSystem, "be brief"}, {RoleUser, "hi"}})
	require.NoError(t, err)
	assert.Equal(t, "hey", out)
}

func TestPermanentError(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer ts.Close()

	_, err := newTestClient(ts.URL).Complete(context.Background(), []Message{{RoleUser, "hi"}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPermanent))
	assert.Equal(t, int32(1), calls.Load())
}

func TestTransientWithoutFallback(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer ts.Close()

	c := newTestClient(ts.URL)
	c.FallbackModel = ""
	_, err := c.Complete(context.Background(), []Message{{RoleUser, "hi"}})
	assert.ErrorIs(t, err, ErrTransient)
}

func TestFallbackAlsoFails(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	_, err := newTestClient(ts.URL).Complete(context.Background(), []Message{{RoleUser, "hi"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransient)
	assert.Contains(t, err.Error(), "fallback local")
}

func TestCancelledContextSkipsFallback(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		<-r.Context().Done()
	}))
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := newTestClient(ts.URL).Complete(ctx, []Message{{RoleUser, "hi"}})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int32(1), calls.Load())
}
