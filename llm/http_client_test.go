package llm_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/taskflow/clock"
	"goa.design/taskflow/llm"
)

func TestHTTPClientCompleteSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "hello"}},
			},
		})
	}))
	defer srv.Close()

	c, err := llm.NewHTTPClient(llm.HTTPOptions{Endpoint: srv.URL, Clock: clock.Real{}})
	require.NoError(t, err)

	resp, err := c.Complete(t.Context(), llm.Request{Model: "m", Messages: []llm.Message{{Role: "user", Content: "hi"}}})
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Content)
}

func TestHTTPClientRetriesOnRateLimitThenSucceeds(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := attempts.Add(1)
		if n == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]any{})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"content": "ok"}}},
		})
	}))
	defer srv.Close()

	fake := clock.NewFake(time.Now())
	policy := llm.DefaultRetryPolicy()
	policy.RateLimitBase = 0
	policy.RateLimitCap = 0
	c, err := llm.NewHTTPClient(llm.HTTPOptions{Endpoint: srv.URL, Clock: fake, Retry: policy})
	require.NoError(t, err)

	resp, err := c.Complete(t.Context(), llm.Request{Model: "m", Messages: []llm.Message{{Role: "user", Content: "hi"}}})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, int32(2), attempts.Load())
}

func TestSanitizeStripsThinkBlockAndFence(t *testing.T) {
	raw := "<think>pondering</think>\n```json\n{\"a\":1}\n```"
	assert.Equal(t, `{"a":1}`, llm.Sanitize(raw))
}

func TestExtractJSONObjectFindsOutermostBalanced(t *testing.T) {
	raw := `here is your answer: {"a": {"b": 1}} thanks`
	obj, ok := llm.ExtractJSONObject(raw)
	require.True(t, ok)
	assert.Equal(t, `{"a": {"b": 1}}`, obj)
}

func TestExtractJSONObjectNoObject(t *testing.T) {
	_, ok := llm.ExtractJSONObject("no json here")
	assert.False(t, ok)
}
