package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/havenly/havenly-backend/internal/clients"
	"github.com/havenly/havenly-backend/internal/log"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := New(Config{APIKey: "sk-test", BaseURL: srv.URL, Timeout: 5 * time.Second}, log.Nop())
	c.retryBase = time.Millisecond
	return c
}

func TestNotConfigured(t *testing.T) {
	c := New(Config{}, log.Nop())
	ctx := context.Background()

	_, err := c.Complete(ctx, "s", "p")
	assert.ErrorIs(t, err, clients.ErrNotConfigured)
	_, err = c.Embed(ctx, "x")
	assert.ErrorIs(t, err, clients.ErrNotConfigured)
	_, err = c.Transcribe(ctx, "a.webm", []byte("x"))
	assert.ErrorIs(t, err, clients.ErrNotConfigured)
}

func TestCompleteJSON(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "json_object", req.ResponseFormat["type"])

		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": "```json\n{\"intro\":\"Hello\"}\n```"}},
			},
		})
	})

	var out struct {
		Intro string `json:"intro"`
	}
	require.NoError(t, c.CompleteJSON(context.Background(), "system", "prompt", &out))
	assert.Equal(t, "Hello", out.Intro)
}

func TestEmbed(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]interface{}{{"embedding": []float64{0.1, 0.2}}},
		})
	})

	vec, err := c.Embed(context.Background(), "three bed house")
	require.NoError(t, err)
	assert.Equal(t, []float64{0.1, 0.2}, vec)
}

func TestTranscribeRetriesTransientFailures(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "whisper-1", r.FormValue("model"))
		json.NewEncoder(w).Encode(map[string]string{"text": " three bedrooms in Malibu "})
	})

	text, err := c.Transcribe(context.Background(), "clip.webm", []byte("audio"))
	require.NoError(t, err)
	assert.Equal(t, "three bedrooms in Malibu", text)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestTranscribeDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	})

	_, err := c.Transcribe(context.Background(), "clip.webm", []byte("audio"))
	var apiErr *clients.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestTranscribeGivesUpAfterThreeRetries(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.Transcribe(context.Background(), "clip.webm", []byte("audio"))
	assert.Error(t, err)
	assert.Equal(t, int32(4), atomic.LoadInt32(&calls), "first attempt plus three retries")
}
