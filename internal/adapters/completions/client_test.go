package completions

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikey/sortana/internal/core"
)

func TestCompleteSendsFlatPayload(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"choices":[{"text":"<think>ok</think>{\"match\": true}"}]}`))
	}))
	defer srv.Close()

	out, err := NewClient(nil, nil).Complete(context.Background(), core.CompletionRequest{
		Endpoint: srv.URL,
		Prompt:   "hello",
		Params:   core.DefaultGenerationParams(),
	})
	require.NoError(t, err)
	assert.Equal(t, `<think>ok</think>{"match": true}`, out)

	assert.Equal(t, "hello", got["prompt"])
	assert.Equal(t, float64(4096), got["max_tokens"])
	assert.Equal(t, 0.6, got["temperature"])
	assert.Equal(t, float64(-1), got["seed"])
	assert.Equal(t, float64(20), got["top_k"])
	assert.Contains(t, got, "tfs")
}

func TestCompleteReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewClient(nil, nil).Complete(context.Background(), core.CompletionRequest{Endpoint: srv.URL})
	var statusErr *core.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)
}

func TestCompleteRejectsMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	_, err := NewClient(nil, nil).Complete(context.Background(), core.CompletionRequest{Endpoint: srv.URL})
	assert.Error(t, err)
}
