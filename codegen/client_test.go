package codegen

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func completionServer(t *testing.T, status int, body string, seen *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		if seen != nil {
			data, err := io.ReadAll(r.Body)
			require.NoError(t, err)
			require.NoError(t, json.Unmarshal(data, seen))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, url string) *OpenAIClient {
	return NewOpenAIClient(zaptest.NewLogger(t), url+"/", "test-key", "test-model", option.WithMaxRetries(0))
}

func TestOpenAIClient_Complete(t *testing.T) {
	var request map[string]any
	srv := completionServer(t, http.StatusOK, `{
		"id": "cmpl-1",
		"object": "chat.completion",
		"created": 1,
		"model": "test-model",
		"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "  hello  "}}],
		"usage": {"prompt_tokens": 3, "completion_tokens": 1, "total_tokens": 4}
	}`, &request)

	got, err := newTestClient(t, srv.URL).Complete(context.Background(), "sys", "user", 0.2)
	require.NoError(t, err)
	assert.Equal(t, "hello", got)

	assert.Equal(t, "test-model", request["model"])
	assert.InDelta(t, 0.2, request["temperature"], 1e-9)
	messages := request["messages"].([]any)
	require.Len(t, messages, 2)
	assert.Equal(t, "system", messages[0].(map[string]any)["role"])
	assert.Equal(t, "user", messages[1].(map[string]any)["role"])
}

func TestOpenAIClient_EmptyReply(t *testing.T) {
	srv := completionServer(t, http.StatusOK, `{"id":"x","object":"chat.completion","created":1,"model":"m","choices":[]}`, nil)

	_, err := newTestClient(t, srv.URL).Complete(context.Background(), "sys", "user", 0)
	assert.ErrorIs(t, err, ErrEmptyReply)
}

func TestOpenAIClient_APIError(t *testing.T) {
	srv := completionServer(t, http.StatusUnauthorized,
		`{"error":{"message":"bad key","type":"invalid_request_error","code":"invalid_api_key","param":null}}`, nil)

	_, err := newTestClient(t, srv.URL).Complete(context.Background(), "sys", "user", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat completion failed")
	assert.Contains(t, err.Error(), "401")
}
