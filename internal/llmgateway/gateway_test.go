package llmgateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ReOpsIL/cai-sub000/internal/errs"
)

func TestExtractJSON_FencedJSONBlock(t *testing.T) {
	text := "Here is the plan:\n```json\n{\"a\": 1}\n```\nThanks."
	out, ok := ExtractJSON(text)
	require.True(t, ok)
	assert.JSONEq(t, `{"a": 1}`, out)
}

func TestExtractJSON_GenericFencedBlock(t *testing.T) {
	text := "```\n{\"a\": 2}\n```"
	out, ok := ExtractJSON(text)
	require.True(t, ok)
	assert.JSONEq(t, `{"a": 2}`, out)
}

func TestExtractJSON_FirstBalancedObject(t *testing.T) {
	text := "sure, {\"a\": 3} and also {\"b\": 4}"
	out, ok := ExtractJSON(text)
	require.True(t, ok)
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &m))
}

func TestExtractJSON_TrimmedWholeResponse(t *testing.T) {
	out, ok := ExtractJSON(" not json at all ")
	require.True(t, ok)
	assert.Equal(t, "not json at all", out)
}

func TestExtractJSON_Empty(t *testing.T) {
	_, ok := ExtractJSON("")
	assert.False(t, ok)
}

func TestChatCompletionJSON_ParseErrorOnNonJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"role": "assistant", "content": "not json at all"}}},
		})
	}))
	defer srv.Close()

	gw := New(srv.URL, "key", "test-model", time.Second, 1, 0.5, 100)
	var out map[string]any
	err := gw.ChatCompletionJSON(context.Background(), []Message{{Role: "user", Content: "hi"}}, &out)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.LLMParseError))
}

func TestChatCompletion_RetriesThenSucceeds(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"role": "assistant", "content": "ok"}}},
		})
	}))
	defer srv.Close()

	gw := New(srv.URL, "key", "test-model", time.Second, 3, 0.5, 100)
	text, err := gw.ChatCompletion(context.Background(), []Message{{Role: "user", Content: "hi"}})
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
	assert.Equal(t, 2, attempts)
}

func TestChatCompletion_FailsAfterMaxRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	gw := New(srv.URL, "key", "test-model", time.Second, 2, 0.5, 100)
	_, err := gw.ChatCompletion(context.Background(), []Message{{Role: "user", Content: "hi"}})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.LLMUnavailable))
}
