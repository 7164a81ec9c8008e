package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, status int, body any, inspect func(map[string]any)) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Contains(t, r.URL.Path, "/messages")
		if inspect != nil {
			var req map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			inspect(req)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(body) //nolint:errcheck
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestSDKClient_CreateMessage(t *testing.T) {
	ts := newTestServer(t, http.StatusOK, map[string]any{
		"id":   "msg_001",
		"type": "message",
		"role": "assistant",
		"content": []map[string]any{
			{"type": "text", "text": `{"bill_number":"INV-1"}`},
		},
		"model":       "claude-haiku-4-5-20251001",
		"stop_reason": "end_turn",
		"usage": map[string]any{
			"input_tokens":  120,
			"output_tokens": 15,
		},
	}, func(req map[string]any) {
		system, ok := req["system"].([]any)
		require.True(t, ok)
		require.Len(t, system, 1)
		block := system[0].(map[string]any)
		assert.Equal(t, "extract fields", block["text"])
		assert.NotNil(t, block["cache_control"])
		assert.InDelta(t, 0.1, req["temperature"], 0.0001)
	})

	client := NewClient("test-key", option.WithBaseURL(ts.URL))
	temp := 0.1
	resp, err := client.CreateMessage(context.Background(), MessageRequest{
		Model:       "claude-haiku-4-5-20251001",
		MaxTokens:   512,
		System:      []SystemBlock{{Text: "extract fields", Cached: true}},
		Messages:    []Message{{Role: "user", Content: "invoice text"}},
		Temperature: &temp,
	})
	require.NoError(t, err)
	assert.Equal(t, "msg_001", resp.ID)
	assert.Equal(t, `{"bill_number":"INV-1"}`, resp.Text())
	assert.Equal(t, int64(120), resp.Usage.InputTokens)
	assert.Equal(t, "end_turn", resp.StopReason)
}

func TestSDKClient_CreateMessage_APIError(t *testing.T) {
	ts := newTestServer(t, http.StatusTooManyRequests, map[string]any{
		"type":  "error",
		"error": map[string]any{"type": "rate_limit_error", "message": "slow down"},
	}, nil)

	client := NewClient("test-key", option.WithBaseURL(ts.URL))
	_, err := client.CreateMessage(context.Background(), MessageRequest{
		Model:     "claude-haiku-4-5-20251001",
		MaxTokens: 16,
		Messages:  []Message{{Role: "user", Content: "x"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic: create message")
	assert.Equal(t, http.StatusTooManyRequests, StatusCode(err))
}

func TestStatusCode_NonAPIError(t *testing.T) {
	assert.Zero(t, StatusCode(errors.New("dial tcp: refused")))
	assert.Zero(t, StatusCode(nil))
}

func TestMessageResponse_TextSkipsNonText(t *testing.T) {
	resp := &MessageResponse{Content: []ContentBlock{
		{Type: "thinking", Text: "hmm"},
		{Type: "text", Text: "a"},
		{Type: "text", Text: "b"},
	}}
	assert.Equal(t, "ab", resp.Text())
}

func TestToSDKMessages_Roles(t *testing.T) {
	out := toSDKMessages([]Message{{Role: "user", Content: "q"}, {Role: "assistant", Content: "a"}})
	require.Len(t, out, 2)
	assert.Equal(t, "user", string(out[0].Role))
	assert.Equal(t, "assistant", string(out[1].Role))
}
