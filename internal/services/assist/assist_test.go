package assist

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cozy-creator/lineage-server/internal/config"
	"github.com/cozy-creator/lineage-server/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newChatServer(t *testing.T, content string, delay time.Duration) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"model":  "gpt-4o-mini",
			"choices": []any{map[string]any{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": content},
			}},
		})
	}))
}

func TestAssistant_Suggest(t *testing.T) {
	server := newChatServer(t, `"turn the subject to face left"`, 0)
	defer server.Close()

	assistant, err := NewAssistant(&config.OpenAIConfig{APIKey: "k", BaseURL: server.URL}, zap.NewNop())
	require.NoError(t, err)

	suggestion, err := assistant.Suggest(context.Background(), "make him look the other way", "nano-banana-edit")
	require.NoError(t, err)
	assert.Equal(t, "turn the subject to face left", suggestion.Prompt)
	assert.Equal(t, "gpt-4o-mini", suggestion.Model)
}

func TestAssistant_TimeBoxed(t *testing.T) {
	server := newChatServer(t, "late", time.Second)
	defer server.Close()

	assistant, err := NewAssistant(&config.OpenAIConfig{APIKey: "k", BaseURL: server.URL, Timeout: 20 * time.Millisecond}, nil)
	require.NoError(t, err)

	_, err = assistant.Suggest(context.Background(), "anything", "")
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindExternalService))
}

func TestAssistant_Validation(t *testing.T) {
	_, err := NewAssistant(&config.OpenAIConfig{}, nil)
	assert.ErrorIs(t, err, ErrNotConfigured)

	assistant, err := NewAssistant(&config.OpenAIConfig{APIKey: "k", BaseURL: "http://127.0.0.1:0"}, nil)
	require.NoError(t, err)

	_, err = assistant.Suggest(context.Background(), "   ", "")
	assert.True(t, types.IsKind(err, types.KindValidation))
}
