package transform

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cozy-creator/lineage-server/internal/config"
	"github.com/cozy-creator/lineage-server/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\n0000")

func fastFetch() FetchPolicy {
	return FetchPolicy{Attempts: 5, BaseDelay: time.Millisecond, Timeout: time.Second}
}

func newTestClient(baseURL string, opts ...FalOption) *FalClient {
	opts = append([]FalOption{WithFetchPolicy(fastFetch())}, opts...)
	return NewFalClient(&config.FalConfig{APIKey: "secret", BaseURL: baseURL}, zap.NewNop(), opts...)
}

func TestFalClient_Transform(t *testing.T) {
	var received map[string]any
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/fal-ai/nano-banana/edit":
			assert.Equal(t, "Key secret", r.Header.Get("Authorization"))
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&received))
			w.Header().Set(requestIDHeader, "req-123")
			json.NewEncoder(w).Encode(map[string]any{
				"images":      []any{map[string]any{"url": server.URL + "/result.png"}},
				"description": "done",
			})
		case "/result.png":
			w.Write(pngBytes)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	result, err := client.Transform(context.Background(), pngBytes, "image/png", "nano-banana-edit", map[string]any{"prompt": "make it blue"})
	require.NoError(t, err)

	assert.Equal(t, pngBytes, result.Image)
	assert.Equal(t, "image/png", result.MimeType)
	assert.Equal(t, "req-123", result.RequestID)
	assert.Equal(t, "done", result.Metadata["description"])

	assert.Equal(t, "make it blue", received["prompt"])
	assert.EqualValues(t, 1, received["num_images"])
	urls, ok := received["image_urls"].([]any)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(urls[0].(string), "data:image/png;base64,"))
}

func TestFalClient_ValidatesBeforeCalling(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	_, err := client.Transform(context.Background(), pngBytes, "image/png", "nano-banana-edit", map[string]any{"prompt": "  "})
	assert.True(t, types.IsKind(err, types.KindValidation))
	assert.Equal(t, http.StatusBadRequest, types.StatusCode(err))

	_, err = client.Transform(context.Background(), pngBytes, "image/png", "teleport", nil)
	assert.True(t, types.IsKind(err, types.KindUnsupportedOperation))
	assert.Equal(t, http.StatusBadRequest, types.StatusCode(err))

	assert.Zero(t, calls.Load())
}

func TestFalClient_ForbiddenIsAnnotated(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(map[string]any{"detail": "Forbidden"})
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).Transform(context.Background(), pngBytes, "image/png", "esrgan-upscale", nil)
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
	assert.Contains(t, err.Error(), "content policy")
	assert.True(t, IsClientError(err))
}

func TestFalClient_MalformedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"status": "ok"})
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).Transform(context.Background(), pngBytes, "image/png", "esrgan-upscale", nil)
	var malformed *MalformedResponseError
	assert.ErrorAs(t, err, &malformed)
}

func TestFalClient_FetchRetriesNotFound(t *testing.T) {
	var fetches atomic.Int32
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/result.png" {
			if fetches.Add(1) < 3 {
				http.NotFound(w, r)
				return
			}
			w.Write(pngBytes)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"image": map[string]any{"url": server.URL + "/result.png"}})
	}))
	defer server.Close()

	result, err := newTestClient(server.URL).Transform(context.Background(), pngBytes, "image/png", "esrgan-upscale", nil)
	require.NoError(t, err)
	assert.Equal(t, pngBytes, result.Image)
	assert.EqualValues(t, 3, fetches.Load())
}

func TestFalClient_FetchTimeoutFailsFast(t *testing.T) {
	var fetches atomic.Int32
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/slow.png" {
			fetches.Add(1)
			select {
			case <-r.Context().Done():
			case <-time.After(time.Second):
			}
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"url": server.URL + "/slow.png"})
	}))
	defer server.Close()

	client := newTestClient(server.URL, WithFetchPolicy(FetchPolicy{Attempts: 5, BaseDelay: time.Millisecond, Timeout: 50 * time.Millisecond}))
	_, err := client.Transform(context.Background(), pngBytes, "image/png", "esrgan-upscale", nil)
	require.Error(t, err)

	assert.EqualValues(t, 1, fetches.Load())
	assert.ErrorIs(t, err, ErrFetchTimeout)
	assert.Equal(t, http.StatusGatewayTimeout, types.StatusCode(err))
}

func TestFindImageURL(t *testing.T) {
	tests := []struct {
		name     string
		payload  map[string]any
		expected string
		ok       bool
	}{
		{"images list", map[string]any{"images": []any{map[string]any{"url": "a"}}, "url": "c"}, "a", true},
		{"single image", map[string]any{"image": map[string]any{"url": "b"}, "url": "c"}, "b", true},
		{"top level", map[string]any{"url": "c"}, "c", true},
		{"empty images falls through", map[string]any{"images": []any{}, "url": "c"}, "c", true},
		{"nothing", map[string]any{"seed": 1}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			url, ok := FindImageURL(tt.payload)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.expected, url)
		})
	}
}

func TestParseRequest_MergesDefaults(t *testing.T) {
	req, err := ParseRequest("qwen-image-edit", map[string]any{"prompt": "x", "guidance_scale": 7.0, "seed": nil})
	require.NoError(t, err)

	edit, ok := req.(*EditRequest)
	require.True(t, ok)
	assert.Equal(t, 7.0, edit.Params.GuidanceScale)
	assert.Equal(t, 30, edit.Params.NumInferenceSteps)
	assert.Nil(t, edit.Params.Seed)

	payload := edit.Payload("data:x")
	assert.Equal(t, "data:x", payload["image_url"])

	req, err = ParseRequest("clarity-upscale", nil)
	require.NoError(t, err)
	assert.Equal(t, KindUpscale, req.Kind())
	assert.Equal(t, 2.0, req.Payload("u")["upscale_factor"])
	assert.False(t, RequiresPrompt("clarity-upscale"))
	assert.True(t, RequiresPrompt("flux-kontext"))
}
