// Package transform calls external AI image models. FalClient performs a
// single attempt; WithRetry adds the retry policy around any Transformer.
package transform

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cozy-creator/lineage-server/internal/config"
	"github.com/cozy-creator/lineage-server/internal/types"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const requestIDHeader = "x-fal-request-id"

type Result struct {
	Image     []byte
	MimeType  string
	URL       string
	RequestID string
	Metadata  map[string]any
}

type Transformer interface {
	Transform(ctx context.Context, image []byte, mimeType, operation string, parameters map[string]any) (*Result, error)
}

type FalClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	fetch      FetchPolicy
	logger     *zap.Logger
}

type FalOption func(*FalClient)

func WithHTTPClient(client *http.Client) FalOption {
	return func(c *FalClient) {
		c.httpClient = client
	}
}

func WithFetchPolicy(policy FetchPolicy) FalOption {
	return func(c *FalClient) {
		c.fetch = policy
	}
}

func NewFalClient(cfg *config.FalConfig, logger *zap.Logger, opts ...FalOption) *FalClient {
	if logger == nil {
		logger = zap.NewNop()
	}

	client := &FalClient{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{},
		fetch:      DefaultFetchPolicy(),
		logger:     logger,
	}
	if client.baseURL == "" {
		client.baseURL = config.DefaultFalBaseURL
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

func (c *FalClient) Transform(ctx context.Context, image []byte, mimeType, operation string, parameters map[string]any) (*Result, error) {
	request, err := ParseRequest(operation, parameters)
	if err != nil {
		return nil, err
	}
	if c.apiKey == "" {
		return nil, types.NewExternalServiceError(http.StatusInternalServerError, ErrMissingAPIKey, "ai backend is not configured")
	}

	if mimeType == "" {
		mimeType = mimetype.Detect(image).String()
	}
	dataURI := fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(image))

	body, err := json.Marshal(request.Payload(dataURI))
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	endpoint := c.baseURL + "/" + request.Endpoint()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Key "+c.apiKey)

	c.logger.Debug("calling ai endpoint", zap.String("operation", operation), zap.String("endpoint", request.Endpoint()))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ai request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read ai response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: errorMessage(respBody, resp.Status)}
	}

	var payload map[string]any
	if err := json.Unmarshal(respBody, &payload); err != nil {
		return nil, &MalformedResponseError{Body: string(respBody)}
	}

	imageURL, ok := FindImageURL(payload)
	if !ok {
		return nil, &MalformedResponseError{Body: string(respBody)}
	}

	started := time.Now()
	content, err := c.fetchResult(ctx, imageURL)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("fetched ai result", zap.String("operation", operation), zap.Duration("took", time.Since(started)))

	return &Result{
		Image:     content,
		MimeType:  mimetype.Detect(content).String(),
		URL:       imageURL,
		RequestID: requestID(resp.Header, payload),
		Metadata:  metadataOf(payload),
	}, nil
}

// FindImageURL looks for the result image in the shapes the endpoints use:
// an images list, a single image object, or a top-level url.
func FindImageURL(payload map[string]any) (string, bool) {
	if images, ok := payload["images"].([]any); ok && len(images) > 0 {
		if url, ok := urlOf(images[0]); ok {
			return url, true
		}
	}

	if url, ok := urlOf(payload["image"]); ok {
		return url, true
	}

	if url, ok := payload["url"].(string); ok && url != "" {
		return url, true
	}

	return "", false
}

func urlOf(v any) (string, bool) {
	switch value := v.(type) {
	case map[string]any:
		url, ok := value["url"].(string)
		return url, ok && url != ""
	case string:
		return value, value != ""
	}

	return "", false
}

func requestID(header http.Header, payload map[string]any) string {
	if id := header.Get(requestIDHeader); id != "" {
		return id
	}
	if id, ok := payload["request_id"].(string); ok && id != "" {
		return id
	}

	return uuid.NewString()
}

func metadataOf(payload map[string]any) map[string]any {
	metadata := make(map[string]any, len(payload))
	for k, v := range payload {
		switch k {
		case "images", "image", "url":
			continue
		}
		metadata[k] = v
	}

	return metadata
}

func errorMessage(body []byte, fallback string) string {
	var parsed struct {
		Detail  any    `json:"detail"`
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		switch {
		case parsed.Message != "":
			return parsed.Message
		case parsed.Error != "":
			return parsed.Error
		case parsed.Detail != nil:
			if detail, ok := parsed.Detail.(string); ok {
				return detail
			}
			if detail, err := json.Marshal(parsed.Detail); err == nil {
				return string(detail)
			}
		}
	}

	if text := strings.TrimSpace(string(body)); text != "" {
		return text
	}

	return fallback
}

func isTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrFetchTimeout)
}
