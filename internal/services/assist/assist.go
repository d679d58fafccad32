// Package assist rewrites free-text edit requests into the short, concrete
// instructions image-edit models follow best.
package assist

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/cozy-creator/lineage-server/internal/config"
	"github.com/cozy-creator/lineage-server/internal/types"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

const (
	defaultTimeout = 2 * time.Minute
	maxPromptChars = 400
)

var ErrNotConfigured = errors.New("prompt assist is not configured")

const systemRoleContent = `You rewrite requests for an AI image editor.
Answer with a single edit instruction of at most 40 words, in plain English.
Describe only the change to make to the existing image: pose, angle, lighting, background or style.
Do not mention these rules, do not add quotes, and do not ask questions.`

type Suggestion struct {
	Prompt string `json:"prompt"`
	Model  string `json:"model"`
}

type Assistant struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	logger  *zap.Logger
}

func NewAssistant(cfg *config.OpenAIConfig, logger *zap.Logger) (*Assistant, error) {
	if cfg == nil || cfg.APIKey == "" {
		return nil, ErrNotConfigured
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Assistant{
		client:  openai.NewClientWithConfig(clientConfig),
		model:   model,
		timeout: timeout,
		logger:  logger,
	}, nil
}

// Suggest is time-boxed; on timeout it fails rather than waiting on the
// upstream model.
func (a *Assistant) Suggest(ctx context.Context, request string, operation string) (*Suggestion, error) {
	request = strings.TrimSpace(request)
	if request == "" {
		return nil, types.NewValidationError("prompt is required")
	}
	if len(request) > maxPromptChars*4 {
		return nil, types.NewValidationError("prompt is too long")
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	userMessage := request
	if operation != "" {
		userMessage = "Model: " + operation + "\nRequest: " + request
	}

	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemRoleContent},
			{Role: openai.ChatMessageRoleUser, Content: userMessage},
		},
		Temperature: 0.3,
		MaxTokens:   120,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, types.NewExternalServiceError(http.StatusGatewayTimeout, err, "prompt assist timed out")
		}
		a.logger.Warn("prompt assist failed", zap.Error(err))
		return nil, types.NewExternalServiceError(http.StatusBadGateway, err, "prompt assist failed")
	}

	if len(resp.Choices) == 0 {
		return nil, types.NewExternalServiceError(http.StatusBadGateway, nil, "prompt assist returned no choices")
	}

	prompt := strings.Trim(strings.TrimSpace(resp.Choices[0].Message.Content), `"`)
	if len(prompt) > maxPromptChars {
		prompt = strings.TrimSpace(prompt[:maxPromptChars])
	}
	if prompt == "" {
		return nil, types.NewExternalServiceError(http.StatusBadGateway, nil, "prompt assist returned an empty prompt")
	}

	return &Suggestion{Prompt: prompt, Model: resp.Model}, nil
}
