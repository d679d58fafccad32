// Package ethicalfilter screens edit prompts with an LLM classifier before
// they are sent to an image model.
package ethicalfilter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/cozy-creator/lineage-server/internal/config"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.uber.org/zap"
)

var ErrNotConfigured = errors.New("openai api key not configured")

type Classification struct {
	SexualizeChild bool                   `json:"sexualize_child"`
	Child          bool                   `json:"child"`
	Nudity         bool                   `json:"nudity"`
	Sexual         bool                   `json:"sexual"`
	Violence       bool                   `json:"violence"`
	Disturbing     bool                   `json:"disturbing"`
	Persons        []ClassificationPerson `json:"persons"`
	Edits          []string               `json:"edits"`
}

type ClassificationPerson struct {
	Name       string `json:"name"`
	RealPerson bool   `json:"real_person"`
}

type PromptFilterResponse struct {
	Type   PromptFilterResponseType `json:"status"`
	Reason string                   `json:"reason,omitempty"`
	Edits  []string                 `json:"edits,omitempty"`
}

type PromptFilterResponseType string

const (
	PromptFilterResponseTypeApproved PromptFilterResponseType = "approved"
	PromptFilterResponseTypeRejected PromptFilterResponseType = "rejected"
)

func (r *PromptFilterResponse) Rejected() bool {
	return r != nil && r.Type == PromptFilterResponseTypeRejected
}

var editKinds = []string{
	"pose",
	"rotation",
	"background",
	"lighting",
	"color",
	"style",
	"clothing",
	"upscale",
}

type Screener interface {
	Screen(ctx context.Context, prompt string) (*PromptFilterResponse, error)
}

type OpenAIScreener struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	logger  *zap.Logger
}

func NewOpenAIScreener(cfg *config.OpenAIConfig, logger *zap.Logger) (*OpenAIScreener, error) {
	if cfg == nil || cfg.APIKey == "" {
		return nil, ErrNotConfigured
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	model := cfg.Model
	if model == "" {
		model = string(openai.ChatModelGPT4oMini)
	}

	return &OpenAIScreener{
		client:  openai.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:   model,
		timeout: cfg.Timeout,
		logger:  logger,
	}, nil
}

func (s *OpenAIScreener) Screen(ctx context.Context, prompt string) (*PromptFilterResponse, error) {
	if strings.TrimSpace(prompt) == "" {
		return &PromptFilterResponse{Type: PromptFilterResponseTypeApproved}, nil
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	classification, err := s.classify(ctx, prompt)
	if err != nil {
		return nil, err
	}

	response := Evaluate(classification, prompt)
	if response.Rejected() {
		s.logger.Info("prompt rejected by screen", zap.String("reason", response.Reason))
	}

	return response, nil
}

func (s *OpenAIScreener) classify(ctx context.Context, prompt string) (*Classification, error) {
	tmpl, err := template.New("promptFilter").Parse(GetPromptFilterTemplate())
	if err != nil {
		return nil, err
	}

	var tmplBuffer bytes.Buffer
	if err := tmpl.Execute(&tmplBuffer, PromptTemplateData{Edits: editKinds}); err != nil {
		return nil, err
	}

	completion, err := s.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: openai.F([]openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(tmplBuffer.String()),
			openai.UserMessage(fmt.Sprintf("Edit instruction: %s", prompt)),
		}),
		ResponseFormat: openai.F[openai.ChatCompletionNewParamsResponseFormatUnion](
			openai.ResponseFormatJSONObjectParam{
				Type: openai.F(openai.ResponseFormatJSONObjectTypeJSONObject),
			},
		),
		Model:       openai.F(openai.ChatModel(s.model)),
		Temperature: openai.F(0.0),
	})
	if err != nil {
		return nil, err
	}

	if len(completion.Choices) == 0 || len(completion.Choices[0].Message.Content) == 0 {
		return nil, fmt.Errorf("could not filter or validate prompt")
	}

	var classification Classification
	if err := json.Unmarshal([]byte(completion.Choices[0].Message.Content), &classification); err != nil {
		return nil, fmt.Errorf("could not parse response: %w", err)
	}

	return &classification, nil
}

// Evaluate turns a classification into an approve/reject decision.
func Evaluate(classification *Classification, prompt string) *PromptFilterResponse {
	edits := normalizeEdits(classification.Edits)

	switch {
	case isCPInPrompt(classification, prompt):
		return &PromptFilterResponse{
			Type:   PromptFilterResponseTypeRejected,
			Reason: "contains child naked or sexual content",
		}
	case classification.Child && (classification.Violence || classification.Disturbing):
		return &PromptFilterResponse{
			Type:   PromptFilterResponseTypeRejected,
			Reason: "contains child violence or disturbing content",
		}
	case (classification.Sexual || classification.Nudity) && hasRealPerson(classification.Persons):
		return &PromptFilterResponse{
			Type:   PromptFilterResponseTypeRejected,
			Reason: "contains real-person sexual or nude content",
		}
	}

	return &PromptFilterResponse{Type: PromptFilterResponseTypeApproved, Edits: edits}
}

func normalizeEdits(edits []string) []string {
	normalized := []string{}
	for _, edit := range edits {
		lower := strings.ToLower(strings.TrimSpace(edit))
		for _, known := range editKinds {
			if lower == known {
				normalized = append(normalized, lower)
				break
			}
		}
	}

	return normalized
}

func isCPInPrompt(classification *Classification, prompt string) bool {
	return classification.SexualizeChild ||
		(classification.Child && (classification.Sexual || classification.Nudity)) ||
		(classification.Child && isNakedInPrompt(prompt))
}

func hasRealPerson(persons []ClassificationPerson) bool {
	for _, person := range persons {
		if person.RealPerson {
			return true
		}
	}
	return false
}

func isNakedInPrompt(prompt string) bool {
	terms := []string{"naked", "nude", "nudity", "porno", "sperm"}
	for _, term := range terms {
		if strings.Contains(strings.ToLower(prompt), term) {
			return true
		}
	}
	return false
}
