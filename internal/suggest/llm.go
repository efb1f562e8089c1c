package suggest

import (
	"context"
	"errors"
	"os"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	DefaultModel     = string(anthropic.ModelClaudeSonnet4_20250514)
	defaultMaxTokens = 1000
)

// Generator is the text-generation collaborator. Implementations are
// treated as unreliable.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	ModelName() string
}

type AnthropicMessager interface {
	New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

type AnthropicClientCreator func(apiKey string) AnthropicMessager

func defaultAnthropicCreator(apiKey string) AnthropicMessager {
	// One attempt per suggestion; no SDK-level retries.
	c := anthropic.NewClient(option.WithAPIKey(apiKey), option.WithMaxRetries(0))
	return &c.Messages
}

var newAnthropicClient AnthropicClientCreator = defaultAnthropicCreator

type AnthropicGenerator struct {
	messages AnthropicMessager
	model    string
}

func NewAnthropicGenerator(apiKey, model string) (*AnthropicGenerator, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("ANTHROPIC_API_KEY not configured")
	}
	model = strings.TrimSpace(model)
	if model == "" {
		model = DefaultModel
	}
	return &AnthropicGenerator{messages: newAnthropicClient(apiKey), model: model}, nil
}

func NewAnthropicGeneratorFromEnv() (*AnthropicGenerator, error) {
	return NewAnthropicGenerator(os.Getenv("ANTHROPIC_API_KEY"), os.Getenv("SUGGESTION_MODEL"))
}

func (a *AnthropicGenerator) ModelName() string { return a.model }

func (a *AnthropicGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := a.messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(a.model),
		MaxTokens:   defaultMaxTokens,
		System:      []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages:    []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(prompt))},
		Temperature: anthropic.Float(0.7),
	})
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, b := range resp.Content {
		if b.Type == "text" {
			sb.WriteString(b.Text)
		}
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", errors.New("empty response from text generation")
	}
	return text, nil
}
