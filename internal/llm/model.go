// Package llm wraps langchaingo chat models behind a small prompt API.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/JakeFAU/nmkr-support-router/internal/config"
)

// Providers.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// ErrEmptyResponse is returned when the model produced no choices.
var ErrEmptyResponse = errors.New("llm returned no choices")

// Generator produces text from a system and a user prompt.
type Generator interface {
	Generate(ctx context.Context, system, user string, opts ...llms.CallOption) (string, error)
}

// Model wraps a langchaingo model with default call options.
type Model struct {
	llm         llms.Model
	name        string
	maxTokens   int
	temperature float64
}

var _ Generator = (*Model)(nil)

// ProviderFor returns the configured provider, inferring it from the model
// name when unset.
func ProviderFor(cfg config.LLMConfig) string {
	if cfg.Provider != "" {
		return cfg.Provider
	}
	if strings.HasPrefix(strings.ToLower(cfg.Model), "claude") {
		return ProviderAnthropic
	}
	return ProviderOpenAI
}

// New builds a Model from configuration.
func New(cfg config.LLMConfig) (*Model, error) {
	var (
		model llms.Model
		err   error
	)
	switch provider := ProviderFor(cfg); provider {
	case ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, errors.New("llm.openai_api_key required for the openai provider")
		}
		model, err = openai.New(
			openai.WithToken(cfg.OpenAIAPIKey),
			openai.WithModel(cfg.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("create openai model: %w", err)
		}
	case ProviderAnthropic:
		if cfg.AnthropicAPIKey == "" {
			return nil, errors.New("llm.anthropic_api_key required for the anthropic provider")
		}
		model, err = anthropic.New(
			anthropic.WithToken(cfg.AnthropicAPIKey),
			anthropic.WithModel(cfg.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("create anthropic model: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", provider)
	}
	return Wrap(model, cfg.Model, cfg.MaxTokens, cfg.Temperature), nil
}

// Wrap adapts an existing langchaingo model.
func Wrap(model llms.Model, name string, maxTokens int, temperature float64) *Model {
	return &Model{
		llm:         model,
		name:        name,
		maxTokens:   maxTokens,
		temperature: temperature,
	}
}

// Generate sends a system and user message. opts override the defaults.
func (m *Model) Generate(ctx context.Context, system, user string, opts ...llms.CallOption) (string, error) {
	messages := make([]llms.MessageContent, 0, 2)
	if system != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, system))
	}
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, user))

	callOpts := make([]llms.CallOption, 0, len(opts)+2)
	if m.maxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(m.maxTokens))
	}
	callOpts = append(callOpts, llms.WithTemperature(m.temperature))
	callOpts = append(callOpts, opts...)

	resp, err := m.llm.GenerateContent(ctx, messages, callOpts...)
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return strings.TrimSpace(resp.Choices[0].Content), nil
}

// Name returns the model name.
func (m *Model) Name() string {
	return m.name
}
