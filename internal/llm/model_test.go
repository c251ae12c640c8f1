package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms/fake"

	"github.com/JakeFAU/nmkr-support-router/internal/config"
)

func TestProviderFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  config.LLMConfig
		want string
	}{
		{"explicit", config.LLMConfig{Provider: "anthropic", Model: "gpt-4o"}, ProviderAnthropic},
		{"claude model", config.LLMConfig{Model: "claude-3-5-sonnet-20240620"}, ProviderAnthropic},
		{"gpt model", config.LLMConfig{Model: "gpt-4o"}, ProviderOpenAI},
		{"empty", config.LLMConfig{}, ProviderOpenAI},
	}
	for _, tc := range tests {
		require.Equal(t, tc.want, ProviderFor(tc.cfg), tc.name)
	}
}

func TestNewRequiresKey(t *testing.T) {
	t.Parallel()

	_, err := New(config.LLMConfig{Model: "gpt-4o"})
	require.ErrorContains(t, err, "openai_api_key")

	_, err = New(config.LLMConfig{Model: "claude-3-5-sonnet-20240620"})
	require.ErrorContains(t, err, "anthropic_api_key")

	_, err = New(config.LLMConfig{Provider: "gemini"})
	require.ErrorContains(t, err, "unsupported llm provider")
}

func TestNewBuildsClients(t *testing.T) {
	t.Parallel()

	m, err := New(config.LLMConfig{Model: "gpt-4o", OpenAIAPIKey: "sk-test"})
	require.NoError(t, err)
	require.Equal(t, "gpt-4o", m.Name())

	m, err = New(config.LLMConfig{Model: "claude-3-5-sonnet-20240620", AnthropicAPIKey: "sk-ant"})
	require.NoError(t, err)
	require.Equal(t, "claude-3-5-sonnet-20240620", m.Name())
}

func TestGenerateTrimsResponse(t *testing.T) {
	t.Parallel()

	m := Wrap(fake.NewFakeLLM([]string{"  hello there \n"}), "fake", 100, 0.1)
	out, err := m.Generate(context.Background(), "be brief", "hi")
	require.NoError(t, err)
	require.Equal(t, "hello there", out)
}
