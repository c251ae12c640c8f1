package crawl

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"

	"github.com/JakeFAU/nmkr-support-router/internal/llm"
)

const (
	summarySystemPrompt = "You are a helpful assistant that summarizes text while preserving important information."
	summaryUserPrompt   = "Summarize the following text in a concise manner, ensuring no important information is lost:\n\n%s"
)

// Summarizer condenses page text with the LLM.
type Summarizer struct {
	gen         llm.Generator
	maxTokens   int
	temperature float64
	maxChars    int
}

// NewSummarizer builds a Summarizer. Input longer than maxChars is cut before
// it is sent; zero keeps everything.
func NewSummarizer(gen llm.Generator, maxTokens int, temperature float64, maxChars int) *Summarizer {
	return &Summarizer{
		gen:         gen,
		maxTokens:   maxTokens,
		temperature: temperature,
		maxChars:    maxChars,
	}
}

// Summarize returns a short summary of text. Blank text yields "".
func (s *Summarizer) Summarize(ctx context.Context, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", nil
	}
	if s.maxChars > 0 && len(text) > s.maxChars {
		text = truncateUTF8(text, s.maxChars)
	}
	out, err := s.gen.Generate(ctx, summarySystemPrompt, fmt.Sprintf(summaryUserPrompt, text),
		llms.WithMaxTokens(s.maxTokens),
		llms.WithTemperature(s.temperature),
	)
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}
	return out, nil
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !isRuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
