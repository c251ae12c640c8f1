package catalog

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"

	"github.com/JakeFAU/nmkr-support-router/internal/llm"
)

const (
	describePrompt    = "Summarize the following content in one sentence:"
	describeMaxTokens = 50
	excerptChars      = 500
)

// TextFetcher returns the visible text of a page.
type TextFetcher interface {
	FetchText(ctx context.Context, url string) (string, error)
}

// Describer writes one-sentence descriptions for catalog links.
type Describer struct {
	fetcher TextFetcher
	gen     llm.Generator
	delay   time.Duration
	logger  *zap.Logger
}

// NewDescriber builds a Describer that waits delay between URLs.
func NewDescriber(fetcher TextFetcher, gen llm.Generator, delay time.Duration, logger *zap.Logger) *Describer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Describer{fetcher: fetcher, gen: gen, delay: delay, logger: logger}
}

// Describe returns one Link per URL. Pages that cannot be read or described
// get an empty description.
func (d *Describer) Describe(ctx context.Context, urls []string) ([]Link, error) {
	out := make([]Link, 0, len(urls))
	for i, u := range urls {
		if i > 0 && d.delay > 0 {
			select {
			case <-ctx.Done():
				return out, fmt.Errorf("describe links: %w", ctx.Err())
			case <-time.After(d.delay):
			}
		}
		out = append(out, Link{URL: u, Description: d.describe(ctx, u)})
	}
	return out, nil
}

func (d *Describer) describe(ctx context.Context, url string) string {
	logger := d.logger.With(zap.String("url", url))
	text, err := d.fetcher.FetchText(ctx, url)
	if err != nil {
		logger.Warn("scrape failed; empty description", zap.Error(err))
		return ""
	}
	text = strings.TrimSpace(text)
	if text == "" {
		logger.Warn("no text content; empty description")
		return ""
	}
	if r := []rune(text); len(r) > excerptChars {
		text = string(r[:excerptChars])
	}
	desc, err := d.gen.Generate(ctx, describePrompt, text, llms.WithMaxTokens(describeMaxTokens))
	if err != nil {
		logger.Warn("describe failed; empty description", zap.Error(err))
		return ""
	}
	logger.Debug("described", zap.String("description", desc))
	return desc
}

// ReadURLs reads one URL per line, skipping blank lines.
func ReadURLs(r io.Reader) ([]string, error) {
	var urls []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			urls = append(urls, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read urls: %w", err)
	}
	return urls, nil
}

// WriteLinks encodes links as an indented JSON array.
func WriteLinks(w io.Writer, links []Link) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "    ")
	if err := enc.Encode(links); err != nil {
		return fmt.Errorf("encode links: %w", err)
	}
	return nil
}
