// Package firecrawl crawls sites through the Firecrawl v1 crawl API.
package firecrawl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/JakeFAU/nmkr-support-router/internal/crawl"
)

// DefaultBaseURL is the public Firecrawl API endpoint.
const DefaultBaseURL = "https://api.firecrawl.dev"

const defaultPollInterval = 2 * time.Second

// Client implements crawl.Provider. A crawl is started asynchronously and
// polled until it completes.
type Client struct {
	apiKey       string
	baseURL      string
	pollInterval time.Duration
	http         *http.Client
}

var _ crawl.Provider = (*Client)(nil)

// Option customizes a Client.
type Option func(*Client)

// WithBaseURL points the client at another endpoint.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithPollInterval sets how often crawl status is checked.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// New creates a Client.
func New(apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("firecrawl api key is required")
	}
	c := &Client{
		apiKey:       apiKey,
		baseURL:      DefaultBaseURL,
		pollInterval: defaultPollInterval,
		http:         &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Name implements crawl.Provider.
func (c *Client) Name() string { return crawl.ProviderFirecrawl }

type startRequest struct {
	URL           string        `json:"url"`
	Limit         int           `json:"limit"`
	MaxDepth      int           `json:"maxDepth"`
	ScrapeOptions scrapeOptions `json:"scrapeOptions"`
}

type scrapeOptions struct {
	Formats         []string `json:"formats"`
	OnlyMainContent bool     `json:"onlyMainContent"`
}

type startResponse struct {
	Success bool   `json:"success"`
	ID      string `json:"id"`
	Error   string `json:"error"`
}

type statusResponse struct {
	Status string     `json:"status"`
	Data   []document `json:"data"`
	Next   string     `json:"next"`
	Error  string     `json:"error"`
}

type document struct {
	Markdown string   `json:"markdown"`
	Metadata metadata `json:"metadata"`
}

type metadata struct {
	SourceURL  string `json:"sourceURL"`
	StatusCode int    `json:"statusCode"`
	Error      string `json:"error"`
}

// Crawl implements crawl.Provider.
func (c *Client) Crawl(ctx context.Context, baseURL string, maxPages, maxDepth int) ([]crawl.Page, error) {
	id, err := c.start(ctx, baseURL, maxPages, maxDepth)
	if err != nil {
		return nil, err
	}
	docs, err := c.wait(ctx, id)
	if err != nil {
		return nil, err
	}
	pages := make([]crawl.Page, 0, len(docs))
	for _, d := range docs {
		if len(pages) == maxPages {
			break
		}
		page := crawl.Page{URL: d.Metadata.SourceURL, Text: strings.Join(strings.Fields(d.Markdown), " ")}
		switch {
		case d.Metadata.Error != "":
			page.Err = errors.New(d.Metadata.Error)
		case d.Metadata.StatusCode >= http.StatusBadRequest:
			page.Err = fmt.Errorf("unexpected status %d", d.Metadata.StatusCode)
		}
		pages = append(pages, page)
	}
	return pages, nil
}

func (c *Client) start(ctx context.Context, baseURL string, maxPages, maxDepth int) (string, error) {
	payload := startRequest{
		URL:      baseURL,
		Limit:    maxPages,
		MaxDepth: maxDepth,
		ScrapeOptions: scrapeOptions{
			Formats:         []string{"markdown"},
			OnlyMainContent: true,
		},
	}
	var out startResponse
	if err := c.do(ctx, http.MethodPost, c.baseURL+"/v1/crawl", payload, &out); err != nil {
		return "", fmt.Errorf("firecrawl start: %w", err)
	}
	if !out.Success || out.ID == "" {
		return "", fmt.Errorf("firecrawl start: %s", out.Error)
	}
	return out.ID, nil
}

func (c *Client) wait(ctx context.Context, id string) ([]document, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		var status statusResponse
		if err := c.do(ctx, http.MethodGet, c.baseURL+"/v1/crawl/"+id, nil, &status); err != nil {
			return nil, fmt.Errorf("firecrawl status %s: %w", id, err)
		}
		switch status.Status {
		case "completed":
			return c.collect(ctx, status)
		case "failed", "cancelled":
			return nil, fmt.Errorf("firecrawl crawl %s %s: %s", id, status.Status, status.Error)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("firecrawl crawl %s: %w", id, ctx.Err())
		case <-ticker.C:
		}
	}
}

// collect follows pagination links of a completed crawl.
func (c *Client) collect(ctx context.Context, status statusResponse) ([]document, error) {
	docs := status.Data
	for next := status.Next; next != ""; {
		var page statusResponse
		if err := c.do(ctx, http.MethodGet, next, nil, &page); err != nil {
			return nil, fmt.Errorf("firecrawl next page: %w", err)
		}
		docs = append(docs, page.Data...)
		next = page.Next
	}
	return docs, nil
}

func (c *Client) do(ctx context.Context, method, url string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
