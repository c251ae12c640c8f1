// Package spider crawls sites through the Spider API.
package spider

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

// DefaultBaseURL is the public Spider API endpoint.
const DefaultBaseURL = "https://api.spider.cloud"

// Client implements crawl.Provider against the Spider crawl endpoint.
type Client struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

var _ crawl.Provider = (*Client)(nil)

// Option customizes a Client.
type Option func(*Client)

// WithBaseURL points the client at another endpoint.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
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
		return nil, errors.New("spider api key is required")
	}
	c := &Client{
		apiKey:  apiKey,
		baseURL: DefaultBaseURL,
		http:    &http.Client{Timeout: 2 * time.Minute},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Name implements crawl.Provider.
func (c *Client) Name() string { return crawl.ProviderSpider }

type crawlRequest struct {
	URL          string `json:"url"`
	Limit        int    `json:"limit"`
	Depth        int    `json:"depth"`
	ReturnFormat string `json:"return_format"`
}

type crawledPage struct {
	URL        string `json:"url"`
	Content    string `json:"content"`
	StatusCode int    `json:"status_code"`
	Error      string `json:"error"`
}

// Crawl implements crawl.Provider.
func (c *Client) Crawl(ctx context.Context, baseURL string, maxPages, maxDepth int) ([]crawl.Page, error) {
	body, err := json.Marshal(crawlRequest{
		URL:          baseURL,
		Limit:        maxPages,
		Depth:        maxDepth,
		ReturnFormat: "text",
	})
	if err != nil {
		return nil, fmt.Errorf("encode spider request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/crawl", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build spider request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("spider crawl: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("spider crawl: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var crawled []crawledPage
	if err := json.NewDecoder(resp.Body).Decode(&crawled); err != nil {
		return nil, fmt.Errorf("decode spider response: %w", err)
	}
	pages := make([]crawl.Page, 0, len(crawled))
	for _, p := range crawled {
		if len(pages) == maxPages {
			break
		}
		page := crawl.Page{URL: p.URL, Text: strings.Join(strings.Fields(p.Content), " ")}
		switch {
		case p.Error != "":
			page.Err = errors.New(p.Error)
		case p.StatusCode >= http.StatusBadRequest:
			page.Err = fmt.Errorf("unexpected status %d", p.StatusCode)
		}
		pages = append(pages, page)
	}
	return pages, nil
}
