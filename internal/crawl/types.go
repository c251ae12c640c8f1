package crawl

import (
	"context"
	"net/http"
	"time"
)

// FetchRequest captures everything needed to fetch one URL.
type FetchRequest struct {
	URL         string
	Headers     http.Header
	UseHeadless bool
}

// FetchResponse is returned by a Fetcher.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest) (FetchResponse, error)
}

// HeadlessDetector decides whether a plain fetch should be re-run headless.
type HeadlessDetector interface {
	ShouldPromote(probe FetchResponse) bool
}

// Limiter paces requests per host.
type Limiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// LinkPolicy decides which discovered links are worth following.
type LinkPolicy interface {
	AllowLink(baseURL, candidate string) bool
}

// Page is one crawled page. Err is set when the page could not be fetched.
type Page struct {
	URL   string
	Text  string
	Depth int
	Err   error
}

// Provider crawls a base URL and its internal subpages.
type Provider interface {
	Name() string
	Crawl(ctx context.Context, baseURL string, maxPages, maxDepth int) ([]Page, error)
}
