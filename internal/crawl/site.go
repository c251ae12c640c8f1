package crawl

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/JakeFAU/nmkr-support-router/internal/metrics"
)

// ProviderColly names the local crawler.
const ProviderColly = "colly"

type queuedPage struct {
	url   string
	depth int
}

// SiteCrawler is the local breadth-first crawler.
type SiteCrawler struct {
	fetcher  Fetcher
	headless Fetcher
	detector HeadlessDetector
	limiter  Limiter
	policy   LinkPolicy
	logger   *zap.Logger
}

var _ Provider = (*SiteCrawler)(nil)

// SiteOption customizes a SiteCrawler.
type SiteOption func(*SiteCrawler)

// WithHeadless re-renders pages the detector flags with the headless fetcher.
func WithHeadless(fetcher Fetcher, detector HeadlessDetector) SiteOption {
	return func(c *SiteCrawler) {
		c.headless = fetcher
		c.detector = detector
	}
}

// WithSiteLogger sets the logger.
func WithSiteLogger(logger *zap.Logger) SiteOption {
	return func(c *SiteCrawler) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewSiteCrawler builds a SiteCrawler. limiter may be nil.
func NewSiteCrawler(fetcher Fetcher, policy LinkPolicy, limiter Limiter, opts ...SiteOption) *SiteCrawler {
	c := &SiteCrawler{
		fetcher: fetcher,
		policy:  policy,
		limiter: limiter,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name implements Provider.
func (c *SiteCrawler) Name() string { return ProviderColly }

// Crawl visits baseURL and its internal links breadth first until maxPages
// pages were fetched. Pages deeper than maxDepth are skipped. Fetch failures
// become Page.Err entries; only context errors abort the crawl.
func (c *SiteCrawler) Crawl(ctx context.Context, baseURL string, maxPages, maxDepth int) ([]Page, error) {
	var (
		pages   []Page
		fetched = make(map[string]struct{})
		pending = []queuedPage{{url: baseURL}}
	)
	for len(pending) > 0 && len(pages) < maxPages {
		next := pending[0]
		pending = pending[1:]
		if _, done := fetched[next.url]; done || next.depth > maxDepth {
			continue
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx, next.url); err != nil {
				return pages, err
			}
		}
		fetched[next.url] = struct{}{}

		resp, err := c.fetch(ctx, next.url)
		if err != nil {
			if ctx.Err() != nil {
				return pages, fmt.Errorf("crawl %s: %w", baseURL, ctx.Err())
			}
			c.logger.Debug("page fetch failed", zap.String("url", next.url), zap.Error(err))
			metrics.ObserveCrawl(next.url, "error", 0)
			pages = append(pages, Page{URL: next.url, Depth: next.depth, Err: err})
			continue
		}
		metrics.ObserveCrawl(next.url, "ok", len(resp.Body))

		text, err := ExtractText(resp.Body)
		if err != nil {
			pages = append(pages, Page{URL: next.url, Depth: next.depth, Err: err})
			continue
		}
		pages = append(pages, Page{URL: next.url, Text: text, Depth: next.depth})

		if len(pages) >= maxPages || next.depth >= maxDepth {
			continue
		}
		links, err := ExtractLinks(resp.URL, resp.Body)
		if err != nil {
			continue
		}
		for _, link := range links {
			if _, done := fetched[link]; done {
				continue
			}
			if c.policy != nil && !c.policy.AllowLink(baseURL, link) {
				continue
			}
			pending = append(pending, queuedPage{url: link, depth: next.depth + 1})
		}
	}
	return pages, nil
}

func (c *SiteCrawler) fetch(ctx context.Context, url string) (FetchResponse, error) {
	resp, err := c.fetcher.Fetch(ctx, FetchRequest{URL: url})
	if err != nil {
		return FetchResponse{}, err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != 0 {
		return FetchResponse{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if resp.URL == "" {
		resp.URL = url
	}
	if c.headless == nil || c.detector == nil || !c.detector.ShouldPromote(resp) {
		return resp, nil
	}
	rendered, err := c.headless.Fetch(ctx, FetchRequest{URL: url, UseHeadless: true})
	if err != nil {
		c.logger.Warn("headless render failed; using plain response", zap.String("url", url), zap.Error(err))
		return resp, nil
	}
	if rendered.URL == "" {
		rendered.URL = url
	}
	return rendered, nil
}

// TextReader fetches a single page and returns its visible text.
type TextReader struct {
	fetcher Fetcher
}

// NewTextReader wraps a Fetcher.
func NewTextReader(fetcher Fetcher) *TextReader {
	return &TextReader{fetcher: fetcher}
}

// FetchText returns the page's text with scripts and styles removed.
func (r *TextReader) FetchText(ctx context.Context, url string) (string, error) {
	resp, err := r.fetcher.Fetch(ctx, FetchRequest{URL: url})
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", url, err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != 0 {
		return "", fmt.Errorf("fetch %s: unexpected status %d", url, resp.StatusCode)
	}
	return ExtractText(resp.Body)
}
