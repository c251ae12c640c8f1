package crawl

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/nmkr-support-router/internal/clock/system"
	"github.com/JakeFAU/nmkr-support-router/internal/config"
	"github.com/JakeFAU/nmkr-support-router/internal/progress"
	"github.com/JakeFAU/nmkr-support-router/internal/support"
	"github.com/JakeFAU/nmkr-support-router/internal/telemetry"
)

// Hosted crawl providers.
const (
	ProviderSpider    = "spider"
	ProviderFirecrawl = "firecrawl"
	ProviderAuto      = "auto"
)

// ResolveProvider turns "auto" into a concrete provider: firecrawl, then
// spider, then the local crawler, depending on which API keys are present.
func ResolveProvider(cfg config.CrawlConfig) string {
	if cfg.Provider != ProviderAuto && cfg.Provider != "" {
		return cfg.Provider
	}
	switch {
	case cfg.FirecrawlAPIKey != "":
		return ProviderFirecrawl
	case cfg.SpiderAPIKey != "":
		return ProviderSpider
	default:
		return ProviderColly
	}
}

// Researcher is what the agent pipeline needs from the crawling layer.
type Researcher interface {
	Research(ctx context.Context, urls []string) (map[string]string, error)
}

// Config bounds one Research call.
type Config struct {
	MaxPages int
	MaxDepth int
	// MaxURLs caps how many base URLs one call crawls.
	MaxURLs int
	// SnapshotPrefix and ContentType apply when snapshots are enabled.
	SnapshotPrefix string
	ContentType    string
}

// Tool researches base URLs and returns page summaries keyed by page URL.
type Tool struct {
	provider   Provider
	summarizer *Summarizer
	cfg        Config
	blobs      support.BlobStore
	hasher     support.Hasher
	emitter    progress.Emitter
	clock      support.Clock
	logger     *zap.Logger
}

var _ Researcher = (*Tool)(nil)

// ToolOption customizes a Tool.
type ToolOption func(*Tool)

// WithSnapshots stores each page's text under <prefix>/<host>/<digest>.txt.
func WithSnapshots(blobs support.BlobStore, hasher support.Hasher) ToolOption {
	return func(t *Tool) {
		t.blobs = blobs
		t.hasher = hasher
	}
}

// WithEmitter reports a RESEARCH_DONE event per summarized page.
func WithEmitter(emitter progress.Emitter) ToolOption {
	return func(t *Tool) {
		if emitter != nil {
			t.emitter = emitter
		}
	}
}

// WithClock overrides the clock used for progress timestamps.
func WithClock(clock support.Clock) ToolOption {
	return func(t *Tool) {
		if clock != nil {
			t.clock = clock
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) ToolOption {
	return func(t *Tool) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// NewTool builds a Tool.
func NewTool(provider Provider, summarizer *Summarizer, cfg Config, opts ...ToolOption) *Tool {
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 10
	}
	if cfg.MaxDepth < 0 {
		cfg.MaxDepth = 0
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "text/plain; charset=utf-8"
	}
	t := &Tool{
		provider:   provider,
		summarizer: summarizer,
		cfg:        cfg,
		emitter:    progress.NopEmitter{},
		clock:      system.New(),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Research crawls every base URL and summarizes each page. Per-page failures
// are recorded in the result; only cancellation returns an error.
func (t *Tool) Research(ctx context.Context, urls []string) (map[string]string, error) {
	results := make(map[string]string)
	for _, base := range t.baseURLs(urls) {
		if err := t.researchSite(ctx, base, results); err != nil {
			return results, err
		}
	}
	return results, nil
}

func (t *Tool) researchSite(ctx context.Context, base string, results map[string]string) error {
	ctx, span := telemetry.Tracer().Start(ctx, "crawl.research", trace.WithAttributes(
		attribute.String("crawl.base_url", base),
		attribute.String("crawl.provider", t.provider.Name()),
	))
	defer span.End()

	logger := t.logger.With(zap.String("base_url", base), zap.String("provider", t.provider.Name()))
	start := t.clock.Now()
	pages, err := t.provider.Crawl(ctx, base, t.cfg.MaxPages, t.cfg.MaxDepth)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("research %s: %w", base, ctx.Err())
		}
		logger.Warn("crawl failed", zap.Error(err))
		results[base] = fetchError(base, err)
	}
	span.SetAttributes(attribute.Int("crawl.pages", len(pages)))

	for _, page := range pages {
		if page.Err != nil {
			results[page.URL] = fetchError(page.URL, page.Err)
			continue
		}
		t.snapshot(ctx, page, logger)
		summary, err := t.summarizer.Summarize(ctx, page.Text)
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("research %s: %w", base, ctx.Err())
			}
			summary = fmt.Sprintf("Error summarizing text: %v", err)
		}
		results[page.URL] = summary
		t.emit(ctx, page, t.clock.Now().Sub(start))
	}
	logger.Debug("site researched", zap.Int("pages", len(pages)))
	return nil
}

// baseURLs trims, deduplicates and caps the requested URLs.
func (t *Tool) baseURLs(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, raw := range urls {
		u := strings.TrimSpace(raw)
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
		if t.cfg.MaxURLs > 0 && len(out) == t.cfg.MaxURLs {
			break
		}
	}
	return out
}

func (t *Tool) snapshot(ctx context.Context, page Page, logger *zap.Logger) {
	if t.blobs == nil || t.hasher == nil || page.Text == "" {
		return
	}
	digest, err := t.hasher.Hash([]byte(page.Text))
	if err != nil {
		logger.Warn("hash snapshot failed", zap.String("url", page.URL), zap.Error(err))
		return
	}
	key := path.Join(t.cfg.SnapshotPrefix, hostOf(page.URL), digest+".txt")
	uri, err := t.blobs.PutObject(ctx, key, t.cfg.ContentType, strings.NewReader(page.Text))
	if err != nil {
		logger.Warn("store snapshot failed", zap.String("url", page.URL), zap.Error(err))
		return
	}
	logger.Debug("snapshot stored", zap.String("url", page.URL), zap.String("uri", uri))
}

func (t *Tool) emit(ctx context.Context, page Page, dur time.Duration) {
	jobID := support.JobIDFrom(ctx)
	if jobID == "" {
		return
	}
	t.emitter.Emit(progress.Event{
		JobID: jobID,
		TS:    t.clock.Now(),
		Stage: progress.StageResearchDone,
		Site:  hostOf(page.URL),
		Bytes: int64(len(page.Text)),
		Dur:   dur,
	})
}

func fetchError(u string, err error) string {
	return fmt.Sprintf("Error fetching %s: %v", u, err)
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}
