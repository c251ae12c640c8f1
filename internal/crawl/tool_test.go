package crawl

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/JakeFAU/nmkr-support-router/internal/config"
	"github.com/JakeFAU/nmkr-support-router/internal/hash/sha256"
	"github.com/JakeFAU/nmkr-support-router/internal/progress"
	"github.com/JakeFAU/nmkr-support-router/internal/storage/memory"
	"github.com/JakeFAU/nmkr-support-router/internal/support"
)

type echoGenerator struct {
	mu    sync.Mutex
	calls int
	fail  bool
}

func (g *echoGenerator) Generate(_ context.Context, _, user string, _ ...llms.CallOption) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.fail {
		return "", errors.New("rate limited")
	}
	idx := strings.LastIndex(user, "\n\n")
	return "summary of " + user[idx+2:], nil
}

type stubProvider struct {
	pages map[string][]Page
	err   error
	bases []string
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) Crawl(_ context.Context, base string, _, _ int) ([]Page, error) {
	p.bases = append(p.bases, base)
	return p.pages[base], p.err
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recordingEmitter) Emit(evt progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func TestToolResearchSummarizesPages(t *testing.T) {
	t.Parallel()

	provider := &stubProvider{pages: map[string][]Page{
		"https://docs.nmkr.io/": {
			{URL: "https://docs.nmkr.io/", Text: "Airdrops cost 2 ADA"},
			{URL: "https://docs.nmkr.io/broken", Err: errors.New("timeout")},
			{URL: "https://docs.nmkr.io/empty"},
		},
	}}
	gen := &echoGenerator{}
	blobs := memory.NewBlobStore()
	emitter := &recordingEmitter{}
	tool := NewTool(provider, NewSummarizer(gen, 500, 0.3, 0), Config{SnapshotPrefix: "snapshots"},
		WithSnapshots(blobs, sha256.New()), WithEmitter(emitter))

	ctx := support.WithJobID(context.Background(), "job-1")
	out, err := tool.Research(ctx, []string{"https://docs.nmkr.io/", " https://docs.nmkr.io/ ", ""})
	require.NoError(t, err)

	require.Equal(t, []string{"https://docs.nmkr.io/"}, provider.bases)
	require.Equal(t, "summary of Airdrops cost 2 ADA", out["https://docs.nmkr.io/"])
	require.Equal(t, "Error fetching https://docs.nmkr.io/broken: timeout", out["https://docs.nmkr.io/broken"])
	require.Equal(t, "", out["https://docs.nmkr.io/empty"])
	require.Equal(t, 1, gen.calls)

	paths := blobs.Paths()
	require.Len(t, paths, 1)
	require.True(t, strings.HasPrefix(paths[0], "snapshots/docs.nmkr.io/"))
	require.True(t, strings.HasSuffix(paths[0], ".txt"))

	require.Len(t, emitter.events, 2)
	require.Equal(t, progress.StageResearchDone, emitter.events[0].Stage)
	require.Equal(t, "job-1", emitter.events[0].JobID)
	require.Equal(t, "docs.nmkr.io", emitter.events[0].Site)
}

func TestToolResearchCapsBaseURLs(t *testing.T) {
	t.Parallel()

	provider := &stubProvider{}
	tool := NewTool(provider, NewSummarizer(&echoGenerator{}, 500, 0.3, 0), Config{MaxURLs: 2})
	_, err := tool.Research(context.Background(), []string{"https://a.example", "https://b.example", "https://c.example"})
	require.NoError(t, err)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, provider.bases)
}

func TestToolResearchRecordsProviderAndSummaryErrors(t *testing.T) {
	t.Parallel()

	provider := &stubProvider{err: errors.New("402 payment required")}
	tool := NewTool(provider, NewSummarizer(&echoGenerator{}, 500, 0.3, 0), Config{})
	out, err := tool.Research(context.Background(), []string{"https://www.nmkr.io/"})
	require.NoError(t, err)
	require.Equal(t, "Error fetching https://www.nmkr.io/: 402 payment required", out["https://www.nmkr.io/"])

	provider = &stubProvider{pages: map[string][]Page{
		"https://www.nmkr.io/": {{URL: "https://www.nmkr.io/", Text: "pricing"}},
	}}
	tool = NewTool(provider, NewSummarizer(&echoGenerator{fail: true}, 500, 0.3, 0), Config{})
	out, err = tool.Research(context.Background(), []string{"https://www.nmkr.io/"})
	require.NoError(t, err)
	require.Equal(t, "Error summarizing text: summarize: rate limited", out["https://www.nmkr.io/"])
}

func TestToolResearchCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	provider := &stubProvider{err: context.Canceled}
	tool := NewTool(provider, NewSummarizer(&echoGenerator{}, 500, 0.3, 0), Config{})
	_, err := tool.Research(ctx, []string{"https://www.nmkr.io/"})
	require.ErrorIs(t, err, context.Canceled)
}

func TestResolveProvider(t *testing.T) {
	t.Parallel()

	require.Equal(t, ProviderColly, ResolveProvider(config.CrawlConfig{Provider: "auto"}))
	require.Equal(t, ProviderSpider, ResolveProvider(config.CrawlConfig{Provider: "auto", SpiderAPIKey: "s"}))
	require.Equal(t, ProviderFirecrawl,
		ResolveProvider(config.CrawlConfig{Provider: "auto", SpiderAPIKey: "s", FirecrawlAPIKey: "f"}))
	require.Equal(t, ProviderColly, ResolveProvider(config.CrawlConfig{Provider: "colly", FirecrawlAPIKey: "f"}))
}

func TestSummarizerTruncates(t *testing.T) {
	t.Parallel()

	gen := &echoGenerator{}
	s := NewSummarizer(gen, 500, 0.3, 5)
	out, err := s.Summarize(context.Background(), "héllo world")
	require.NoError(t, err)
	require.Equal(t, "summary of héll", out)

	out, err = s.Summarize(context.Background(), "   ")
	require.NoError(t, err)
	require.Empty(t, out)
	require.Equal(t, 1, gen.calls)
}
