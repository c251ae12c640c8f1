package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/fake"

	"github.com/JakeFAU/nmkr-support-router/internal/catalog"
	"github.com/JakeFAU/nmkr-support-router/internal/llm"
	"github.com/JakeFAU/nmkr-support-router/internal/progress"
	"github.com/JakeFAU/nmkr-support-router/internal/support"
)

type call struct {
	system string
	user   string
}

// scriptedGenerator replays replies in order and records every prompt.
type scriptedGenerator struct {
	mu      sync.Mutex
	replies []string
	failAt  int
	calls   []call
}

func (g *scriptedGenerator) Generate(_ context.Context, system, user string, _ ...llms.CallOption) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, call{system: system, user: user})
	n := len(g.calls)
	if g.failAt == n {
		return "", errors.New("provider unavailable")
	}
	if n > len(g.replies) {
		return "", errors.New("no scripted reply")
	}
	return g.replies[n-1], nil
}

type stubResearcher struct {
	mu    sync.Mutex
	urls  []string
	notes map[string]string
	err   error
}

func (r *stubResearcher) Research(_ context.Context, urls []string) (map[string]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.urls = append([]string(nil), urls...)
	return r.notes, r.err
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

func (r *recordingEmitter) steps() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, evt := range r.events {
		out = append(out, evt.Step)
	}
	return out
}

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.Load("", "")
	require.NoError(t, err)
	return cat
}

const airdropQuery = "What does it cost to airdrop 1000 NFTs with NMKR Studio?"

func airdropReplies() []string {
	return []string{
		"```json\n" + `{"business": true, "technical": false, "user": true, "primary": "business"}` + "\n```",
		"Key question: price of an airdrop of 1000 NFTs. Needed: mint credit cost, network fees.",
		`{"business": ["https://www.nmkr.io/pricing", "https://not-in-catalog.example/"], ` +
			`"user": ["https://docs.nmkr.io/nmkr-studio/airdrops"], "technical": []}`,
		"An airdrop of 1000 NFTs needs 1000 mint credits plus Cardano fees.",
		"Airdropping 1000 NFTs costs 1000 mint credits plus network fees.",
		`{"user": ["https://docs.nmkr.io/nmkr-studio/airdrops", "https://docs.nmkr.io/nmkr-studio/mint-credits"]}`,
		"Hi! Airdropping 1000 NFTs costs 1000 mint credits plus network fees. See the airdrop guide.",
	}
}

func TestPipelineProcessAirdropQuestion(t *testing.T) {
	t.Parallel()

	gen := &scriptedGenerator{replies: airdropReplies()}
	research := &stubResearcher{notes: map[string]string{
		"https://www.nmkr.io/pricing": "Mint credits cost 2 ADA each.",
	}}
	emitter := &recordingEmitter{}
	p := New(gen, research, testCatalog(t), WithEmitter(emitter))

	ctx := support.WithJobID(context.Background(), "job-1")
	answer, err := p.Process(ctx, support.Request{Query: "  " + airdropQuery + " ", Language: "de"})
	require.NoError(t, err)

	require.Equal(t, support.CategoryBusiness, answer.Category)
	require.Contains(t, answer.Answer, "1000 mint credits")
	require.Equal(t, []string{
		"https://docs.nmkr.io/nmkr-studio/airdrops",
		"https://docs.nmkr.io/nmkr-studio/mint-credits",
	}, answer.Links)

	// pricing goes first and links outside the catalog never reach research.
	require.Equal(t, []string{
		"https://www.nmkr.io/pricing",
		"https://docs.nmkr.io/nmkr-studio/airdrops",
	}, research.urls)

	require.Len(t, gen.calls, 7)
	require.Contains(t, gen.calls[0].user, airdropQuery)
	require.NotContains(t, gen.calls[0].user, "  "+airdropQuery)
	require.Contains(t, gen.calls[1].user, "Category: business")
	require.Contains(t, gen.calls[2].user, "https://docs.nmkr.io/nmkr-studio/airdrops")
	require.True(t, strings.HasPrefix(gen.calls[3].system, "You are an NMKR Business Development Specialist"))
	require.Contains(t, gen.calls[3].user, "Mint credits cost 2 ADA each.")
	require.Contains(t, gen.calls[6].system, `"de"`)
	require.Contains(t, gen.calls[6].user, "- https://docs.nmkr.io/nmkr-studio/mint-credits")

	require.Equal(t, []string{"route", "structure", "specialize", "answer"}, emitter.steps())
	for _, evt := range emitter.events {
		require.NoError(t, evt.Validate())
		require.Equal(t, "job-1", evt.JobID)
	}
}

func TestPipelineProcessWithLangchainFake(t *testing.T) {
	t.Parallel()

	gen := llm.Wrap(fake.NewFakeLLM(airdropReplies()), "fake", 256, 0.2)
	research := &stubResearcher{notes: map[string]string{}}
	p := New(gen, research, testCatalog(t))

	answer, err := p.Process(context.Background(), support.Request{Query: airdropQuery})
	require.NoError(t, err)
	require.Equal(t, support.CategoryBusiness, answer.Category)
	require.NotEmpty(t, answer.Answer)
}

func TestPipelineProcessStageFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		failAt      int
		researchErr error
		want        Stage
	}{
		{name: "router", failAt: 1, want: StageRoute},
		{name: "link selection", failAt: 3, want: StageStructure},
		{name: "research", researchErr: errors.New("crawl down"), want: StageSpecialize},
		{name: "draft", failAt: 4, want: StageSpecialize},
		{name: "final answer", failAt: 7, want: StageAnswer},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			gen := &scriptedGenerator{replies: airdropReplies(), failAt: tc.failAt}
			research := &stubResearcher{err: tc.researchErr}
			p := New(gen, research, testCatalog(t))

			_, err := p.Process(context.Background(), support.Request{Query: airdropQuery})
			require.Error(t, err)
			require.ErrorIs(t, err, support.ErrPipeline)

			var stageErr *StageError
			require.ErrorAs(t, err, &stageErr)
			require.Equal(t, tc.want, stageErr.Stage)
			require.Equal(t, string(tc.want), stageErr.StageName())
		})
	}
}

func TestPipelineProcessRejectsEmptyQuery(t *testing.T) {
	t.Parallel()

	gen := &scriptedGenerator{}
	p := New(gen, &stubResearcher{}, testCatalog(t))

	_, err := p.Process(context.Background(), support.Request{Query: "   "})
	require.ErrorIs(t, err, support.ErrValidation)
	require.Empty(t, gen.calls)
}

func TestPipelineProcessEmptyReplyFails(t *testing.T) {
	t.Parallel()

	replies := airdropReplies()
	replies[1] = "   "
	p := New(&scriptedGenerator{replies: replies}, &stubResearcher{}, testCatalog(t))

	_, err := p.Process(context.Background(), support.Request{Query: airdropQuery})
	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	require.Equal(t, StageStructure, stageErr.Stage)
}

func TestPipelineProcessCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	p := New(&scriptedGenerator{replies: airdropReplies()}, &stubResearcher{}, testCatalog(t))
	_, err := p.Process(ctx, support.Request{Query: airdropQuery})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.ErrorIs(t, err, support.ErrPipeline)
}

func TestPipelineWithoutJobIDEmitsNothing(t *testing.T) {
	t.Parallel()

	emitter := &recordingEmitter{}
	p := New(&scriptedGenerator{replies: airdropReplies()}, &stubResearcher{}, testCatalog(t), WithEmitter(emitter))
	_, err := p.Process(context.Background(), support.Request{Query: airdropQuery})
	require.NoError(t, err)
	require.Empty(t, emitter.events)
}
