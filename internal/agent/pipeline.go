// Package agent answers support requests with a four-stage LLM pipeline:
// route, structure, specialize and answer.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/JakeFAU/nmkr-support-router/internal/catalog"
	"github.com/JakeFAU/nmkr-support-router/internal/clock/system"
	"github.com/JakeFAU/nmkr-support-router/internal/crawl"
	"github.com/JakeFAU/nmkr-support-router/internal/llm"
	"github.com/JakeFAU/nmkr-support-router/internal/metrics"
	"github.com/JakeFAU/nmkr-support-router/internal/progress"
	"github.com/JakeFAU/nmkr-support-router/internal/support"
	"github.com/JakeFAU/nmkr-support-router/internal/telemetry"
)

// DefaultMaxLinks caps how many links a selection step keeps.
const DefaultMaxLinks = 10

var errEmptyReply = errors.New("model returned an empty reply")

// Pipeline implements support.Pipeline.
type Pipeline struct {
	gen      llm.Generator
	research crawl.Researcher
	catalog  *catalog.Catalog
	maxLinks int
	emitter  progress.Emitter
	clock    support.Clock
	logger   *zap.Logger
}

var _ support.Pipeline = (*Pipeline)(nil)

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithEmitter reports STEP_DONE progress events.
func WithEmitter(emitter progress.Emitter) Option {
	return func(p *Pipeline) {
		if emitter != nil {
			p.emitter = emitter
		}
	}
}

// WithClock overrides the time source.
func WithClock(clock support.Clock) Option {
	return func(p *Pipeline) {
		if clock != nil {
			p.clock = clock
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithMaxLinks overrides DefaultMaxLinks.
func WithMaxLinks(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.maxLinks = n
		}
	}
}

// New builds a Pipeline.
func New(gen llm.Generator, research crawl.Researcher, cat *catalog.Catalog, opts ...Option) *Pipeline {
	p := &Pipeline{
		gen:      gen,
		research: research,
		catalog:  cat,
		maxLinks: DefaultMaxLinks,
		emitter:  progress.NopEmitter{},
		clock:    system.New(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// run carries intermediate results between stages.
type run struct {
	req        support.Request
	category   support.Category
	structured string
	links      []string
	draft      string
}

// Process runs every stage in order. Any failure is returned as *StageError.
func (p *Pipeline) Process(ctx context.Context, req support.Request) (support.Answer, error) {
	req = req.Normalize()
	if err := req.Validate(); err != nil {
		return support.Answer{}, &StageError{Stage: StageRoute, Err: err}
	}
	r := &run{req: req}
	stages := []struct {
		stage Stage
		fn    func(context.Context, *run) error
	}{
		{StageRoute, p.route},
		{StageStructure, p.structure},
		{StageSpecialize, p.specialize},
	}
	for _, s := range stages {
		if err := p.step(ctx, s.stage, r, s.fn); err != nil {
			return support.Answer{}, err
		}
	}
	var answer support.Answer
	err := p.step(ctx, StageAnswer, r, func(ctx context.Context, r *run) error {
		var err error
		answer, err = p.answer(ctx, r)
		return err
	})
	if err != nil {
		return support.Answer{}, err
	}
	return answer, nil
}

func (p *Pipeline) step(ctx context.Context, stage Stage, r *run, fn func(context.Context, *run) error) error {
	ctx, span := telemetry.Tracer().Start(ctx, "agent."+string(stage))
	defer span.End()

	start := p.clock.Now()
	err := fn(ctx, r)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	dur := p.clock.Now().Sub(start)
	outcome := "ok"
	if err != nil {
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, string(stage))
	}
	metrics.ObserveStage(string(stage), outcome, dur)
	if err != nil {
		return &StageError{Stage: stage, Err: err}
	}
	span.SetAttributes(attribute.String("support.category", string(r.category)))
	if jobID := support.JobIDFrom(ctx); jobID != "" {
		p.emitter.Emit(progress.Event{
			JobID:    jobID,
			TS:       p.clock.Now(),
			Stage:    progress.StageStepDone,
			Step:     string(stage),
			Category: string(r.category),
			Dur:      dur,
		})
	}
	p.logger.Debug("stage done",
		zap.String("job_id", support.JobIDFrom(ctx)),
		zap.String("stage", string(stage)),
		zap.Duration("dur", dur))
	return nil
}

func (p *Pipeline) route(ctx context.Context, r *run) error {
	reply, err := p.generate(ctx, routerSystem, fmt.Sprintf(routerUser, r.req.Query))
	if err != nil {
		return err
	}
	r.category = parseCategory(reply)
	return nil
}

func (p *Pipeline) structure(ctx context.Context, r *run) error {
	structured, err := p.generate(ctx, structureSystem, fmt.Sprintf(structureUser, r.category, r.req.Query))
	if err != nil {
		return err
	}
	r.structured = structured

	all := append(append([]catalog.Link(nil), p.catalog.Site...), p.catalog.Docs...)
	reply, err := p.generate(ctx, fmt.Sprintf(linkSystem, p.maxLinks),
		fmt.Sprintf(linkUser, structured, catalog.Format(all)))
	if err != nil {
		return err
	}
	r.links = p.catalog.Filter(parseLinks(reply, r.category), p.maxLinks)
	return nil
}

func (p *Pipeline) specialize(ctx context.Context, r *run) error {
	brief := SpecialistFor(r.category)(SpecialistInput{
		Request:    r.req,
		Structured: r.structured,
		Links:      r.links,
	})
	notes, err := p.research.Research(ctx, brief.URLs)
	if err != nil {
		return fmt.Errorf("research: %w", err)
	}
	draft, err := p.generate(ctx, brief.Role,
		fmt.Sprintf(draftUser, brief.Instructions, r.structured, formatNotes(notes)))
	if err != nil {
		return err
	}
	r.draft = draft
	return nil
}

func (p *Pipeline) answer(ctx context.Context, r *run) (support.Answer, error) {
	summary, err := p.generate(ctx, summarySystem, fmt.Sprintf(summaryUser, r.req.Query, r.draft))
	if err != nil {
		return support.Answer{}, err
	}
	reply, err := p.generate(ctx, fmt.Sprintf(followUpSystem, p.maxLinks),
		fmt.Sprintf(followUpUser, summary, catalog.Format(p.catalog.Docs)))
	if err != nil {
		return support.Answer{}, err
	}
	followUps := p.catalog.Filter(parseLinks(reply, r.category), p.maxLinks)

	final, err := p.generate(ctx, fmt.Sprintf(answerSystem, r.req.Language),
		fmt.Sprintf(answerUser, r.req.Query, summary, bulletList(followUps)))
	if err != nil {
		return support.Answer{}, err
	}
	return support.Answer{
		Category: r.category,
		Answer:   final,
		Links:    followUps,
	}, nil
}

func (p *Pipeline) generate(ctx context.Context, system, user string) (string, error) {
	out, err := p.gen.Generate(ctx, system, user)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(out) == "" {
		return "", errEmptyReply
	}
	return out, nil
}

// formatNotes renders research results in a stable order.
func formatNotes(notes map[string]string) string {
	if len(notes) == 0 {
		return "No research notes were available."
	}
	urls := make([]string, 0, len(notes))
	for u := range notes {
		urls = append(urls, u)
	}
	sort.Strings(urls)
	var b strings.Builder
	for _, u := range urls {
		fmt.Fprintf(&b, "## %s\n%s\n\n", u, notes[u])
	}
	return b.String()
}

func bulletList(urls []string) string {
	if len(urls) == 0 {
		return "(none)"
	}
	return "- " + strings.Join(urls, "\n- ")
}
