package worker

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/newsdesk/internal/apperr"
	"github.com/smallbiznis/newsdesk/internal/generation"
	jobdomain "github.com/smallbiznis/newsdesk/internal/job/domain"
	promptdomain "github.com/smallbiznis/newsdesk/internal/prompt/domain"
	sourcedomain "github.com/smallbiznis/newsdesk/internal/source/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	defaultGenerateLimit = 5
	defaultAnalyzeLimit  = 10

	CounterSourcesRefreshed = "sources_refreshed"
	CounterArticlesFetched  = "articles_fetched"
	CounterArticlesInserted = "articles_inserted"
	CounterRefreshErrors    = "refresh_errors"

	phaseRefresh = "source_refresh"
)

// Handler executes one job kind.
type Handler interface {
	Handle(ctx context.Context, run *generation.Run) error
}

type HandlerFunc func(ctx context.Context, run *generation.Run) error

func (f HandlerFunc) Handle(ctx context.Context, run *generation.Run) error { return f(ctx, run) }

type HandlerParams struct {
	fx.In

	Log      *zap.Logger
	Executor *generation.Executor
	Sources  sourcedomain.Service
}

// Pipeline holds the handlers of the four job kinds.
type Pipeline struct {
	log     *zap.Logger
	exec    *generation.Executor
	sources sourcedomain.Service
}

func NewPipeline(p HandlerParams) *Pipeline {
	return &Pipeline{
		log:     p.Log.Named("worker.pipeline"),
		exec:    p.Executor,
		sources: p.Sources,
	}
}

// Handlers maps job types to their handler.
func (p *Pipeline) Handlers() map[string]Handler {
	return map[string]Handler{
		jobdomain.TypeContentGeneration: HandlerFunc(p.ContentGeneration),
		jobdomain.TypeAnalyzeArticles:   HandlerFunc(p.AnalyzeArticles),
		jobdomain.TypeFullCycle:         HandlerFunc(p.FullCycle),
		jobdomain.TypeSourceRefresh:     HandlerFunc(p.SourceRefresh),
	}
}

func (p *Pipeline) ContentGeneration(ctx context.Context, run *generation.Run) error {
	var payload jobdomain.ContentGenerationPayload
	if err := decodePayload(run.Job, &payload); err != nil {
		return err
	}

	var opts generation.StoryOptions
	if payload.PredecessorID != "" {
		id, err := snowflake.ParseString(payload.PredecessorID)
		if err != nil {
			return jobdomain.ErrInvalidPayload
		}
		opts.PredecessorID = &id
	}

	var stories []sourcedomain.ScrapedArticle
	if storyID := payload.Story(); storyID != "" {
		story, err := p.sources.GetArticle(ctx, run.Scope, storyID)
		if err != nil {
			return err
		}
		stories = append(stories, *story)
	} else {
		limit := payload.Limit
		if limit <= 0 {
			limit = defaultGenerateLimit
		}
		eligible, err := p.sources.ListEligible(ctx, run.Scope, limit)
		if err != nil {
			return err
		}
		stories = eligible
	}
	if len(stories) == 0 {
		return nil
	}

	chain, err := p.exec.Chain(ctx, run, payload.TemplateIDs)
	if err != nil {
		return err
	}
	return p.generate(ctx, run, chain, stories, opts)
}

func (p *Pipeline) AnalyzeArticles(ctx context.Context, run *generation.Run) error {
	var payload jobdomain.AnalyzeArticlesPayload
	if err := decodePayload(run.Job, &payload); err != nil {
		return err
	}
	return p.analyze(ctx, run, payload.Limit)
}

// FullCycle refreshes every active source, analyzes what came in and
// generates content for eligible articles.
func (p *Pipeline) FullCycle(ctx context.Context, run *generation.Run) error {
	var payload jobdomain.FullCyclePayload
	if err := decodePayload(run.Job, &payload); err != nil {
		return err
	}

	// A retried cycle keeps the refresh of its earlier attempt.
	if !run.Refs.PhaseDone(phaseRefresh) {
		if err := p.refreshAll(ctx, run); err != nil {
			return err
		}
		run.Refs.MarkPhase(phaseRefresh)
		if err := run.Save(ctx); err != nil {
			return err
		}
	}
	if err := p.analyze(ctx, run, payload.AnalyzeLimit); err != nil {
		return err
	}

	limit := payload.Limit
	if limit <= 0 {
		limit = defaultGenerateLimit
	}
	stories, err := p.sources.ListEligible(ctx, run.Scope, limit)
	if err != nil {
		return err
	}
	if len(stories) == 0 {
		return nil
	}
	chain, err := p.exec.Chain(ctx, run, nil)
	if err != nil {
		return err
	}
	return p.generate(ctx, run, chain, stories, generation.StoryOptions{})
}

func (p *Pipeline) SourceRefresh(ctx context.Context, run *generation.Run) error {
	var payload jobdomain.SourceRefreshPayload
	if err := decodePayload(run.Job, &payload); err != nil {
		return err
	}
	if payload.SourceID == "" {
		return p.refreshAll(ctx, run)
	}
	result, err := p.sources.Refresh(ctx, run.Scope, payload.SourceID)
	if err != nil {
		return err
	}
	recordRefresh(run, *result)
	return nil
}

func (p *Pipeline) generate(ctx context.Context, run *generation.Run, chain []promptdomain.ChainStep, stories []sourcedomain.ScrapedArticle, opts generation.StoryOptions) error {
	for i := range stories {
		if err := p.exec.GenerateStory(ctx, run, chain, &stories[i], opts); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) analyze(ctx context.Context, run *generation.Run, limit int) error {
	if limit <= 0 {
		limit = defaultAnalyzeLimit
	}
	pending, err := p.sources.ListPendingAnalysis(ctx, run.Scope, limit)
	if err != nil {
		return err
	}
	for i := range pending {
		if err := p.exec.Analyze(ctx, run, &pending[i]); err != nil {
			return err
		}
	}
	return nil
}

// refreshAll tolerates a missing fetcher so full cycles still process
// articles ingested through the API.
func (p *Pipeline) refreshAll(ctx context.Context, run *generation.Run) error {
	results, err := p.sources.RefreshAll(ctx, run.Scope)
	if errors.Is(err, sourcedomain.ErrFetcherMissing) {
		p.log.Debug("no fetcher configured, skipping source refresh")
		return nil
	}
	if err != nil {
		return err
	}
	for _, result := range results {
		recordRefresh(run, result)
	}
	return nil
}

func recordRefresh(run *generation.Run, result sourcedomain.RefreshResult) {
	run.Refs.Inc(CounterSourcesRefreshed, 1)
	run.Refs.Inc(CounterArticlesFetched, result.Fetched)
	run.Refs.Inc(CounterArticlesInserted, result.Inserted)
	if result.Error != "" {
		run.Refs.Inc(CounterRefreshErrors, 1)
	}
}

func decodePayload(job *jobdomain.Job, out any) error {
	if job == nil || len(job.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(job.Payload, out); err != nil {
		return apperr.Wrap(apperr.KindValidation, jobdomain.ErrInvalidPayload.Code, err)
	}
	return nil
}
