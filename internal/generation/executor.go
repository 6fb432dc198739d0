// Package generation walks an account's template chain for a scraped
// article: render, call the model, parse, then persist through dual-write.
package generation

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/newsdesk/internal/accountctx"
	"github.com/smallbiznis/newsdesk/internal/apperr"
	"github.com/smallbiznis/newsdesk/internal/clock"
	contentdomain "github.com/smallbiznis/newsdesk/internal/content/domain"
	"github.com/smallbiznis/newsdesk/internal/content/dualwrite"
	jobdomain "github.com/smallbiznis/newsdesk/internal/job/domain"
	"github.com/smallbiznis/newsdesk/internal/llm"
	"github.com/smallbiznis/newsdesk/internal/observability/logger"
	"github.com/smallbiznis/newsdesk/internal/observability/metrics"
	"github.com/smallbiznis/newsdesk/internal/observability/tracing"
	promptdomain "github.com/smallbiznis/newsdesk/internal/prompt/domain"
	"github.com/smallbiznis/newsdesk/internal/prompt/parse"
	"github.com/smallbiznis/newsdesk/internal/prompt/render"
	sourcedomain "github.com/smallbiznis/newsdesk/internal/source/domain"
	tenancydomain "github.com/smallbiznis/newsdesk/internal/tenancy/domain"
	"github.com/smallbiznis/newsdesk/pkg/db"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	SkipParseError       = "parse_error"
	SkipNoImageProvider  = "image_provider_unavailable"
	SkipNoImageFound     = "no_image_found"
	CounterStories       = "stories_generated"
	CounterStepsExecuted = "steps_executed"
	CounterStepsSkipped  = "steps_skipped"
)

var (
	ErrEmptyChain    = apperr.Validation("empty_template_chain", "account has no active prompt templates")
	ErrQuotaExceeded = apperr.New(apperr.KindQuotaExceeded, "daily_generation_quota", "daily generation quota reached")
)

// Image is a published picture for an image-media template.
type Image struct {
	SourceURL string
	CDNURL    string
	AltText   string
	Meta      map[string]any
}

// ImageFinder searches a stock provider and republishes the hit on the CDN.
// A nil Image means nothing matched.
type ImageFinder interface {
	FindImage(ctx context.Context, query string) (*Image, error)
}

type Params struct {
	fx.In

	Log      *zap.Logger
	Prompts  promptdomain.Service
	Recorder *llm.Recorder
	Writer   *dualwrite.Writer
	Contents contentdomain.Repository
	Sources  sourcedomain.Service
	Tenancy  tenancydomain.Service
	Clock    clock.Clock
	Images   ImageFinder            `optional:"true"`
	Metrics  *metrics.WorkerMetrics `optional:"true"`
}

type Executor struct {
	log      *zap.Logger
	prompts  promptdomain.Service
	recorder *llm.Recorder
	writer   *dualwrite.Writer
	contents contentdomain.Repository
	sources  sourcedomain.Service
	tenancy  tenancydomain.Service
	clock    clock.Clock
	images   ImageFinder
	metrics  *metrics.WorkerMetrics
}

func NewExecutor(p Params) *Executor {
	return &Executor{
		log:      p.Log.Named("generation.executor"),
		prompts:  p.Prompts,
		recorder: p.Recorder,
		writer:   p.Writer,
		contents: p.Contents,
		sources:  p.Sources,
		tenancy:  p.Tenancy,
		clock:    p.Clock,
		images:   p.Images,
		metrics:  p.Metrics,
	}
}

// Run is the state one job threads through the executor.
type Run struct {
	Job   *jobdomain.Job
	Scope accountctx.Scope
	Refs  *jobdomain.ResultRefs
	// Checkpoint extends the lease, persists Refs and returns
	// jobdomain.ErrCancelRequested once a cancel was requested.
	Checkpoint func(ctx context.Context) error

	account  map[string]any
	settings *tenancydomain.AccountSettings
	sources  map[snowflake.ID]string
}

func (r *Run) checkpoint(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.Checkpoint == nil {
		return nil
	}
	return r.Checkpoint(ctx)
}

// Save runs the checkpoint hook if one is set.
func (r *Run) Save(ctx context.Context) error {
	return r.checkpoint(ctx)
}

func (r *Run) jobID() snowflake.ID {
	if r.Job == nil {
		return 0
	}
	return r.Job.ID
}

// StoryOptions tweaks one story generation.
type StoryOptions struct {
	PredecessorID *snowflake.ID
}

// Chain returns the templates the job runs. The first call pins every
// template to its current version; later calls, including retries of the
// same job, reload exactly those versions.
func (e *Executor) Chain(ctx context.Context, run *Run, templateIDs []string) ([]promptdomain.ChainStep, error) {
	accountID := run.Scope.AccountID
	if len(run.Refs.PinnedChain) > 0 {
		pins := make([]promptdomain.Pin, 0, len(run.Refs.PinnedChain))
		for _, pin := range run.Refs.PinnedChain {
			pins = append(pins, promptdomain.Pin{TemplateID: pin.TemplateID, VersionID: pin.VersionID})
		}
		return e.prompts.PinnedChain(ctx, accountID, pins)
	}

	var (
		chain []promptdomain.ChainStep
		err   error
	)
	if len(templateIDs) > 0 {
		chain, err = e.prompts.ResolveChain(ctx, accountID, templateIDs)
	} else {
		chain, err = e.prompts.ActiveChain(ctx, accountID)
	}
	if err != nil {
		return nil, err
	}
	if len(chain) == 0 {
		return nil, ErrEmptyChain
	}
	for _, step := range chain {
		run.Refs.PinnedChain = append(run.Refs.PinnedChain, jobdomain.Pin{
			TemplateID: step.Template.ID.String(),
			VersionID:  step.Version.ID.String(),
		})
	}
	return chain, nil
}

// GenerateStory runs the chain for one scraped article. Steps already
// recorded in the run's refs are not executed again; their outputs are
// reloaded so later templates still see them as prior context.
func (e *Executor) GenerateStory(ctx context.Context, run *Run, chain []promptdomain.ChainStep, story *sourcedomain.ScrapedArticle, opts StoryOptions) error {
	log := logger.WithContext(ctx, e.log).With(
		zap.String("scraped_article_id", story.ID.String()),
		zap.Int("chain_length", len(chain)),
	)

	account, err := e.accountVars(ctx, run)
	if err != nil {
		return err
	}
	article, err := e.articleFor(ctx, run, story, opts)
	if err != nil {
		return err
	}

	storyID := story.ID.String()
	prior := map[string]any{}
	vars := map[string]any{
		"article": map[string]any{
			"id":       storyID,
			"title":    story.Title,
			"content":  story.FullText,
			"summary":  story.Summary,
			"source":   e.sourceName(ctx, run, story),
			"url":      story.URL,
			"keywords": decodeStrings(story.Keywords),
		},
		"blog":    map[string]any{"id": article.ID.String()},
		"account": account,
		"prior":   prior,
	}

	for _, step := range chain {
		templateID := step.Template.ID.String()
		if done, ok := run.Refs.Step(storyID, templateID); ok {
			if err := e.restorePrior(ctx, run, article, done, prior); err != nil {
				return err
			}
			continue
		}
		if err := run.checkpoint(ctx); err != nil {
			return err
		}

		ref, entries, err := e.runStep(ctx, run, step, story, article, vars)
		if err != nil {
			run.Refs.Failures = append(run.Refs.Failures, jobdomain.FailureRef{
				ScrapedArticleID: storyID,
				TemplateID:       templateID,
				Kind:             string(apperr.KindOf(err)),
				Code:             apperr.CodeOf(err),
				Message:          err.Error(),
			})
			e.metrics.IncTemplateStep(step.Template.ParsingMethod, "failed")
			log.Warn("template step failed",
				zap.String("template_id", templateID),
				zap.String("category", step.Template.Category),
				zap.Error(err),
			)
			return err
		}
		run.Refs.AddStep(ref)
		// Persist the step before anything else so a replay cannot write
		// the same artifacts twice.
		if err := run.checkpoint(ctx); err != nil {
			return err
		}
		if ref.Skipped {
			run.Refs.Inc(CounterStepsSkipped, 1)
			e.metrics.IncTemplateStep(step.Template.ParsingMethod, "skipped")
			continue
		}
		run.Refs.Inc(CounterStepsExecuted, 1)
		e.metrics.IncTemplateStep(step.Template.ParsingMethod, "ok")
		setPrior(prior, step.Template.Category, entries)
	}

	if err := e.sources.MarkProcessed(ctx, run.Scope, storyID); err != nil {
		return err
	}
	run.Refs.Inc(CounterStories, 1)
	log.Info("story generated", zap.String("generated_article_id", article.ID.String()))
	return nil
}

func (e *Executor) runStep(ctx context.Context, run *Run, step promptdomain.ChainStep, story *sourcedomain.ScrapedArticle, article *contentdomain.GeneratedArticle, vars map[string]any) (jobdomain.StepRef, []map[string]any, error) {
	tmpl, version := step.Template, step.Version
	ref := jobdomain.StepRef{
		ScrapedArticleID: story.ID.String(),
		TemplateID:       tmpl.ID.String(),
		VersionID:        version.ID.String(),
		Category:         tmpl.Category,
	}
	ctx, span := tracing.StartSpan(ctx, "generation", "generation.step",
		attribute.String("category", tmpl.Category),
		attribute.String("parsing_method", tmpl.ParsingMethod),
	)
	var spanErr error
	defer func() { tracing.EndSpan(span, spanErr) }()

	isImage := tmpl.MediaType == promptdomain.MediaImage
	if isImage && e.images == nil {
		ref.Skipped, ref.SkipReason = true, SkipNoImageProvider
		return ref, nil, nil
	}

	prompt, err := render.Render(version.PromptContent, vars)
	if err != nil {
		spanErr = err
		return ref, nil, err
	}
	system := ""
	if version.SystemMessage != nil {
		if system, err = render.Render(*version.SystemMessage, vars); err != nil {
			spanErr = err
			return ref, nil, err
		}
	}

	if err := run.checkpoint(ctx); err != nil {
		return ref, nil, err
	}
	articleID := article.ID
	versionID := version.ID
	meta := llm.CallMeta{
		AccountID:          run.Scope.AccountID,
		GeneratedArticleID: &articleID,
		TemplateVersionID:  &versionID,
		PromptCategory:     tmpl.Category,
	}
	if jobID := run.jobID(); jobID != 0 {
		meta.JobID = &jobID
	}
	resp, logID, err := e.recorder.Generate(ctx, meta, llm.Request{
		Prompt:          prompt,
		SystemMessage:   system,
		MaxOutputTokens: version.MaxOutputTokens(0),
	})
	if err != nil {
		spanErr = err
		return ref, nil, err
	}

	var entries []map[string]any
	if isImage {
		entries, err = e.findImage(ctx, resp)
		if err != nil {
			spanErr = err
			return ref, nil, err
		}
		if len(entries) == 0 {
			ref.Skipped, ref.SkipReason = true, SkipNoImageFound
			return ref, nil, nil
		}
	} else {
		entries, err = parse.Parse(parse.Input{
			Method:          tmpl.ParsingMethod,
			Text:            resp.Text,
			StopReason:      resp.StopReason,
			Sections:        version.Sections(),
			DefaultPlatform: stringParam(version.Parameters, "platform"),
		})
		if err != nil {
			e.recorder.MarkParseFailure(ctx, run.Scope.AccountID, logID, err)
			if tmpl.OnParseError == promptdomain.OnParseErrorSkip {
				ref.Skipped, ref.SkipReason = true, SkipParseError+":"+apperr.CodeOf(err)
				return ref, nil, nil
			}
			spanErr = err
			return ref, nil, err
		}
	}

	if err := run.checkpoint(ctx); err != nil {
		return ref, nil, err
	}
	res, err := e.writer.Write(ctx, dualwrite.Artifact{
		AccountID:         run.Scope.AccountID,
		Article:           article,
		PromptCategory:    tmpl.Category,
		MediaType:         tmpl.MediaType,
		ParsingMethod:     tmpl.ParsingMethod,
		TemplateVersionID: version.ID,
		JobID:             run.jobID(),
		Entries:           entries,
		Quality:           annotate(story, resp),
	})
	if err != nil {
		spanErr = err
		return ref, nil, err
	}

	ref.ContentType = res.ContentType
	if res.ContentID != nil {
		ref.ContentID = res.ContentID.String()
	}
	for _, id := range res.LegacyIDs {
		ref.LegacyIDs = append(ref.LegacyIDs, id.String())
	}
	if res.ContentType == contentdomain.TypeArticle {
		ref.GeneratedArticleID = article.ID.String()
	}
	return ref, res.Entries, nil
}

func (e *Executor) findImage(ctx context.Context, resp llm.Response) ([]map[string]any, error) {
	query := imageQuery(resp.Text)
	if query == "" {
		return nil, nil
	}
	image, err := e.images.FindImage(ctx, query)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindUnknown {
			err = apperr.Transient("image_provider", err)
		}
		return nil, err
	}
	if image == nil {
		return nil, nil
	}
	entry := map[string]any{
		"query":     query,
		"sourceUrl": image.SourceURL,
		"cdnUrl":    image.CDNURL,
		"altText":   image.AltText,
	}
	if len(image.Meta) > 0 {
		entry["meta"] = image.Meta
	}
	return []map[string]any{entry}, nil
}

// articleFor returns the article a story's artifacts hang off, creating it
// on first execution. Creating one counts against the daily quota.
func (e *Executor) articleFor(ctx context.Context, run *Run, story *sourcedomain.ScrapedArticle, opts StoryOptions) (*contentdomain.GeneratedArticle, error) {
	accountID := run.Scope.AccountID
	if existing := run.Refs.ArticleFor(story.ID.String()); existing != "" {
		id, err := snowflake.ParseString(existing)
		if err == nil {
			article, err := e.contents.GetArticle(ctx, accountID, id)
			if err != nil {
				return nil, db.Classify(err)
			}
			if article != nil {
				return article, nil
			}
		}
	}

	settings, err := e.accountSettings(ctx, run)
	if err != nil {
		return nil, err
	}
	if settings.MaxGenerationsPerDay > 0 {
		now := e.clock.Now().UTC()
		startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		count, err := e.contents.CountArticlesSince(ctx, accountID, startOfDay)
		if err != nil {
			return nil, db.Classify(err)
		}
		if count >= int64(settings.MaxGenerationsPerDay) {
			return nil, ErrQuotaExceeded
		}
	}

	article, err := e.writer.CreateArticle(ctx, dualwrite.ArticleSeed{
		AccountID:        accountID,
		ScrapedArticleID: story.ID,
		PredecessorID:    opts.PredecessorID,
		JobID:            run.jobID(),
		Title:            story.Title,
		QualityTier:      story.QualityTier,
		ContentIssues:    decodeStrings(story.ContentIssues),
	})
	if err != nil {
		return nil, err
	}
	run.Refs.SetArticle(story.ID.String(), article.ID.String())
	if pending := run.Refs.TakeUnlinkedCalls(story.ID.String()); len(pending) > 0 {
		if err := e.recorder.LinkArticle(ctx, accountID, pending, article.ID); err != nil {
			logger.WithContext(ctx, e.log).Warn("failed to link response logs to article",
				zap.String("generated_article_id", article.ID.String()), zap.Error(err))
		}
	}
	return article, nil
}

// restorePrior reloads the persisted output of a step finished by an
// earlier attempt of the same job.
func (e *Executor) restorePrior(ctx context.Context, run *Run, article *contentdomain.GeneratedArticle, done jobdomain.StepRef, prior map[string]any) error {
	if done.Skipped {
		return nil
	}
	accountID := run.Scope.AccountID
	switch {
	case done.ContentID != "":
		id, err := snowflake.ParseString(done.ContentID)
		if err != nil {
			return nil
		}
		content, err := e.contents.GetContent(ctx, accountID, id)
		if err != nil {
			return db.Classify(err)
		}
		if content != nil {
			setPrior(prior, done.Category, content.Entries())
		}
	case done.ContentType == contentdomain.TypeArticle:
		setPrior(prior, done.Category, []map[string]any{article.Canonical()})
	case len(done.LegacyIDs) > 0:
		rows, err := e.contents.ListLegacy(ctx, accountID, done.ContentType, contentdomain.LegacyFilter{
			ArticleIDs: []snowflake.ID{article.ID},
		})
		if err != nil {
			return db.Classify(err)
		}
		wanted := make(map[string]struct{}, len(done.LegacyIDs))
		for _, id := range done.LegacyIDs {
			wanted[id] = struct{}{}
		}
		entries := make([]map[string]any, 0, len(done.LegacyIDs))
		for _, row := range rows {
			if _, ok := wanted[row.ID.String()]; ok {
				entries = append(entries, row.Canonical)
			}
		}
		setPrior(prior, done.Category, entries)
	}
	return nil
}

func (e *Executor) accountVars(ctx context.Context, run *Run) (map[string]any, error) {
	if run.account != nil {
		return run.account, nil
	}
	account, err := e.tenancy.GetAccount(ctx, run.Scope)
	if err != nil {
		return nil, err
	}
	settings := account.Settings
	if settings == nil {
		settings = map[string]any{}
	}
	run.account = map[string]any{
		"id":       account.ID,
		"name":     account.Name,
		"slug":     account.Slug,
		"settings": settings,
	}
	return run.account, nil
}

func (e *Executor) accountSettings(ctx context.Context, run *Run) (tenancydomain.AccountSettings, error) {
	if run.settings != nil {
		return *run.settings, nil
	}
	settings, err := e.tenancy.Settings(ctx, run.Scope.AccountID.String())
	if err != nil {
		return tenancydomain.AccountSettings{}, err
	}
	run.settings = &settings
	return settings, nil
}

// sourceName falls back to the article host when the source is unknown.
func (e *Executor) sourceName(ctx context.Context, run *Run, story *sourcedomain.ScrapedArticle) string {
	if story.SourceID != nil {
		if run.sources == nil {
			run.sources = map[snowflake.ID]string{}
			list, err := e.sources.ListSourceStatus(ctx, run.Scope)
			if err != nil {
				e.log.Warn("source lookup failed", zap.Error(err))
			}
			for _, src := range list {
				if id, err := snowflake.ParseString(src.ID); err == nil {
					run.sources[id] = src.Name
				}
			}
		}
		if name := run.sources[*story.SourceID]; name != "" {
			return name
		}
	}
	return hostOf(story.URL)
}

// setPrior exposes a step's output as prior.<category>: the fields of its
// first entry plus the full list under "entries".
func setPrior(prior map[string]any, category string, entries []map[string]any) {
	if category == "" || len(entries) == 0 {
		return
	}
	view := make(map[string]any, len(entries[0])+1)
	for k, v := range entries[0] {
		view[k] = v
	}
	list := make([]any, 0, len(entries))
	for _, entry := range entries {
		list = append(list, entry)
	}
	view["entries"] = list
	prior[category] = view
}

// annotate is the post-generation quality verdict stored on the artifact.
func annotate(story *sourcedomain.ScrapedArticle, resp llm.Response) map[string]any {
	return map[string]any{
		"tier":        story.QualityTier,
		"score":       story.ContentQualityScore,
		"eligible":    story.ContentGenerationEligible,
		"issues":      decodeStrings(story.ContentIssues),
		"stop_reason": resp.StopReason,
		"truncated":   resp.IsTruncated,
	}
}

func imageQuery(text string) string {
	text = strings.TrimSpace(text)
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[:i]
	}
	text = strings.TrimPrefix(text, "Query:")
	return strings.Trim(strings.TrimSpace(text), `"'`)
}

func decodeStrings(raw []byte) []string {
	out := []string{}
	if len(raw) == 0 {
		return out
	}
	_ = json.Unmarshal(raw, &out)
	if out == nil {
		out = []string{}
	}
	return out
}

func stringParam(params map[string]any, key string) string {
	if v, ok := params[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func hostOf(raw string) string {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(strings.TrimPrefix(raw, "https://"), "http://")
	if i := strings.IndexAny(raw, "/?#"); i >= 0 {
		raw = raw[:i]
	}
	return strings.TrimPrefix(raw, "www.")
}
