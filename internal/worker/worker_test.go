package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/newsdesk/internal/accountctx"
	"github.com/smallbiznis/newsdesk/internal/apperr"
	"github.com/smallbiznis/newsdesk/internal/clock"
	"github.com/smallbiznis/newsdesk/internal/config"
	contentdomain "github.com/smallbiznis/newsdesk/internal/content/domain"
	"github.com/smallbiznis/newsdesk/internal/content/dualwrite"
	contentrepo "github.com/smallbiznis/newsdesk/internal/content/repository"
	"github.com/smallbiznis/newsdesk/internal/generation"
	jobdomain "github.com/smallbiznis/newsdesk/internal/job/domain"
	jobrepo "github.com/smallbiznis/newsdesk/internal/job/repository"
	jobservice "github.com/smallbiznis/newsdesk/internal/job/service"
	"github.com/smallbiznis/newsdesk/internal/llm"
	"github.com/smallbiznis/newsdesk/internal/llm/llmtest"
	promptdomain "github.com/smallbiznis/newsdesk/internal/prompt/domain"
	promptrepo "github.com/smallbiznis/newsdesk/internal/prompt/repository"
	promptservice "github.com/smallbiznis/newsdesk/internal/prompt/service"
	"github.com/smallbiznis/newsdesk/internal/quality"
	sourcedomain "github.com/smallbiznis/newsdesk/internal/source/domain"
	sourcerepo "github.com/smallbiznis/newsdesk/internal/source/repository"
	sourceservice "github.com/smallbiznis/newsdesk/internal/source/service"
	tenancydomain "github.com/smallbiznis/newsdesk/internal/tenancy/domain"
	tenancyrepo "github.com/smallbiznis/newsdesk/internal/tenancy/repository"
	tenancyservice "github.com/smallbiznis/newsdesk/internal/tenancy/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db      *gorm.DB
	clock   *clock.FakeClock
	gw      *llmtest.Gateway
	jobs    *jobservice.Service
	prompts promptdomain.Service
	sources sourcedomain.Service
	tenancy tenancydomain.Service
	worker  *Worker
	params  Params
}

func setup(t *testing.T) fixture {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "worker.db")+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(
		&tenancydomain.Organization{}, &tenancydomain.Account{},
		&tenancydomain.UserAccountAssignment{}, &tenancydomain.UserOrganizationAssignment{},
		&tenancydomain.GlobalRoleGrant{}, &tenancydomain.Invitation{},
		&promptdomain.PromptTemplate{}, &promptdomain.PromptTemplateVersion{},
		&sourcedomain.Source{}, &sourcedomain.ScrapedArticle{},
		&contentdomain.GeneratedArticle{}, &contentdomain.GeneratedContent{}, &contentdomain.SocialPost{},
		&contentdomain.VideoScript{}, &contentdomain.PrayerPoint{}, &contentdomain.BlogImage{},
		&contentdomain.ContentSnippet{}, &contentdomain.MigrationRecord{},
		&llm.AiResponseLog{}, &jobdomain.Job{},
	))

	node, err := snowflake.NewNode(9)
	require.NoError(t, err)
	fc := clock.NewFakeClock(time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC))
	log := zap.NewNop()
	cfg := config.Config{
		DualWriteEnabled: true,
		Worker: config.WorkerConfig{
			LeaseDuration:   time.Minute,
			MaxAttempts:     3,
			PayloadMaxBytes: 4096,
			BackoffBase:     10 * time.Second,
			BackoffMax:      time.Minute,
		},
	}
	gw := &llmtest.Gateway{}

	tenancy := tenancyservice.NewService(tenancyservice.Params{
		DB: conn, Log: log, Repo: tenancyrepo.NewRepository(conn), GenID: node, Clock: fc,
	})
	prompts := promptservice.NewService(promptservice.Params{
		DB: conn, Log: log, Repo: promptrepo.NewRepository(conn), GenID: node, Clock: fc,
	})
	sources := sourceservice.NewService(sourceservice.Params{
		DB: conn, Log: log, Repo: sourcerepo.NewRepository(conn), GenID: node, Clock: fc,
		Gate: quality.NewGate(config.NewStaticQualityConfigHolder(config.DefaultQualityConfig())),
	})
	contents := contentrepo.NewRepository(conn)
	recorder := llm.NewRecorder(llm.RecorderParams{
		Gateway: gw, Repo: llm.NewLogRepository(conn), GenID: node, Clock: fc, Config: cfg, Log: log,
	})
	writer := dualwrite.NewWriter(dualwrite.Params{
		DB: conn, Log: log, Repo: contents, GenID: node, Clock: fc, Config: cfg,
	})
	jobs := jobservice.NewService(jobservice.Params{
		DB: conn, Log: log, Repo: jobrepo.NewRepository(conn), GenID: node, Clock: fc, Config: cfg, Tenancy: tenancy,
	})
	exec := generation.NewExecutor(generation.Params{
		Log: log, Prompts: prompts, Recorder: recorder, Writer: writer, Contents: contents,
		Sources: sources, Tenancy: tenancy, Clock: fc,
	})
	params := Params{
		Log:      log,
		Queue:    jobs,
		Tenancy:  tenancy,
		Pipeline: NewPipeline(HandlerParams{Log: log, Executor: exec, Sources: sources}),
		GenID:    node,
		Clock:    fc,
		Config:   Config{LeaseDuration: time.Minute, PollInterval: 10 * time.Millisecond},
	}
	w, err := New(params)
	require.NoError(t, err)

	return fixture{
		db: conn, clock: fc, gw: gw, jobs: jobs, prompts: prompts,
		sources: sources, tenancy: tenancy, worker: w, params: params,
	}
}

func (f fixture) account(t *testing.T, name string, settings map[string]any) accountctx.Scope {
	t.Helper()
	ctx := context.Background()
	org, err := f.tenancy.CreateOrganization(ctx, tenancydomain.CreateOrganizationRequest{Name: name + " Group"})
	require.NoError(t, err)
	acct, err := f.tenancy.CreateAccount(ctx, tenancydomain.CreateAccountRequest{
		OrganizationID: org.ID,
		Name:           name,
		Settings:       settings,
		OwnerUserID:    "owner-" + strings.ToLower(name),
	})
	require.NoError(t, err)
	scope, err := f.tenancy.SystemScope(ctx, acct.ID)
	require.NoError(t, err)
	return scope
}

func (f fixture) template(t *testing.T, scope accountctx.Scope, req promptdomain.CreateTemplateRequest) *promptdomain.TemplateResponse {
	t.Helper()
	if req.MediaType == "" {
		req.MediaType = promptdomain.MediaText
	}
	tmpl, err := f.prompts.CreateTemplate(context.Background(), scope, req)
	require.NoError(t, err)
	return tmpl
}

func blogTemplate() promptdomain.CreateTemplateRequest {
	return promptdomain.CreateTemplateRequest{
		Name:          "Blog",
		Category:      "blog_post",
		ParsingMethod: "generic",
		PromptContent: "Write about {{article.title}}",
	}
}

func socialTemplate() promptdomain.CreateTemplateRequest {
	return promptdomain.CreateTemplateRequest{
		Name:          "Social",
		Category:      "social_media",
		ParsingMethod: "social_media",
		PromptContent: "Tease: {{prior.blog_post.text}}",
		Parameters:    map[string]any{"platform": "facebook"},
	}
}

func (f fixture) story(t *testing.T, scope accountctx.Scope, title, text string) *sourcedomain.ScrapedArticle {
	t.Helper()
	article, inserted, err := f.sources.IngestArticle(context.Background(), scope, sourcedomain.IngestArticleRequest{
		Title:    title,
		URL:      "https://herald.example/" + strings.ToLower(strings.ReplaceAll(title, " ", "-")),
		FullText: text,
	})
	require.NoError(t, err)
	require.True(t, inserted)
	return article
}

func (f fixture) enqueue(t *testing.T, scope accountctx.Scope, payload any) string {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	resp, err := f.jobs.Enqueue(context.Background(), scope, jobdomain.EnqueueRequest{
		Type:    jobdomain.TypeContentGeneration,
		Payload: raw,
	})
	require.NoError(t, err)
	return resp.JobID
}

func (f fixture) job(t *testing.T, scope accountctx.Scope, id string) *jobdomain.JobResponse {
	t.Helper()
	job, err := f.jobs.Get(context.Background(), scope, id)
	require.NoError(t, err)
	return job
}

func (f fixture) runNext(t *testing.T) {
	t.Helper()
	ok, err := f.worker.ProcessNext(context.Background())
	require.NoError(t, err)
	require.True(t, ok, "expected a runnable job")
}

func (f fixture) count(t *testing.T, model any, accountID snowflake.ID) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(model).Where("account_id = ?", accountID).Count(&n).Error)
	return n
}

func TestSimpleGeneration(t *testing.T) {
	f := setup(t)
	scope := f.account(t, "Herald", nil)
	f.template(t, scope, blogTemplate())
	s1 := f.story(t, scope, "Hope", "")
	f.gw.PushText("About Hope")

	jobID := f.enqueue(t, scope, map[string]any{"specificStoryId": s1.ID.String()})
	f.runNext(t)

	job := f.job(t, scope, jobID)
	assert.Equal(t, jobdomain.StatusCompleted, job.Status)
	require.Len(t, f.gw.Calls(), 1)
	assert.Equal(t, "Write about Hope", f.gw.Calls()[0].Prompt)

	var articles []contentdomain.GeneratedArticle
	require.NoError(t, f.db.Where("account_id = ?", scope.AccountID).Find(&articles).Error)
	require.Len(t, articles, 1)
	assert.Equal(t, "About Hope", articles[0].BodyDraft)
	assert.Equal(t, contentdomain.StatusDraft, articles[0].Status)

	var contents []contentdomain.GeneratedContent
	require.NoError(t, f.db.Where("account_id = ?", scope.AccountID).Find(&contents).Error)
	require.Len(t, contents, 1)
	assert.Equal(t, "blog_post", contents[0].PromptCategory)
	assert.Equal(t, []map[string]any{{"text": "About Hope"}}, contents[0].Entries())

	require.NotNil(t, job.ResultRefs)
	assert.Equal(t, []string{contents[0].ID.String()}, job.ResultRefs.ContentIDs)
	assert.Equal(t, []string{articles[0].ID.String()}, job.ResultRefs.ArticleIDs)
	assert.Equal(t, int64(1), f.count(t, &llm.AiResponseLog{}, scope.AccountID))

	story, err := f.sources.GetArticle(context.Background(), scope, s1.ID.String())
	require.NoError(t, err)
	assert.Equal(t, sourcedomain.ArticleStatusProcessed, story.Status)
}

func TestOrderedChainFeedsPriorOutputs(t *testing.T) {
	f := setup(t)
	scope := f.account(t, "Herald", nil)
	t1 := f.template(t, scope, blogTemplate())
	t2 := f.template(t, scope, socialTemplate())
	assert.Equal(t, 1, t1.ExecutionOrder)
	assert.Equal(t, 2, t2.ExecutionOrder)
	s1 := f.story(t, scope, "Hope", "")
	f.gw.PushText("About Hope")
	f.gw.Default = func(_ context.Context, req llm.Request) (llm.Response, error) {
		return llmtest.Text(req.Prompt), nil
	}

	jobID := f.enqueue(t, scope, map[string]any{"specificStoryId": s1.ID.String()})
	f.runNext(t)

	job := f.job(t, scope, jobID)
	require.Equal(t, jobdomain.StatusCompleted, job.Status)

	calls := f.gw.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "Write about Hope", calls[0].Prompt)
	assert.Equal(t, "Tease: About Hope", calls[1].Prompt)

	var posts []contentdomain.SocialPost
	require.NoError(t, f.db.Where("account_id = ?", scope.AccountID).Find(&posts).Error)
	require.Len(t, posts, 1)
	assert.Equal(t, "facebook", posts[0].Platform)
	assert.Equal(t, "Tease: About Hope", posts[0].Text)

	var social contentdomain.GeneratedContent
	require.NoError(t, f.db.Where("account_id = ? AND prompt_category = ?", scope.AccountID, "social_media").First(&social).Error)
	assert.Equal(t, []map[string]any{{"platform": "facebook", "text": "Tease: About Hope", "hashtags": []any{}}}, social.Entries())
	assert.Equal(t, []string{posts[0].ID.String()}, social.LegacyIDs())

	require.Len(t, job.ResultRefs.Steps, 2)
	assert.Equal(t, t1.ID, job.ResultRefs.Steps[0].TemplateID)
	assert.Equal(t, t2.ID, job.ResultRefs.Steps[1].TemplateID)
	assert.Len(t, job.ResultRefs.ContentIDs, 2)
}

func TestPartialFailureKeepsEarlierArtifacts(t *testing.T) {
	f := setup(t)
	scope := f.account(t, "Herald", nil)
	f.template(t, scope, blogTemplate())
	f.template(t, scope, socialTemplate())
	f.template(t, scope, promptdomain.CreateTemplateRequest{
		Name:          "Video",
		Category:      "video",
		MediaType:     promptdomain.MediaVideo,
		ParsingMethod: "video_script",
		PromptContent: "Script for {{article.title}}",
	})
	s1 := f.story(t, scope, "Hope", "")
	f.gw.PushText("About Hope", "Tease: About Hope")
	f.gw.PushResponse(llmtest.Truncated("Scene 1: the sun ri"), nil)

	jobID := f.enqueue(t, scope, map[string]any{"specificStoryId": s1.ID.String()})
	f.runNext(t)

	job := f.job(t, scope, jobID)
	assert.Equal(t, jobdomain.StatusFailed, job.Status)
	require.NotNil(t, job.LastError)
	assert.Equal(t, string(apperr.KindParseFailure), job.LastError.Kind)
	require.NotNil(t, job.ResultRefs)
	assert.Len(t, job.ResultRefs.ContentIDs, 2)
	require.Len(t, job.ResultRefs.Failures, 1)
	assert.Equal(t, string(apperr.KindParseFailure), job.ResultRefs.Failures[0].Kind)

	assert.Equal(t, int64(2), f.count(t, &contentdomain.GeneratedContent{}, scope.AccountID))
	assert.Equal(t, int64(0), f.count(t, &contentdomain.VideoScript{}, scope.AccountID))

	var logs []llm.AiResponseLog
	require.NoError(t, f.db.Where("account_id = ?", scope.AccountID).Order("created_at, id").Find(&logs).Error)
	require.Len(t, logs, 3)
	assert.True(t, logs[2].IsTruncated)
	assert.Equal(t, string(apperr.KindParseFailure), logs[2].ErrorKind)
	assert.Equal(t, "truncated_output", logs[2].ErrorCode)
	assert.Empty(t, logs[0].ErrorKind)
}

func TestSkippedParseFailureIsFlaggedOnLog(t *testing.T) {
	f := setup(t)
	scope := f.account(t, "Herald", nil)
	f.template(t, scope, blogTemplate())
	f.template(t, scope, promptdomain.CreateTemplateRequest{
		Name:          "Video",
		Category:      "video",
		MediaType:     promptdomain.MediaVideo,
		ParsingMethod: "video_script",
		OnParseError:  promptdomain.OnParseErrorSkip,
		PromptContent: "Script for {{article.title}}",
	})
	s1 := f.story(t, scope, "Hope", "")
	f.gw.PushText("About Hope")
	f.gw.PushResponse(llmtest.Truncated("Scene 1: the sun ri"), nil)

	jobID := f.enqueue(t, scope, map[string]any{"specificStoryId": s1.ID.String()})
	f.runNext(t)

	job := f.job(t, scope, jobID)
	assert.Equal(t, jobdomain.StatusCompleted, job.Status)
	require.NotNil(t, job.ResultRefs)
	require.Len(t, job.ResultRefs.Steps, 2)
	assert.True(t, job.ResultRefs.Steps[1].Skipped)

	var logs []llm.AiResponseLog
	require.NoError(t, f.db.Where("account_id = ?", scope.AccountID).Order("created_at, id").Find(&logs).Error)
	require.Len(t, logs, 2)
	assert.Empty(t, logs[0].ErrorKind)
	assert.Equal(t, string(apperr.KindParseFailure), logs[1].ErrorKind)
	assert.Equal(t, "truncated_output", logs[1].ErrorCode)
}

func TestFullCycleLinksAnalysisLogToArticle(t *testing.T) {
	f := setup(t)
	scope := f.account(t, "Herald", nil)
	f.template(t, scope, blogTemplate())
	f.story(t, scope, "Relief", strings.Repeat("Crews delivered water to the valley. ", 80))
	f.gw.PushText(
		`{"summary": "Relief arrives.", "keywords": ["relief"], "relevanceScore": 0.9}`,
		"About Relief",
	)

	resp, err := f.jobs.Enqueue(context.Background(), scope, jobdomain.EnqueueRequest{Type: jobdomain.TypeFullCycle})
	require.NoError(t, err)
	f.runNext(t)

	job := f.job(t, scope, resp.JobID)
	require.Equal(t, jobdomain.StatusCompleted, job.Status, job.LastError)
	require.NotNil(t, job.ResultRefs)
	require.Len(t, job.ResultRefs.ArticleIDs, 1)
	assert.Empty(t, job.ResultRefs.UnlinkedCalls)

	var analysis llm.AiResponseLog
	require.NoError(t, f.db.Where("account_id = ? AND prompt_category = ?", scope.AccountID, generation.CategoryAnalysis).First(&analysis).Error)
	require.NotNil(t, analysis.GeneratedArticleID)
	assert.Equal(t, job.ResultRefs.ArticleIDs[0], analysis.GeneratedArticleID.String())
}

func TestCancelDuringProcessingStopsAtCheckpoint(t *testing.T) {
	f := setup(t)
	scope := f.account(t, "Herald", nil)
	f.template(t, scope, blogTemplate())
	f.template(t, scope, socialTemplate())
	s1 := f.story(t, scope, "Hope", "")

	var jobID string
	f.gw.PushText("About Hope")
	f.gw.Push(func(ctx context.Context, req llm.Request) (llm.Response, error) {
		resp, err := f.jobs.Cancel(context.Background(), scope, jobID)
		if err != nil {
			return llm.Response{}, err
		}
		if !resp.CancelRequested {
			return llm.Response{}, errors.New("cancel was not recorded")
		}
		return llmtest.Text(req.Prompt), nil
	})

	jobID = f.enqueue(t, scope, map[string]any{"specificStoryId": s1.ID.String()})
	f.runNext(t)

	job := f.job(t, scope, jobID)
	assert.Equal(t, jobdomain.StatusCancelled, job.Status)
	assert.Len(t, f.gw.Calls(), 2)
	assert.Equal(t, int64(1), f.count(t, &contentdomain.GeneratedContent{}, scope.AccountID))
	assert.Equal(t, int64(0), f.count(t, &contentdomain.SocialPost{}, scope.AccountID))
	require.NotNil(t, job.ResultRefs)
	assert.Len(t, job.ResultRefs.ContentIDs, 1)

	ok, err := f.worker.ProcessNext(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTransientFailureResumesWithoutRepeatingSteps(t *testing.T) {
	f := setup(t)
	scope := f.account(t, "Herald", nil)
	f.template(t, scope, blogTemplate())
	f.template(t, scope, socialTemplate())
	s1 := f.story(t, scope, "Hope", "")
	f.gw.PushText("About Hope")
	f.gw.PushResponse(llm.Response{}, apperr.Transient("llm_unavailable", errors.New("503 from provider")))
	f.gw.Default = func(_ context.Context, req llm.Request) (llm.Response, error) {
		return llmtest.Text(req.Prompt), nil
	}

	jobID := f.enqueue(t, scope, map[string]any{"specificStoryId": s1.ID.String()})
	f.runNext(t)

	job := f.job(t, scope, jobID)
	require.Equal(t, jobdomain.StatusQueued, job.Status)
	assert.Equal(t, 1, job.Attempts)
	require.NotNil(t, job.LastError)
	assert.Equal(t, string(apperr.KindTransientUpstream), job.LastError.Kind)

	ok, err := f.worker.ProcessNext(context.Background())
	require.NoError(t, err)
	assert.False(t, ok, "job must wait out its backoff")

	f.clock.Advance(11 * time.Second)
	f.runNext(t)

	job = f.job(t, scope, jobID)
	assert.Equal(t, jobdomain.StatusCompleted, job.Status)
	assert.Equal(t, 2, job.Attempts)

	calls := f.gw.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, "Tease: About Hope", calls[2].Prompt)
	assert.Equal(t, int64(1), f.count(t, &contentdomain.GeneratedArticle{}, scope.AccountID))
	assert.Equal(t, int64(2), f.count(t, &contentdomain.GeneratedContent{}, scope.AccountID))
}

func TestPinnedVersionSurvivesMidJobEdit(t *testing.T) {
	f := setup(t)
	scope := f.account(t, "Herald", nil)
	f.template(t, scope, blogTemplate())
	social := f.template(t, scope, socialTemplate())
	s1 := f.story(t, scope, "Hope", "")
	f.gw.PushText("About Hope")
	f.gw.PushResponse(llm.Response{}, apperr.Transient("llm_unavailable", errors.New("503 from provider")))
	f.gw.Default = func(_ context.Context, req llm.Request) (llm.Response, error) {
		return llmtest.Text(req.Prompt), nil
	}

	jobID := f.enqueue(t, scope, map[string]any{"specificStoryId": s1.ID.String()})
	f.runNext(t)

	_, err := f.prompts.CreateVersion(context.Background(), scope, social.ID, promptdomain.CreateVersionRequest{
		PromptContent: "Shout: {{prior.blog_post.text}}",
		Parameters:    map[string]any{"platform": "facebook"},
		SetCurrent:    true,
	})
	require.NoError(t, err)

	f.clock.Advance(11 * time.Second)
	f.runNext(t)

	assert.Equal(t, jobdomain.StatusCompleted, f.job(t, scope, jobID).Status)
	calls := f.gw.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, "Tease: About Hope", calls[2].Prompt)
}

func TestCrossAccountTemplateIsRejected(t *testing.T) {
	f := setup(t)
	a := f.account(t, "Herald", nil)
	b := f.account(t, "Courier", nil)
	f.template(t, a, blogTemplate())
	foreign := f.template(t, b, blogTemplate())
	s1 := f.story(t, a, "Hope", "")

	jobID := f.enqueue(t, a, map[string]any{
		"specificStoryId": s1.ID.String(),
		"templateIds":     []string{foreign.ID},
	})
	f.runNext(t)

	job := f.job(t, a, jobID)
	assert.Equal(t, jobdomain.StatusFailed, job.Status)
	require.NotNil(t, job.LastError)
	assert.Equal(t, string(apperr.KindValidation), job.LastError.Kind)
	assert.Equal(t, "template_not_in_account", job.LastError.Code)
	assert.Empty(t, f.gw.Calls())
	assert.Equal(t, int64(0), f.count(t, &contentdomain.GeneratedArticle{}, a.AccountID))
	assert.Equal(t, int64(0), f.count(t, &contentdomain.GeneratedArticle{}, b.AccountID))
}

func TestDailyQuotaStopsGeneration(t *testing.T) {
	f := setup(t)
	scope := f.account(t, "Herald", map[string]any{tenancydomain.SettingMaxGenerationsPerDay: 1})
	f.template(t, scope, blogTemplate())
	f.story(t, scope, "Hope", strings.Repeat("hope ", 300))
	f.story(t, scope, "Faith", strings.Repeat("faith ", 300))
	f.gw.Default = func(_ context.Context, req llm.Request) (llm.Response, error) {
		return llmtest.Text(req.Prompt), nil
	}

	jobID := f.enqueue(t, scope, map[string]any{"limit": 5})
	f.runNext(t)

	job := f.job(t, scope, jobID)
	assert.Equal(t, jobdomain.StatusFailed, job.Status)
	require.NotNil(t, job.LastError)
	assert.Equal(t, string(apperr.KindQuotaExceeded), job.LastError.Kind)
	assert.Len(t, job.ResultRefs.ArticleIDs, 1)
	assert.Equal(t, int64(1), f.count(t, &contentdomain.GeneratedArticle{}, scope.AccountID))
}

func TestEmptyBatchCompletes(t *testing.T) {
	f := setup(t)
	scope := f.account(t, "Herald", nil)
	f.template(t, scope, blogTemplate())

	jobID := f.enqueue(t, scope, map[string]any{"limit": 3})
	f.runNext(t)

	assert.Equal(t, jobdomain.StatusCompleted, f.job(t, scope, jobID).Status)
	assert.Empty(t, f.gw.Calls())
}

func TestPanickingHandlerIsRetried(t *testing.T) {
	f := setup(t)
	scope := f.account(t, "Herald", nil)
	w := NewWithHandlers(f.params, map[string]Handler{
		jobdomain.TypeContentGeneration: HandlerFunc(func(context.Context, *generation.Run) error {
			panic("boom")
		}),
	})

	jobID := f.enqueue(t, scope, map[string]any{"limit": 1})
	ok, err := w.ProcessNext(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	job := f.job(t, scope, jobID)
	assert.Equal(t, jobdomain.StatusQueued, job.Status)
	require.NotNil(t, job.LastError)
	assert.Equal(t, string(apperr.KindInternal), job.LastError.Kind)
	assert.Equal(t, "job_panic", job.LastError.Code)
}

func TestStartRunsJobsUntilStopped(t *testing.T) {
	f := setup(t)
	scope := f.account(t, "Herald", nil)
	f.template(t, scope, blogTemplate())
	s1 := f.story(t, scope, "Hope", "")
	f.gw.PushText("About Hope")

	jobID := f.enqueue(t, scope, map[string]any{"specificStoryId": s1.ID.String()})

	require.True(t, f.worker.Start())
	assert.False(t, f.worker.Start())
	assert.True(t, f.worker.Running())

	require.Eventually(t, func() bool {
		job, err := f.jobs.Get(context.Background(), scope, jobID)
		return err == nil && job.Status == jobdomain.StatusCompleted
	}, 5*time.Second, 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.worker.Stop(ctx))
	assert.False(t, f.worker.Running())
	require.NoError(t, f.worker.Stop(ctx))
}

func TestUnknownJobTypeFails(t *testing.T) {
	f := setup(t)
	scope := f.account(t, "Herald", nil)
	w := NewWithHandlers(f.params, map[string]Handler{})

	jobID := f.enqueue(t, scope, map[string]any{"limit": 1})
	ok, err := w.ProcessNext(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	job := f.job(t, scope, jobID)
	assert.Equal(t, jobdomain.StatusFailed, job.Status)
	assert.Equal(t, fmt.Sprint(apperr.KindValidation), job.LastError.Kind)
}

func TestStepIsCheckpointedAfterDualWrite(t *testing.T) {
	f := setup(t)
	scope := f.account(t, "Herald", nil)
	f.template(t, scope, blogTemplate())
	s1 := f.story(t, scope, "Hope", "")
	f.gw.PushText("About Hope")

	savedSteps := -1
	run := &generation.Run{Scope: scope, Refs: &jobdomain.ResultRefs{}}
	run.Checkpoint = func(context.Context) error {
		savedSteps = len(run.Refs.Steps)
		return nil
	}

	exec := f.params.Pipeline.exec
	chain, err := exec.Chain(context.Background(), run, nil)
	require.NoError(t, err)
	require.NoError(t, exec.GenerateStory(context.Background(), run, chain, s1, generation.StoryOptions{}))

	assert.Equal(t, 1, savedSteps, "the last checkpoint must include the finished step")
	assert.Equal(t, int64(1), f.count(t, &contentdomain.GeneratedContent{}, scope.AccountID))
}
