package service

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/newsdesk/internal/accountctx"
	"github.com/smallbiznis/newsdesk/internal/apperr"
	"github.com/smallbiznis/newsdesk/internal/clock"
	"github.com/smallbiznis/newsdesk/internal/config"
	"github.com/smallbiznis/newsdesk/internal/content/domain"
	"github.com/smallbiznis/newsdesk/internal/content/dualwrite"
	"github.com/smallbiznis/newsdesk/internal/content/repository"
	"github.com/smallbiznis/newsdesk/internal/llm"
	sourcedomain "github.com/smallbiznis/newsdesk/internal/source/domain"
	tenancydomain "github.com/smallbiznis/newsdesk/internal/tenancy/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	accountA = snowflake.ID(10)
	accountB = snowflake.ID(20)
	storyID  = snowflake.ID(99)
)

type stubSources struct {
	sourcedomain.Service
	eligible bool
}

func (s stubSources) GetArticle(_ context.Context, _ accountctx.Scope, id string) (*sourcedomain.ScrapedArticle, error) {
	parsed, _ := snowflake.ParseString(id)
	return &sourcedomain.ScrapedArticle{ID: parsed, ContentGenerationEligible: s.eligible}, nil
}

type stubTenancy struct {
	tenancydomain.Service
	settings tenancydomain.AccountSettings
}

func (s stubTenancy) Settings(context.Context, string) (tenancydomain.AccountSettings, error) {
	return s.settings, nil
}

type recordingEnqueuer struct {
	calls [][2]string
	err   error
}

func (e *recordingEnqueuer) EnqueueRegeneration(_ context.Context, _ accountctx.Scope, scrapedArticleID, predecessorID string) (string, error) {
	if e.err != nil {
		return "", e.err
	}
	e.calls = append(e.calls, [2]string{scrapedArticleID, predecessorID})
	return "777", nil
}

type fixture struct {
	svc      domain.Service
	db       *gorm.DB
	writer   *dualwrite.Writer
	repo     domain.Repository
	enqueuer *recordingEnqueuer
}

type options struct {
	eligible  bool
	blockPoor bool
	dualWrite bool
}

func setup(t *testing.T, opts options) fixture {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "content.db")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(
		&domain.GeneratedArticle{}, &domain.GeneratedContent{}, &domain.SocialPost{},
		&domain.VideoScript{}, &domain.PrayerPoint{}, &domain.BlogImage{},
		&domain.ContentSnippet{}, &domain.MigrationRecord{}, &llm.AiResponseLog{},
	))

	node, err := snowflake.NewNode(5)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC))
	repo := repository.NewRepository(conn)
	writer := dualwrite.NewWriter(dualwrite.Params{
		DB:     conn,
		Log:    zap.NewNop(),
		Repo:   repo,
		GenID:  node,
		Clock:  clk,
		Config: config.Config{DualWriteEnabled: opts.dualWrite},
	})
	enqueuer := &recordingEnqueuer{}
	svc := NewService(Params{
		DB:       conn,
		Log:      zap.NewNop(),
		Repo:     repo,
		Clock:    clk,
		Sources:  stubSources{eligible: opts.eligible},
		Tenancy:  stubTenancy{settings: tenancydomain.AccountSettings{DisableRegenerateOnPoorQuality: opts.blockPoor}},
		Logs:     llm.NewLogRepository(conn),
		Enqueuer: enqueuer,
	})
	return fixture{svc: svc, db: conn, writer: writer, repo: repo, enqueuer: enqueuer}
}

func scopeFor(accountID snowflake.ID) accountctx.Scope {
	return accountctx.Scope{AccountID: accountID, UserID: "editor-1", Role: accountctx.RoleEditor}
}

func (f fixture) article(t *testing.T, accountID snowflake.ID, title string) *domain.GeneratedArticle {
	t.Helper()
	article, err := f.writer.CreateArticle(context.Background(), dualwrite.ArticleSeed{
		AccountID:        accountID,
		ScrapedArticleID: storyID,
		Title:            title,
	})
	require.NoError(t, err)
	return article
}

func (f fixture) socialPosts(t *testing.T, article *domain.GeneratedArticle) *dualwrite.Result {
	t.Helper()
	res, err := f.writer.Write(context.Background(), dualwrite.Artifact{
		AccountID:      article.AccountID,
		Article:        article,
		PromptCategory: "social_media",
		ParsingMethod:  "social_media",
		Entries: []map[string]any{
			{"platform": "facebook", "text": "Read: " + article.Title, "hashtags": []any{}},
		},
	})
	require.NoError(t, err)
	return res
}

func TestListReviewAttachesUnifiedContent(t *testing.T) {
	f := setup(t, options{dualWrite: true})
	article := f.article(t, accountA, "Harvest")
	f.socialPosts(t, article)
	f.article(t, accountB, "Elsewhere")

	page, err := f.svc.ListReview(context.Background(), scopeFor(accountA), domain.ReviewRequest{})
	require.NoError(t, err)

	require.Len(t, page.Items, 1)
	assert.Equal(t, int64(1), page.TotalCount)
	assert.False(t, page.HasMore)
	item := page.Items[0]
	assert.Equal(t, "Harvest", item.Title)
	require.Len(t, item.Contents, 1)
	assert.Equal(t, domain.ViewUnified, item.Contents[0].Source)
	assert.Equal(t, domain.TypeSocialPost, item.Contents[0].ContentType)
}

func TestListReviewShowsUnmigratedLegacyRows(t *testing.T) {
	f := setup(t, options{dualWrite: false})
	article := f.article(t, accountA, "Harvest")
	f.socialPosts(t, article)

	page, err := f.svc.ListReview(context.Background(), scopeFor(accountA), domain.ReviewRequest{})
	require.NoError(t, err)

	require.Len(t, page.Items, 1)
	require.Len(t, page.Items[0].Contents, 1)
	assert.Equal(t, domain.ViewLegacy, page.Items[0].Contents[0].Source)
}

func TestListReviewFiltersAndPages(t *testing.T) {
	f := setup(t, options{})
	ctx := context.Background()
	first := f.article(t, accountA, "One")
	f.article(t, accountA, "Two")
	f.article(t, accountA, "Three")
	require.NoError(t, f.svc.UpdateStatus(ctx, scopeFor(accountA), domain.TypeArticle, first.ID.String(), domain.StatusApproved))

	approved, err := f.svc.ListReview(ctx, scopeFor(accountA), domain.ReviewRequest{Status: domain.StatusApproved})
	require.NoError(t, err)
	require.Len(t, approved.Items, 1)
	assert.Equal(t, "One", approved.Items[0].Title)

	page, err := f.svc.ListReview(ctx, scopeFor(accountA), domain.ReviewRequest{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)
	assert.Equal(t, int64(3), page.TotalCount)
	assert.True(t, page.HasMore)

	_, err = f.svc.ListReview(ctx, scopeFor(accountA), domain.ReviewRequest{Status: "lost"})
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)
}

func TestUpdateStatusOnUnifiedRowMirrorsLegacy(t *testing.T) {
	f := setup(t, options{dualWrite: true})
	ctx := context.Background()
	article := f.article(t, accountA, "Harvest")
	res := f.socialPosts(t, article)
	require.NotNil(t, res.ContentID)
	require.Len(t, res.LegacyIDs, 1)

	err := f.svc.UpdateStatus(ctx, scopeFor(accountA), domain.TargetContent, res.ContentID.String(), domain.StatusApproved)
	require.NoError(t, err)

	content, err := f.repo.GetContent(ctx, accountA, *res.ContentID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, content.Status)
	status, found, err := f.repo.GetLegacyStatus(ctx, accountA, domain.TypeSocialPost, res.LegacyIDs[0])
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, domain.StatusApproved, status)
}

func TestUpdateStatusRejectsBadTransitionsAndForeignRows(t *testing.T) {
	f := setup(t, options{})
	ctx := context.Background()
	article := f.article(t, accountA, "Harvest")

	err := f.svc.UpdateStatus(ctx, scopeFor(accountA), domain.TypeArticle, article.ID.String(), domain.StatusPublished)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	err = f.svc.UpdateStatus(ctx, scopeFor(accountB), domain.TypeArticle, article.ID.String(), domain.StatusApproved)
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))

	err = f.svc.UpdateStatus(ctx, scopeFor(accountA), "newsletter", article.ID.String(), domain.StatusApproved)
	assert.ErrorIs(t, err, domain.ErrInvalidContentType)
}

func TestPublishingCopiesDraftIntoFinal(t *testing.T) {
	f := setup(t, options{dualWrite: true})
	ctx := context.Background()
	article := f.article(t, accountA, "Harvest")
	_, err := f.writer.Write(ctx, dualwrite.Artifact{
		AccountID:      accountA,
		Article:        article,
		PromptCategory: "blog_post",
		MediaType:      "text",
		ParsingMethod:  "generic",
		Entries:        []map[string]any{{"text": "Fields of gold"}},
	})
	require.NoError(t, err)

	scope := scopeFor(accountA)
	require.NoError(t, f.svc.UpdateStatus(ctx, scope, domain.TypeArticle, article.ID.String(), domain.StatusApproved))
	require.NoError(t, f.svc.UpdateStatus(ctx, scope, domain.TypeArticle, article.ID.String(), domain.StatusPublished))

	item, err := f.svc.GetArticle(ctx, scope, article.ID.String())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPublished, item.Status)
	require.NotNil(t, item.BodyFinal)
	assert.Equal(t, "Fields of gold", *item.BodyFinal)
}

func TestRegenerateArchivesAndEnqueuesSuccessor(t *testing.T) {
	f := setup(t, options{eligible: true, blockPoor: true})
	ctx := context.Background()
	article := f.article(t, accountA, "Harvest")

	resp, err := f.svc.Regenerate(ctx, scopeFor(accountA), article.ID.String())
	require.NoError(t, err)
	assert.Equal(t, "777", resp.JobID)
	assert.Equal(t, article.ID.String(), resp.ArchivedArticleID)
	require.Len(t, f.enqueuer.calls, 1)
	assert.Equal(t, [2]string{storyID.String(), article.ID.String()}, f.enqueuer.calls[0])

	stored, err := f.repo.GetArticle(ctx, accountA, article.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusArchived, stored.Status)

	_, err = f.svc.Regenerate(ctx, scopeFor(accountA), article.ID.String())
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestRegenerateBlockedOnPoorQualitySource(t *testing.T) {
	f := setup(t, options{eligible: false, blockPoor: true})
	article := f.article(t, accountA, "Harvest")

	_, err := f.svc.Regenerate(context.Background(), scopeFor(accountA), article.ID.String())

	assert.ErrorIs(t, err, domain.ErrRegenerationBlocked)
	assert.Empty(t, f.enqueuer.calls)
}

func TestRegenerateRestoresStatusWhenEnqueueFails(t *testing.T) {
	f := setup(t, options{eligible: true})
	f.enqueuer.err = errors.New("queue down")
	ctx := context.Background()
	article := f.article(t, accountA, "Harvest")

	_, err := f.svc.Regenerate(ctx, scopeFor(accountA), article.ID.String())
	require.Error(t, err)

	stored, err := f.repo.GetArticle(ctx, accountA, article.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDraft, stored.Status)
}

func TestResponseLogsAreScopedToArticle(t *testing.T) {
	f := setup(t, options{})
	ctx := context.Background()
	article := f.article(t, accountA, "Harvest")
	other := f.article(t, accountA, "Other")

	logs := llm.NewLogRepository(f.db)
	for i, target := range []snowflake.ID{article.ID, article.ID, other.ID} {
		target := target
		require.NoError(t, logs.Create(ctx, &llm.AiResponseLog{
			ID:                 snowflake.ID(1000 + i),
			AccountID:          accountA,
			GeneratedArticleID: &target,
			PromptText:         "prompt",
			StopReason:         "stop",
			CreatedAt:          time.Date(2026, 4, 2, 10, i, 0, 0, time.UTC),
		}))
	}

	got, err := f.svc.ResponseLogs(ctx, scopeFor(accountA), article.ID.String(), 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, snowflake.ID(1000), got[0].ID)

	_, err = f.svc.ResponseLogs(ctx, scopeFor(accountB), article.ID.String(), 10)
	assert.ErrorIs(t, err, domain.ErrArticleNotFound)
}

func TestStatsCountsByStatus(t *testing.T) {
	f := setup(t, options{})
	ctx := context.Background()
	first := f.article(t, accountA, "One")
	f.article(t, accountA, "Two")
	require.NoError(t, f.svc.UpdateStatus(ctx, scopeFor(accountA), domain.TypeArticle, first.ID.String(), domain.StatusRejected))

	stats, err := f.svc.Stats(ctx, scopeFor(accountA))
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Total)
	assert.Equal(t, int64(1), stats.Articles[domain.StatusDraft])
	assert.Equal(t, int64(1), stats.Articles[domain.StatusRejected])
}
