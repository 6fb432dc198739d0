package contentmigration

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/newsdesk/internal/clock"
	"github.com/smallbiznis/newsdesk/internal/config"
	"github.com/smallbiznis/newsdesk/internal/content/domain"
	"github.com/smallbiznis/newsdesk/internal/content/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	svc  *Service
	db   *gorm.DB
	node *snowflake.Node
}

func setup(t *testing.T) fixture {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "migration.db")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(
		&domain.GeneratedArticle{}, &domain.GeneratedContent{}, &domain.SocialPost{},
		&domain.VideoScript{}, &domain.PrayerPoint{}, &domain.BlogImage{},
		&domain.ContentSnippet{}, &domain.MigrationRecord{},
	))
	node, err := snowflake.NewNode(5)
	require.NoError(t, err)
	svc := NewService(Params{
		DB:     conn,
		Log:    zap.NewNop(),
		Repo:   repository.NewRepository(conn),
		GenID:  node,
		Clock:  clock.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)),
		Config: config.Config{Migration: config.MigrationConfig{BatchSize: 30}},
	})
	return fixture{svc: svc, db: conn, node: node}
}

func seedPosts(t *testing.T, f fixture, accountID snowflake.ID, n int) []domain.SocialPost {
	t.Helper()
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	posts := make([]domain.SocialPost, 0, n)
	for i := 0; i < n; i++ {
		posts = append(posts, domain.SocialPost{
			ID:                  f.node.Generate(),
			AccountID:           accountID,
			BasedOnGenArticleID: snowflake.ID(500),
			PromptCategory:      "social_media",
			Platform:            "facebook",
			Text:                "post",
			Hashtags:            domain.EncodeJSON([]string{"news"}),
			Status:              domain.StatusDraft,
			CreatedAt:           now,
			UpdatedAt:           now,
		})
	}
	require.NoError(t, f.db.CreateInBatches(&posts, 50).Error)
	return posts
}

func count(t *testing.T, conn *gorm.DB, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, conn.Model(model).Count(&n).Error)
	return n
}

func TestBackfillIsIdempotent(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	account := snowflake.ID(10)
	seedPosts(t, f, account, 100)

	first, err := f.svc.Backfill(ctx, account, domain.TypeSocialPost, f.svc.DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 100, first.Migrated)
	assert.Equal(t, 4, first.Batches)
	assert.EqualValues(t, 100, count(t, f.db, &domain.GeneratedContent{}))
	assert.EqualValues(t, 100, count(t, f.db, &domain.MigrationRecord{}))

	second, err := f.svc.Backfill(ctx, account, domain.TypeSocialPost, f.svc.DefaultOptions())
	require.NoError(t, err)
	assert.Zero(t, second.Migrated)
	assert.Zero(t, second.Scanned)
	assert.EqualValues(t, 100, count(t, f.db, &domain.GeneratedContent{}))
	assert.EqualValues(t, 100, count(t, f.db, &domain.MigrationRecord{}))
}

func TestBackfillCopiesCanonicalEntry(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	posts := seedPosts(t, f, snowflake.ID(10), 1)

	_, err := f.svc.Backfill(ctx, snowflake.ID(10), domain.TypeSocialPost, Options{BatchSize: 10})
	require.NoError(t, err)

	var content domain.GeneratedContent
	require.NoError(t, f.db.First(&content).Error)
	assert.Equal(t, "migration", content.Metadata["source"])
	assert.Equal(t, []string{posts[0].ID.String()}, content.LegacyIDs())
	require.Len(t, content.Entries(), 1)
	assert.Equal(t, "facebook", content.Entries()[0]["platform"])
	assert.Equal(t, []any{"news"}, content.Entries()[0]["hashtags"])
}

func TestDryRunWritesNothing(t *testing.T) {
	f := setup(t)
	seedPosts(t, f, snowflake.ID(10), 5)

	report, err := f.svc.Backfill(context.Background(), snowflake.ID(10), domain.TypeSocialPost, Options{DryRun: true, BatchSize: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, report.Scanned)
	assert.Equal(t, 3, report.Batches)
	assert.Zero(t, count(t, f.db, &domain.GeneratedContent{}))
	assert.Zero(t, count(t, f.db, &domain.MigrationRecord{}))
}

func TestBackfillAllCoversEveryAccount(t *testing.T) {
	f := setup(t)
	seedPosts(t, f, snowflake.ID(10), 3)
	seedPosts(t, f, snowflake.ID(20), 2)

	reports, err := f.svc.BackfillAll(context.Background(), Options{BatchSize: 10})
	require.NoError(t, err)
	migrated := 0
	for _, report := range reports {
		migrated += report.Migrated
	}
	assert.Equal(t, 5, migrated)

	var foreign int64
	require.NoError(t, f.db.Model(&domain.GeneratedContent{}).Where("account_id = ?", snowflake.ID(20)).Count(&foreign).Error)
	assert.EqualValues(t, 2, foreign)
}

func TestRollbackRemovesModernRowOnly(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	posts := seedPosts(t, f, snowflake.ID(10), 2)
	_, err := f.svc.Backfill(ctx, snowflake.ID(10), domain.TypeSocialPost, Options{BatchSize: 10})
	require.NoError(t, err)

	res, err := f.svc.Rollback(ctx, snowflake.ID(10), domain.TypeSocialPost, posts[0].ID, false)
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.RecordsDeleted)
	assert.EqualValues(t, 1, count(t, f.db, &domain.GeneratedContent{}))
	assert.EqualValues(t, 1, count(t, f.db, &domain.MigrationRecord{}))
	assert.EqualValues(t, 2, count(t, f.db, &domain.SocialPost{}))

	_, err = f.svc.Rollback(ctx, snowflake.ID(10), domain.TypeSocialPost, posts[0].ID, false)
	require.Error(t, err)

	progress, err := f.svc.Progress(ctx, snowflake.ID(10))
	require.NoError(t, err)
	for _, p := range progress {
		if p.ContentType == domain.TypeSocialPost {
			assert.EqualValues(t, 2, p.LegacyTotal)
			assert.EqualValues(t, 1, p.Migrated)
			assert.InDelta(t, 50.0, p.Percent, 0.001)
		}
	}

	again, err := f.svc.Backfill(ctx, snowflake.ID(10), domain.TypeSocialPost, Options{BatchSize: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, again.Migrated)
}
