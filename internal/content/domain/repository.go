package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type ArticleFilter struct {
	Statuses []string
	Limit    int
	Offset   int
}

type Repository interface {
	WithTx(tx *gorm.DB) Repository

	CreateArticle(ctx context.Context, article *GeneratedArticle) error
	GetArticle(ctx context.Context, accountID, id snowflake.ID) (*GeneratedArticle, error)
	UpdateArticle(ctx context.Context, accountID, id snowflake.ID, fields map[string]any) (bool, error)
	ListArticles(ctx context.Context, accountID snowflake.ID, filter ArticleFilter) ([]GeneratedArticle, int64, error)
	CountArticlesSince(ctx context.Context, accountID snowflake.ID, since time.Time) (int64, error)
	CountArticlesByStatus(ctx context.Context, accountID snowflake.ID) (map[string]int64, error)

	CreateContent(ctx context.Context, content *GeneratedContent) error
	GetContent(ctx context.Context, accountID, id snowflake.ID) (*GeneratedContent, error)
	UpdateContent(ctx context.Context, accountID, id snowflake.ID, fields map[string]any) (bool, error)
	ListContentByArticles(ctx context.Context, accountID snowflake.ID, articleIDs []snowflake.ID) ([]GeneratedContent, error)
	CountContentByStatus(ctx context.Context, accountID snowflake.ID) (map[string]int64, error)

	CreateSocialPost(ctx context.Context, row *SocialPost) error
	CreateVideoScript(ctx context.Context, row *VideoScript) error
	CreatePrayerPoint(ctx context.Context, row *PrayerPoint) error
	CreateBlogImage(ctx context.Context, row *BlogImage) error
	CreateSnippet(ctx context.Context, row *ContentSnippet) error

	// ListLegacy returns legacy rows of one type. A zero afterID starts at
	// the beginning; rows come back in id order.
	ListLegacy(ctx context.Context, accountID snowflake.ID, contentType string, filter LegacyFilter) ([]LegacyRow, error)
	GetLegacyStatus(ctx context.Context, accountID snowflake.ID, contentType string, id snowflake.ID) (string, bool, error)
	UpdateLegacyStatus(ctx context.Context, accountID snowflake.ID, contentType string, id snowflake.ID, status string, at time.Time) (bool, error)
	CountLegacy(ctx context.Context, accountID snowflake.ID, contentType string) (int64, error)
	LegacyAccounts(ctx context.Context, contentType string) ([]snowflake.ID, error)

	// CreateMigrationRecord reports false when the legacy row was already linked.
	CreateMigrationRecord(ctx context.Context, record *MigrationRecord) (bool, error)
	FindMigrationRecord(ctx context.Context, accountID snowflake.ID, contentType string, legacyID snowflake.ID) (*MigrationRecord, error)
	DeleteMigrationRecords(ctx context.Context, accountID, modernContentID snowflake.ID) (int64, error)
	DeleteContent(ctx context.Context, accountID, id snowflake.ID) (bool, error)
	CountMigrated(ctx context.Context, accountID snowflake.ID, contentType string) (int64, error)
}

type LegacyFilter struct {
	ArticleIDs     []snowflake.ID
	AfterID        snowflake.ID
	UnmigratedOnly bool
	Limit          int
}
