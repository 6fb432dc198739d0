package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	WithTx(tx *gorm.DB) Repository

	CreateSource(ctx context.Context, src *Source) error
	GetSource(ctx context.Context, accountID, id snowflake.ID) (*Source, error)
	ListSources(ctx context.Context, accountID snowflake.ID) ([]Source, error)
	UpdateSource(ctx context.Context, accountID, id snowflake.ID, fields map[string]any) (bool, error)
	RecordRefresh(ctx context.Context, accountID, id snowflake.ID, success bool, inserted int, at time.Time) error
	CountRecentArticles(ctx context.Context, accountID snowflake.ID, since time.Time) (map[snowflake.ID]int64, error)

	// InsertArticle returns false when the account already holds the URL.
	InsertArticle(ctx context.Context, article *ScrapedArticle) (bool, error)
	GetArticle(ctx context.Context, accountID, id snowflake.ID) (*ScrapedArticle, error)
	ListArticles(ctx context.Context, accountID snowflake.ID, filter ArticleFilter) ([]ScrapedArticle, error)
	UpdateArticle(ctx context.Context, accountID, id snowflake.ID, fields map[string]any) (bool, error)
}

type ArticleFilter struct {
	Statuses     []string
	EligibleOnly bool
	Limit        int
}
