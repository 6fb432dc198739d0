package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/newsdesk/internal/source/domain"
	"github.com/smallbiznis/newsdesk/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repository struct {
	db       *gorm.DB
	sources  *db.Store[domain.Source]
	articles *db.Store[domain.ScrapedArticle]
}

func NewRepository(conn *gorm.DB) domain.Repository {
	return &repository{
		db:       conn,
		sources:  db.NewStore[domain.Source](conn),
		articles: db.NewStore[domain.ScrapedArticle](conn),
	}
}

func (r *repository) WithTx(tx *gorm.DB) domain.Repository {
	return NewRepository(tx)
}

func (r *repository) CreateSource(ctx context.Context, src *domain.Source) error {
	return r.sources.Create(ctx, src)
}

func (r *repository) GetSource(ctx context.Context, accountID, id snowflake.ID) (*domain.Source, error) {
	return r.sources.FindByID(ctx, accountID, id)
}

func (r *repository) ListSources(ctx context.Context, accountID snowflake.ID) ([]domain.Source, error) {
	return r.sources.Find(ctx, accountID, nil, db.OrderBy("name ASC"), db.OrderBy("id ASC"))
}

func (r *repository) UpdateSource(ctx context.Context, accountID, id snowflake.ID, fields map[string]any) (bool, error) {
	return r.sources.Update(ctx, accountID, id, fields)
}

func (r *repository) RecordRefresh(ctx context.Context, accountID, id snowflake.ID, success bool, inserted int, at time.Time) error {
	successes := 0
	if success {
		successes = 1
	}
	return r.db.WithContext(ctx).Exec(
		`UPDATE sources
		 SET last_checked = ?,
		     refresh_attempts = refresh_attempts + 1,
		     refresh_successes = refresh_successes + ?,
		     total_articles = total_articles + ?,
		     updated_at = ?
		 WHERE account_id = ? AND id = ?`,
		at, successes, inserted, at, accountID, id,
	).Error
}

func (r *repository) CountRecentArticles(ctx context.Context, accountID snowflake.ID, since time.Time) (map[snowflake.ID]int64, error) {
	var rows []struct {
		SourceID snowflake.ID
		Total    int64
	}
	err := r.db.WithContext(ctx).Raw(
		`SELECT source_id, COUNT(*) AS total
		 FROM scraped_articles
		 WHERE account_id = ? AND source_id IS NOT NULL AND created_at >= ?
		 GROUP BY source_id`,
		accountID, since,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[snowflake.ID]int64, len(rows))
	for _, row := range rows {
		out[row.SourceID] = row.Total
	}
	return out, nil
}

func (r *repository) InsertArticle(ctx context.Context, article *domain.ScrapedArticle) (bool, error) {
	if article.AccountID == 0 {
		return false, db.ErrMissingAccount
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "account_id"}, {Name: "url"}},
			DoNothing: true,
		}).
		Create(article)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) GetArticle(ctx context.Context, accountID, id snowflake.ID) (*domain.ScrapedArticle, error) {
	return r.articles.FindByID(ctx, accountID, id)
}

func (r *repository) ListArticles(ctx context.Context, accountID snowflake.ID, filter domain.ArticleFilter) ([]domain.ScrapedArticle, error) {
	if accountID == 0 {
		return nil, db.ErrMissingAccount
	}
	stmt := r.db.WithContext(ctx).Model(&domain.ScrapedArticle{}).Scopes(db.AccountScope(accountID))
	if len(filter.Statuses) > 0 {
		stmt = stmt.Where("status IN ?", filter.Statuses)
	}
	if filter.EligibleOnly {
		stmt = stmt.Where("content_generation_eligible = ?", true)
	}
	stmt = stmt.Order("relevance_score DESC").Order("created_at ASC").Order("id ASC")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit)
	}
	var out []domain.ScrapedArticle
	if err := stmt.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *repository) UpdateArticle(ctx context.Context, accountID, id snowflake.ID, fields map[string]any) (bool, error) {
	return r.articles.Update(ctx, accountID, id, fields)
}
