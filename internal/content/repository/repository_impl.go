package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/newsdesk/internal/content/domain"
	"github.com/smallbiznis/newsdesk/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var legacyTables = map[string]string{
	domain.TypeArticle:     "generated_articles",
	domain.TypeSocialPost:  "social_posts",
	domain.TypeVideoScript: "video_scripts",
	domain.TypePrayerPoint: "prayer_points",
	domain.TypeBlogImage:   "blog_images",
	domain.TypeSnippet:     "content_snippets",
}

type repository struct {
	db       *gorm.DB
	articles *db.Store[domain.GeneratedArticle]
	contents *db.Store[domain.GeneratedContent]
	records  *db.Store[domain.MigrationRecord]
}

func NewRepository(conn *gorm.DB) domain.Repository {
	return &repository{
		db:       conn,
		articles: db.NewStore[domain.GeneratedArticle](conn),
		contents: db.NewStore[domain.GeneratedContent](conn),
		records:  db.NewStore[domain.MigrationRecord](conn),
	}
}

func (r *repository) WithTx(tx *gorm.DB) domain.Repository {
	return NewRepository(tx)
}

func (r *repository) CreateArticle(ctx context.Context, article *domain.GeneratedArticle) error {
	return r.articles.Create(ctx, article)
}

func (r *repository) GetArticle(ctx context.Context, accountID, id snowflake.ID) (*domain.GeneratedArticle, error) {
	return r.articles.FindByID(ctx, accountID, id)
}

func (r *repository) UpdateArticle(ctx context.Context, accountID, id snowflake.ID, fields map[string]any) (bool, error) {
	return r.articles.Update(ctx, accountID, id, fields)
}

func (r *repository) ListArticles(ctx context.Context, accountID snowflake.ID, filter domain.ArticleFilter) ([]domain.GeneratedArticle, int64, error) {
	if accountID == 0 {
		return nil, 0, db.ErrMissingAccount
	}
	stmt := r.db.WithContext(ctx).Model(&domain.GeneratedArticle{}).Scopes(db.AccountScope(accountID))
	if len(filter.Statuses) > 0 {
		stmt = stmt.Where("status IN ?", filter.Statuses)
	}
	var total int64
	if err := stmt.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	stmt = stmt.Order("created_at DESC").Order("id DESC")
	stmt = db.Limit(filter.Limit)(stmt)
	stmt = db.Offset(filter.Offset)(stmt)

	var rows []domain.GeneratedArticle
	if err := stmt.Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

func (r *repository) CountArticlesSince(ctx context.Context, accountID snowflake.ID, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.GeneratedArticle{}).
		Scopes(db.AccountScope(accountID)).
		Where("created_at >= ?", since).
		Count(&count).Error
	return count, err
}

type statusCount struct {
	Status string
	Total  int64
}

func (r *repository) countByStatus(ctx context.Context, model any, accountID snowflake.ID) (map[string]int64, error) {
	var rows []statusCount
	err := r.db.WithContext(ctx).Model(model).
		Scopes(db.AccountScope(accountID)).
		Select("status, COUNT(*) AS total").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.Status] = row.Total
	}
	return out, nil
}

func (r *repository) CountArticlesByStatus(ctx context.Context, accountID snowflake.ID) (map[string]int64, error) {
	return r.countByStatus(ctx, &domain.GeneratedArticle{}, accountID)
}

func (r *repository) CreateContent(ctx context.Context, content *domain.GeneratedContent) error {
	return r.contents.Create(ctx, content)
}

func (r *repository) GetContent(ctx context.Context, accountID, id snowflake.ID) (*domain.GeneratedContent, error) {
	return r.contents.FindByID(ctx, accountID, id)
}

func (r *repository) UpdateContent(ctx context.Context, accountID, id snowflake.ID, fields map[string]any) (bool, error) {
	return r.contents.Update(ctx, accountID, id, fields)
}

func (r *repository) ListContentByArticles(ctx context.Context, accountID snowflake.ID, articleIDs []snowflake.ID) ([]domain.GeneratedContent, error) {
	if len(articleIDs) == 0 {
		return nil, nil
	}
	return r.contents.Find(ctx, accountID, map[string]any{"based_on_gen_article_id": articleIDs},
		db.OrderBy("created_at ASC"), db.OrderBy("id ASC"))
}

func (r *repository) CountContentByStatus(ctx context.Context, accountID snowflake.ID) (map[string]int64, error) {
	return r.countByStatus(ctx, &domain.GeneratedContent{}, accountID)
}

func (r *repository) CreateSocialPost(ctx context.Context, row *domain.SocialPost) error {
	return db.NewStore[domain.SocialPost](r.db).Create(ctx, row)
}

func (r *repository) CreateVideoScript(ctx context.Context, row *domain.VideoScript) error {
	return db.NewStore[domain.VideoScript](r.db).Create(ctx, row)
}

func (r *repository) CreatePrayerPoint(ctx context.Context, row *domain.PrayerPoint) error {
	return db.NewStore[domain.PrayerPoint](r.db).Create(ctx, row)
}

func (r *repository) CreateBlogImage(ctx context.Context, row *domain.BlogImage) error {
	return db.NewStore[domain.BlogImage](r.db).Create(ctx, row)
}

func (r *repository) CreateSnippet(ctx context.Context, row *domain.ContentSnippet) error {
	return db.NewStore[domain.ContentSnippet](r.db).Create(ctx, row)
}

func (r *repository) legacyQuery(ctx context.Context, accountID snowflake.ID, contentType string, filter domain.LegacyFilter) (*gorm.DB, error) {
	if accountID == 0 {
		return nil, db.ErrMissingAccount
	}
	table, ok := legacyTables[contentType]
	if !ok {
		return nil, domain.ErrInvalidContentType
	}
	stmt := r.db.WithContext(ctx).Table(table).Where(table+".account_id = ?", accountID)
	if contentType == domain.TypeArticle {
		stmt = stmt.Where(table + ".body_draft <> ''")
	}
	if len(filter.ArticleIDs) > 0 {
		column := "based_on_gen_article_id"
		if contentType == domain.TypeArticle {
			column = "id"
		}
		stmt = stmt.Where(table+"."+column+" IN ?", filter.ArticleIDs)
	}
	if filter.AfterID != 0 {
		stmt = stmt.Where(table+".id > ?", filter.AfterID)
	}
	if filter.UnmigratedOnly {
		stmt = stmt.Where(fmt.Sprintf(
			`NOT EXISTS (SELECT 1 FROM migration_records m
			  WHERE m.content_type = ? AND m.legacy_id = %[1]s.id AND m.account_id = %[1]s.account_id)`, table),
			contentType)
	}
	return stmt, nil
}

func (r *repository) ListLegacy(ctx context.Context, accountID snowflake.ID, contentType string, filter domain.LegacyFilter) ([]domain.LegacyRow, error) {
	stmt, err := r.legacyQuery(ctx, accountID, contentType, filter)
	if err != nil {
		return nil, err
	}
	stmt = db.Limit(filter.Limit)(stmt.Order(legacyTables[contentType] + ".id ASC"))
	switch contentType {
	case domain.TypeArticle:
		return scanLegacy(stmt, func(a domain.GeneratedArticle) domain.LegacyRow {
			return domain.LegacyRow{ID: a.ID, AccountID: a.AccountID, BasedOnGenArticleID: a.ID,
				PromptCategory: a.PromptCategory, Status: a.Status, Canonical: a.Canonical(), CreatedAt: a.CreatedAt}
		}, contentType)
	case domain.TypeSocialPost:
		return scanLegacy(stmt, func(p domain.SocialPost) domain.LegacyRow {
			return domain.LegacyRow{ID: p.ID, AccountID: p.AccountID, BasedOnGenArticleID: p.BasedOnGenArticleID,
				PromptCategory: p.PromptCategory, Status: p.Status, Canonical: p.Canonical(), CreatedAt: p.CreatedAt}
		}, contentType)
	case domain.TypeVideoScript:
		return scanLegacy(stmt, func(v domain.VideoScript) domain.LegacyRow {
			return domain.LegacyRow{ID: v.ID, AccountID: v.AccountID, BasedOnGenArticleID: v.BasedOnGenArticleID,
				PromptCategory: v.PromptCategory, Status: v.Status, Canonical: v.Canonical(), CreatedAt: v.CreatedAt}
		}, contentType)
	case domain.TypePrayerPoint:
		return scanLegacy(stmt, func(p domain.PrayerPoint) domain.LegacyRow {
			return domain.LegacyRow{ID: p.ID, AccountID: p.AccountID, BasedOnGenArticleID: p.BasedOnGenArticleID,
				PromptCategory: p.PromptCategory, Status: p.Status, Canonical: p.Canonical(), CreatedAt: p.CreatedAt}
		}, contentType)
	case domain.TypeBlogImage:
		return scanLegacy(stmt, func(i domain.BlogImage) domain.LegacyRow {
			return domain.LegacyRow{ID: i.ID, AccountID: i.AccountID, BasedOnGenArticleID: i.BasedOnGenArticleID,
				PromptCategory: i.PromptCategory, Status: i.Status, Canonical: i.Canonical(), CreatedAt: i.CreatedAt}
		}, contentType)
	default:
		return scanLegacy(stmt, func(s domain.ContentSnippet) domain.LegacyRow {
			return domain.LegacyRow{ID: s.ID, AccountID: s.AccountID, BasedOnGenArticleID: s.BasedOnGenArticleID,
				PromptCategory: s.PromptCategory, Status: s.Status, Canonical: s.Canonical(), CreatedAt: s.CreatedAt}
		}, contentType)
	}
}

func scanLegacy[T any](stmt *gorm.DB, convert func(T) domain.LegacyRow, contentType string) ([]domain.LegacyRow, error) {
	var rows []T
	if err := stmt.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.LegacyRow, 0, len(rows))
	for _, row := range rows {
		legacy := convert(row)
		legacy.ContentType = contentType
		out = append(out, legacy)
	}
	return out, nil
}

func (r *repository) GetLegacyStatus(ctx context.Context, accountID snowflake.ID, contentType string, id snowflake.ID) (string, bool, error) {
	table, ok := legacyTables[contentType]
	if !ok {
		return "", false, domain.ErrInvalidContentType
	}
	var statuses []string
	err := r.db.WithContext(ctx).Table(table).
		Where("account_id = ? AND id = ?", accountID, id).
		Limit(1).
		Pluck("status", &statuses).Error
	if err != nil || len(statuses) == 0 {
		return "", false, err
	}
	return statuses[0], true, nil
}

func (r *repository) UpdateLegacyStatus(ctx context.Context, accountID snowflake.ID, contentType string, id snowflake.ID, status string, at time.Time) (bool, error) {
	table, ok := legacyTables[contentType]
	if !ok {
		return false, domain.ErrInvalidContentType
	}
	res := r.db.WithContext(ctx).Table(table).
		Where("account_id = ? AND id = ?", accountID, id).
		Updates(map[string]any{"status": status, "updated_at": at})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) CountLegacy(ctx context.Context, accountID snowflake.ID, contentType string) (int64, error) {
	stmt, err := r.legacyQuery(ctx, accountID, contentType, domain.LegacyFilter{})
	if err != nil {
		return 0, err
	}
	var count int64
	err = stmt.Count(&count).Error
	return count, err
}

func (r *repository) LegacyAccounts(ctx context.Context, contentType string) ([]snowflake.ID, error) {
	table, ok := legacyTables[contentType]
	if !ok {
		return nil, domain.ErrInvalidContentType
	}
	var ids []snowflake.ID
	err := r.db.WithContext(ctx).Table(table).Distinct("account_id").Order("account_id ASC").Pluck("account_id", &ids).Error
	return ids, err
}

func (r *repository) CreateMigrationRecord(ctx context.Context, record *domain.MigrationRecord) (bool, error) {
	if record.AccountID == 0 {
		return false, db.ErrMissingAccount
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "content_type"}, {Name: "legacy_id"}, {Name: "account_id"}},
			DoNothing: true,
		}).
		Create(record)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) FindMigrationRecord(ctx context.Context, accountID snowflake.ID, contentType string, legacyID snowflake.ID) (*domain.MigrationRecord, error) {
	rows, err := r.records.Find(ctx, accountID, map[string]any{"content_type": contentType, "legacy_id": legacyID}, db.Limit(1))
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return &rows[0], nil
}

func (r *repository) DeleteMigrationRecords(ctx context.Context, accountID, modernContentID snowflake.ID) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("account_id = ? AND modern_content_id = ?", accountID, modernContentID).
		Delete(&domain.MigrationRecord{})
	return res.RowsAffected, res.Error
}

func (r *repository) DeleteContent(ctx context.Context, accountID, id snowflake.ID) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("account_id = ? AND id = ?", accountID, id).
		Delete(&domain.GeneratedContent{})
	return res.RowsAffected > 0, res.Error
}

func (r *repository) CountMigrated(ctx context.Context, accountID snowflake.ID, contentType string) (int64, error) {
	return r.records.Count(ctx, accountID, map[string]any{"content_type": contentType})
}
