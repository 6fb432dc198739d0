package llm

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/newsdesk/internal/apperr"
	"github.com/smallbiznis/newsdesk/pkg/db"
	"gorm.io/gorm"
)

// AiResponseLog records one gateway call with its prompt and raw response.
type AiResponseLog struct {
	ID                 snowflake.ID  `gorm:"primaryKey" json:"id"`
	AccountID          snowflake.ID  `gorm:"not null;index" json:"account_id"`
	GeneratedArticleID *snowflake.ID `gorm:"index" json:"generated_article_id,omitempty"`
	TemplateVersionID  *snowflake.ID `gorm:"index" json:"template_version_id,omitempty"`
	JobID              *snowflake.ID `gorm:"index" json:"job_id,omitempty"`
	PromptCategory     string        `gorm:"type:text;not null;default:''" json:"prompt_category"`
	PromptText         string        `gorm:"type:text;not null" json:"prompt_text"`
	ResponseText       string        `gorm:"type:text;not null;default:''" json:"response_text"`
	MaxOutputTokens    int32         `gorm:"not null;default:0" json:"max_output_tokens"`
	TokensUsedInput    int32         `gorm:"not null;default:0" json:"tokens_used_input"`
	TokensUsedOutput   int32         `gorm:"not null;default:0" json:"tokens_used_output"`
	StopReason         string        `gorm:"type:text;not null" json:"stop_reason"`
	IsTruncated        bool          `gorm:"not null;default:false" json:"is_truncated"`
	ErrorKind          string        `gorm:"type:text;not null;default:''" json:"error_kind,omitempty"`
	ErrorCode          string        `gorm:"type:text;not null;default:''" json:"error_code,omitempty"`
	LatencyMs          int64         `gorm:"not null;default:0" json:"latency_ms"`
	CreatedAt          time.Time     `gorm:"not null;index" json:"created_at"`
}

func (AiResponseLog) TableName() string { return "ai_response_logs" }

func (l AiResponseLog) OwnerAccountID() snowflake.ID { return l.AccountID }

type LogRepository interface {
	Create(ctx context.Context, entry *AiResponseLog) error
	ListByArticle(ctx context.Context, accountID, articleID snowflake.ID, limit int) ([]AiResponseLog, error)
	ListRecent(ctx context.Context, accountID snowflake.ID, limit int) ([]AiResponseLog, error)
	// LinkArticle backfills the article id on calls made before the article existed.
	LinkArticle(ctx context.Context, accountID snowflake.ID, ids []snowflake.ID, articleID snowflake.ID) error
	// MarkParseFailure flags a call whose output was rejected by its parser.
	MarkParseFailure(ctx context.Context, accountID, id snowflake.ID, code string) error
}

type logRepository struct {
	db    *gorm.DB
	store *db.Store[AiResponseLog]
}

func NewLogRepository(conn *gorm.DB) LogRepository {
	return &logRepository{db: conn, store: db.NewStore[AiResponseLog](conn)}
}

func (r *logRepository) Create(ctx context.Context, entry *AiResponseLog) error {
	return r.store.Create(ctx, entry)
}

func (r *logRepository) ListByArticle(ctx context.Context, accountID, articleID snowflake.ID, limit int) ([]AiResponseLog, error) {
	return r.store.Find(ctx, accountID,
		map[string]any{"generated_article_id": articleID},
		db.OrderBy("created_at ASC"), db.OrderBy("id ASC"), db.Limit(limit),
	)
}

func (r *logRepository) ListRecent(ctx context.Context, accountID snowflake.ID, limit int) ([]AiResponseLog, error) {
	return r.store.Find(ctx, accountID, nil, db.OrderBy("created_at DESC"), db.OrderBy("id DESC"), db.Limit(limit))
}

func (r *logRepository) LinkArticle(ctx context.Context, accountID snowflake.ID, ids []snowflake.ID, articleID snowflake.ID) error {
	if len(ids) == 0 {
		return nil
	}
	if accountID == 0 {
		return db.ErrMissingAccount
	}
	return r.db.WithContext(ctx).Model(&AiResponseLog{}).
		Scopes(db.AccountScope(accountID)).
		Where("id IN ? AND generated_article_id IS NULL", ids).
		Update("generated_article_id", articleID).Error
}

func (r *logRepository) MarkParseFailure(ctx context.Context, accountID, id snowflake.ID, code string) error {
	if accountID == 0 {
		return db.ErrMissingAccount
	}
	return r.db.WithContext(ctx).Model(&AiResponseLog{}).
		Scopes(db.AccountScope(accountID)).
		Where("id = ?", id).
		Updates(map[string]any{
			"error_kind": string(apperr.KindParseFailure),
			"error_code": code,
		}).Error
}
