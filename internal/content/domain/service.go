package domain

import (
	"context"
	"time"

	"github.com/smallbiznis/newsdesk/internal/accountctx"
	"github.com/smallbiznis/newsdesk/internal/apperr"
	"github.com/smallbiznis/newsdesk/internal/llm"
	"github.com/smallbiznis/newsdesk/pkg/db/pagination"
)

// Service is the review-side view over generated content.
type Service interface {
	ListReview(ctx context.Context, scope accountctx.Scope, req ReviewRequest) (*ReviewPage, error)
	GetArticle(ctx context.Context, scope accountctx.Scope, id string) (*ReviewItem, error)
	UpdateStatus(ctx context.Context, scope accountctx.Scope, contentType, id, status string) error
	Stats(ctx context.Context, scope accountctx.Scope) (*Stats, error)
	Regenerate(ctx context.Context, scope accountctx.Scope, articleID string) (*RegenerateResponse, error)
	ResponseLogs(ctx context.Context, scope accountctx.Scope, articleID string, limit int) ([]llm.AiResponseLog, error)
}

// JobEnqueuer queues the successor generation of a regenerated article.
type JobEnqueuer interface {
	EnqueueRegeneration(ctx context.Context, scope accountctx.Scope, scrapedArticleID, predecessorID string) (string, error)
}

type ReviewRequest struct {
	Status string
	Limit  int
	Offset int
}

type ReviewPage struct {
	Items []ReviewItem `json:"items"`
	pagination.PageInfo
}

type ReviewItem struct {
	ID                      string        `json:"id"`
	BasedOnScrapedArticleID string        `json:"basedOnScrapedArticleId,omitempty"`
	PredecessorID           string        `json:"predecessorId,omitempty"`
	Title                   string        `json:"title"`
	BodyDraft               string        `json:"bodyDraft"`
	BodyFinal               *string       `json:"bodyFinal,omitempty"`
	MetaDescription         string        `json:"metaDescription"`
	Tags                    []any         `json:"tags"`
	WordCount               int           `json:"wordCount"`
	Status                  string        `json:"status"`
	QualityTier             string        `json:"qualityTier,omitempty"`
	ContentIssues           []any         `json:"contentIssues"`
	QualityWarning          bool          `json:"qualityWarning"`
	Contents                []ContentView `json:"contents"`
	CreatedAt               time.Time     `json:"createdAt"`
	UpdatedAt               time.Time     `json:"updatedAt"`
}

// ContentView is one artifact either from the unified table or, when no
// unified row exists, from a legacy table.
type ContentView struct {
	ID             string           `json:"id"`
	Source         string           `json:"source"`
	ContentType    string           `json:"contentType"`
	PromptCategory string           `json:"promptCategory"`
	ContentData    []map[string]any `json:"contentData"`
	Metadata       map[string]any   `json:"metadata,omitempty"`
	Status         string           `json:"status"`
	CreatedAt      time.Time        `json:"createdAt"`
}

const (
	ViewUnified = "unified"
	ViewLegacy  = "legacy"
)

type Stats struct {
	Articles map[string]int64 `json:"articles"`
	Contents map[string]int64 `json:"contents"`
	Total    int64            `json:"total"`
}

type RegenerateResponse struct {
	JobID             string `json:"jobId"`
	ArchivedArticleID string `json:"archivedArticleId"`
}

// Status target for PUT /content/:type/:id/status. "content" addresses the
// unified row; legacy type names address legacy rows.
const TargetContent = "content"

var (
	ErrInvalidStatus       = apperr.Validation("invalid_status", "status is not recognized")
	ErrInvalidTransition   = apperr.Validation("invalid_status_transition", "status transition is not allowed")
	ErrInvalidContentType  = apperr.Validation("invalid_content_type", "content type is not recognized")
	ErrArticleNotFound     = apperr.NotFound("generated_article_not_found")
	ErrContentNotFound     = apperr.NotFound("content_not_found")
	ErrRegenerationBlocked = apperr.Validation("regeneration_blocked", "regeneration is disabled for poor quality source articles")
	ErrNoSourceArticle     = apperr.Validation("no_source_article", "article has no source article to regenerate from")
	ErrEnqueuerMissing     = apperr.New(apperr.KindInternal, "enqueuer_missing", "job queue is not configured")
)
