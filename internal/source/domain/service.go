package domain

import (
	"context"
	"time"

	"github.com/smallbiznis/newsdesk/internal/accountctx"
	"github.com/smallbiznis/newsdesk/internal/apperr"
)

type Service interface {
	CreateSource(ctx context.Context, scope accountctx.Scope, req CreateSourceRequest) (*SourceResponse, error)
	ListSourceStatus(ctx context.Context, scope accountctx.Scope) ([]SourceResponse, error)
	SetSourceActive(ctx context.Context, scope accountctx.Scope, id string, active bool) (*SourceResponse, error)
	Refresh(ctx context.Context, scope accountctx.Scope, id string) (*RefreshResult, error)
	RefreshAll(ctx context.Context, scope accountctx.Scope) ([]RefreshResult, error)

	IngestArticle(ctx context.Context, scope accountctx.Scope, req IngestArticleRequest) (*ScrapedArticle, bool, error)
	GetArticle(ctx context.Context, scope accountctx.Scope, id string) (*ScrapedArticle, error)
	ListPendingAnalysis(ctx context.Context, scope accountctx.Scope, limit int) ([]ScrapedArticle, error)
	ListEligible(ctx context.Context, scope accountctx.Scope, limit int) ([]ScrapedArticle, error)
	RecordAnalysis(ctx context.Context, scope accountctx.Scope, id string, analysis Analysis) error
	MarkProcessed(ctx context.Context, scope accountctx.Scope, id string) error
}

// Fetcher pulls candidate articles from a source feed.
type Fetcher interface {
	Fetch(ctx context.Context, src Source) ([]FetchedArticle, error)
}

type FetchedArticle struct {
	Title       string
	URL         string
	FullText    string
	PublishedAt *time.Time
}

type CreateSourceRequest struct {
	Name   string  `json:"name"`
	URL    string  `json:"url"`
	RSSURL *string `json:"rssUrl"`
}

type IngestArticleRequest struct {
	SourceID    string     `json:"sourceId"`
	Title       string     `json:"title"`
	URL         string     `json:"url"`
	FullText    string     `json:"fullText"`
	PublishedAt *time.Time `json:"publishedAt"`
}

type Analysis struct {
	Summary        string   `json:"summary"`
	Keywords       []string `json:"keywords"`
	RelevanceScore float64  `json:"relevanceScore"`
}

type SourceResponse struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	URL             string     `json:"url"`
	RSSURL          *string    `json:"rssUrl,omitempty"`
	IsActive        bool       `json:"isActive"`
	LastChecked     *time.Time `json:"lastChecked,omitempty"`
	SuccessRate     float64    `json:"successRate"`
	ArticlesLast24h int64      `json:"articlesLast24h"`
	TotalArticles   int        `json:"totalArticles"`
}

type RefreshResult struct {
	SourceID string `json:"sourceId"`
	Fetched  int    `json:"fetched"`
	Inserted int    `json:"inserted"`
	Error    string `json:"error,omitempty"`
}

var (
	ErrInvalidSourceName = apperr.Validation("invalid_source_name", "source name is required")
	ErrInvalidSourceURL  = apperr.Validation("invalid_source_url", "source url must be an absolute http(s) url")
	ErrInvalidArticle    = apperr.Validation("invalid_article", "article title and url are required")
	ErrSourceNotFound    = apperr.NotFound("source_not_found")
	ErrArticleNotFound   = apperr.NotFound("article_not_found")
	ErrSourceInactive    = apperr.Conflict("source_inactive", "source is not active")
	ErrFetcherMissing    = apperr.New(apperr.KindInternal, "fetcher_not_configured", "no fetcher configured")
)
