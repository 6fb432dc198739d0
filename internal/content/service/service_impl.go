package service

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/newsdesk/internal/accountctx"
	"github.com/smallbiznis/newsdesk/internal/clock"
	"github.com/smallbiznis/newsdesk/internal/content/domain"
	"github.com/smallbiznis/newsdesk/internal/llm"
	"github.com/smallbiznis/newsdesk/internal/quality"
	sourcedomain "github.com/smallbiznis/newsdesk/internal/source/domain"
	tenancydomain "github.com/smallbiznis/newsdesk/internal/tenancy/domain"
	"github.com/smallbiznis/newsdesk/pkg/db"
	"github.com/smallbiznis/newsdesk/pkg/db/pagination"
	"github.com/smallbiznis/newsdesk/pkg/rls"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Repo     domain.Repository
	Clock    clock.Clock
	Sources  sourcedomain.Service
	Tenancy  tenancydomain.Service
	Logs     llm.LogRepository
	Enqueuer domain.JobEnqueuer `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	repo     domain.Repository
	clock    clock.Clock
	sources  sourcedomain.Service
	tenancy  tenancydomain.Service
	logs     llm.LogRepository
	enqueuer domain.JobEnqueuer
}

func NewService(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("content.service"),
		repo:     p.Repo,
		clock:    p.Clock,
		sources:  p.Sources,
		tenancy:  p.Tenancy,
		logs:     p.Logs,
		enqueuer: p.Enqueuer,
	}
}

func (s *Service) ListReview(ctx context.Context, scope accountctx.Scope, req domain.ReviewRequest) (*domain.ReviewPage, error) {
	page := pagination.Page{Limit: req.Limit, Offset: req.Offset}.Normalize()
	filter := domain.ArticleFilter{Limit: page.Limit, Offset: page.Offset}
	if status := strings.TrimSpace(req.Status); status != "" {
		for _, part := range strings.Split(status, ",") {
			part = strings.TrimSpace(part)
			if !domain.IsStatus(part) {
				return nil, domain.ErrInvalidStatus
			}
			filter.Statuses = append(filter.Statuses, part)
		}
	}

	articles, total, err := s.repo.ListArticles(ctx, scope.AccountID, filter)
	if err != nil {
		return nil, db.Classify(err)
	}
	items, err := s.assemble(ctx, scope.AccountID, articles)
	if err != nil {
		return nil, err
	}
	return &domain.ReviewPage{Items: items, PageInfo: pagination.BuildPageInfo(page, total)}, nil
}

func (s *Service) GetArticle(ctx context.Context, scope accountctx.Scope, id string) (*domain.ReviewItem, error) {
	article, err := s.loadArticle(ctx, scope.AccountID, id)
	if err != nil {
		return nil, err
	}
	items, err := s.assemble(ctx, scope.AccountID, []domain.GeneratedArticle{*article})
	if err != nil {
		return nil, err
	}
	return &items[0], nil
}

// assemble attaches artifacts to articles. Unified rows come first; legacy
// rows without a migration record are shown as legacy views.
func (s *Service) assemble(ctx context.Context, accountID snowflake.ID, articles []domain.GeneratedArticle) ([]domain.ReviewItem, error) {
	items := make([]domain.ReviewItem, 0, len(articles))
	if len(articles) == 0 {
		return items, nil
	}
	ids := make([]snowflake.ID, 0, len(articles))
	index := make(map[snowflake.ID]int, len(articles))
	for i, article := range articles {
		ids = append(ids, article.ID)
		index[article.ID] = i
		items = append(items, toReviewItem(article))
	}

	contents, err := s.repo.ListContentByArticles(ctx, accountID, ids)
	if err != nil {
		return nil, db.Classify(err)
	}
	for _, content := range contents {
		i, ok := index[content.BasedOnGenArticleID]
		if !ok {
			continue
		}
		items[i].Contents = append(items[i].Contents, domain.ContentView{
			ID:             content.ID.String(),
			Source:         domain.ViewUnified,
			ContentType:    content.ContentType,
			PromptCategory: content.PromptCategory,
			ContentData:    content.Entries(),
			Metadata:       content.Metadata,
			Status:         content.Status,
			CreatedAt:      content.CreatedAt,
		})
	}

	for _, contentType := range domain.LegacyTypes {
		if contentType == domain.TypeArticle {
			continue
		}
		rows, err := s.repo.ListLegacy(ctx, accountID, contentType, domain.LegacyFilter{
			ArticleIDs:     ids,
			UnmigratedOnly: true,
		})
		if err != nil {
			return nil, db.Classify(err)
		}
		for _, row := range rows {
			i, ok := index[row.BasedOnGenArticleID]
			if !ok {
				continue
			}
			items[i].Contents = append(items[i].Contents, domain.ContentView{
				ID:             row.ID.String(),
				Source:         domain.ViewLegacy,
				ContentType:    row.ContentType,
				PromptCategory: row.PromptCategory,
				ContentData:    []map[string]any{row.Canonical},
				Status:         row.Status,
				CreatedAt:      row.CreatedAt,
			})
		}
	}
	return items, nil
}

func (s *Service) UpdateStatus(ctx context.Context, scope accountctx.Scope, contentType, id, status string) error {
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	status = strings.ToLower(strings.TrimSpace(status))
	if !domain.IsStatus(status) {
		return domain.ErrInvalidStatus
	}
	rowID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil || rowID == 0 {
		return domain.ErrContentNotFound
	}
	now := s.clock.Now()

	switch {
	case contentType == domain.TypeArticle:
		article, err := s.repo.GetArticle(ctx, scope.AccountID, rowID)
		if err != nil {
			return db.Classify(err)
		}
		if article == nil {
			return domain.ErrArticleNotFound
		}
		if !domain.CanTransition(article.Status, status) {
			return domain.ErrInvalidTransition
		}
		fields := map[string]any{"status": status, "updated_at": now}
		if status == domain.StatusPublished && article.BodyFinal == nil {
			fields["body_final"] = article.BodyDraft
		}
		_, err = s.repo.UpdateArticle(ctx, scope.AccountID, rowID, fields)
		return db.Classify(err)

	case contentType == domain.TargetContent:
		content, err := s.repo.GetContent(ctx, scope.AccountID, rowID)
		if err != nil {
			return db.Classify(err)
		}
		if content == nil {
			return domain.ErrContentNotFound
		}
		if !domain.CanTransition(content.Status, status) {
			return domain.ErrInvalidTransition
		}
		return db.Classify(s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := rls.WithAccount(tx, scope.AccountID); err != nil {
				return err
			}
			repo := s.repo.WithTx(tx)
			if _, err := repo.UpdateContent(ctx, scope.AccountID, rowID, map[string]any{"status": status, "updated_at": now}); err != nil {
				return err
			}
			if content.ContentType == domain.TypeArticle || !domain.IsLegacyType(content.ContentType) {
				return nil
			}
			// Mirrored legacy rows follow the unified row.
			for _, raw := range content.LegacyIDs() {
				legacyID, err := snowflake.ParseString(raw)
				if err != nil {
					continue
				}
				if _, err := repo.UpdateLegacyStatus(ctx, scope.AccountID, content.ContentType, legacyID, status, now); err != nil {
					return err
				}
			}
			return nil
		}))

	case domain.IsLegacyType(contentType):
		current, found, err := s.repo.GetLegacyStatus(ctx, scope.AccountID, contentType, rowID)
		if err != nil {
			return db.Classify(err)
		}
		if !found {
			return domain.ErrContentNotFound
		}
		if !domain.CanTransition(current, status) {
			return domain.ErrInvalidTransition
		}
		_, err = s.repo.UpdateLegacyStatus(ctx, scope.AccountID, contentType, rowID, status, now)
		return db.Classify(err)

	default:
		return domain.ErrInvalidContentType
	}
}

func (s *Service) Stats(ctx context.Context, scope accountctx.Scope) (*domain.Stats, error) {
	articles, err := s.repo.CountArticlesByStatus(ctx, scope.AccountID)
	if err != nil {
		return nil, db.Classify(err)
	}
	contents, err := s.repo.CountContentByStatus(ctx, scope.AccountID)
	if err != nil {
		return nil, db.Classify(err)
	}
	var total int64
	for _, n := range articles {
		total += n
	}
	return &domain.Stats{Articles: articles, Contents: contents, Total: total}, nil
}

// Regenerate archives the article and queues a successor generation for the
// same source article.
func (s *Service) Regenerate(ctx context.Context, scope accountctx.Scope, articleID string) (*domain.RegenerateResponse, error) {
	article, err := s.loadArticle(ctx, scope.AccountID, articleID)
	if err != nil {
		return nil, err
	}
	if !domain.CanTransition(article.Status, domain.StatusArchived) {
		return nil, domain.ErrInvalidTransition
	}
	if article.BasedOnScrapedArticleID == nil {
		return nil, domain.ErrNoSourceArticle
	}
	if s.enqueuer == nil {
		return nil, domain.ErrEnqueuerMissing
	}

	scraped, err := s.sources.GetArticle(ctx, scope, article.BasedOnScrapedArticleID.String())
	if err != nil {
		return nil, err
	}
	settings, err := s.tenancy.Settings(ctx, scope.AccountID.String())
	if err != nil {
		return nil, err
	}
	if !quality.RegenerationAllowed(scraped.ContentGenerationEligible, settings.DisableRegenerateOnPoorQuality) {
		return nil, domain.ErrRegenerationBlocked
	}

	previous := article.Status
	if _, err := s.repo.UpdateArticle(ctx, scope.AccountID, article.ID, map[string]any{
		"status":     domain.StatusArchived,
		"updated_at": s.clock.Now(),
	}); err != nil {
		return nil, db.Classify(err)
	}

	jobID, err := s.enqueuer.EnqueueRegeneration(ctx, scope, scraped.ID.String(), article.ID.String())
	if err != nil {
		if _, restoreErr := s.repo.UpdateArticle(ctx, scope.AccountID, article.ID, map[string]any{
			"status":     previous,
			"updated_at": s.clock.Now(),
		}); restoreErr != nil {
			s.log.Error("failed to restore article after enqueue error",
				zap.String("article_id", article.ID.String()),
				zap.Error(restoreErr),
			)
		}
		return nil, err
	}
	return &domain.RegenerateResponse{JobID: jobID, ArchivedArticleID: article.ID.String()}, nil
}

func (s *Service) ResponseLogs(ctx context.Context, scope accountctx.Scope, articleID string, limit int) ([]llm.AiResponseLog, error) {
	article, err := s.loadArticle(ctx, scope.AccountID, articleID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > pagination.MaxLimit {
		limit = pagination.MaxLimit
	}
	logs, err := s.logs.ListByArticle(ctx, scope.AccountID, article.ID, limit)
	if err != nil {
		return nil, db.Classify(err)
	}
	return logs, nil
}

func (s *Service) loadArticle(ctx context.Context, accountID snowflake.ID, id string) (*domain.GeneratedArticle, error) {
	articleID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil || articleID == 0 {
		return nil, domain.ErrArticleNotFound
	}
	article, err := s.repo.GetArticle(ctx, accountID, articleID)
	if err != nil {
		return nil, db.Classify(err)
	}
	if article == nil {
		return nil, domain.ErrArticleNotFound
	}
	return article, nil
}

func toReviewItem(a domain.GeneratedArticle) domain.ReviewItem {
	item := domain.ReviewItem{
		ID:              a.ID.String(),
		Title:           a.Title,
		BodyDraft:       a.BodyDraft,
		BodyFinal:       a.BodyFinal,
		MetaDescription: a.MetaDescription,
		Tags:            decodeList(a.Tags),
		WordCount:       a.WordCount,
		Status:          a.Status,
		QualityTier:     a.QualityTier,
		ContentIssues:   decodeList(a.ContentIssues),
		Contents:        []domain.ContentView{},
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
	}
	item.QualityWarning = len(item.ContentIssues) > 0
	if a.BasedOnScrapedArticleID != nil {
		item.BasedOnScrapedArticleID = a.BasedOnScrapedArticleID.String()
	}
	if a.PredecessorID != nil {
		item.PredecessorID = a.PredecessorID.String()
	}
	return item
}

func decodeList(raw datatypes.JSON) []any {
	out := []any{}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &out)
	}
	if out == nil {
		out = []any{}
	}
	return out
}
