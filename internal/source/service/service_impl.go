package service

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/newsdesk/internal/accountctx"
	"github.com/smallbiznis/newsdesk/internal/apperr"
	"github.com/smallbiznis/newsdesk/internal/clock"
	"github.com/smallbiznis/newsdesk/internal/quality"
	"github.com/smallbiznis/newsdesk/internal/source/domain"
	"github.com/smallbiznis/newsdesk/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const defaultListLimit = 10

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Repo    domain.Repository
	GenID   *snowflake.Node
	Clock   clock.Clock
	Gate    *quality.Gate
	Fetcher domain.Fetcher `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	repo    domain.Repository
	genID   *snowflake.Node
	clock   clock.Clock
	gate    *quality.Gate
	fetcher domain.Fetcher
}

func NewService(p Params) domain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("source.service"),
		repo:    p.Repo,
		genID:   p.GenID,
		clock:   p.Clock,
		gate:    p.Gate,
		fetcher: p.Fetcher,
	}
}

func (s *Service) CreateSource(ctx context.Context, scope accountctx.Scope, req domain.CreateSourceRequest) (*domain.SourceResponse, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidSourceName
	}
	link, ok := normalizeURL(req.URL)
	if !ok {
		return nil, domain.ErrInvalidSourceURL
	}
	var rss *string
	if req.RSSURL != nil && strings.TrimSpace(*req.RSSURL) != "" {
		feed, ok := normalizeURL(*req.RSSURL)
		if !ok {
			return nil, domain.ErrInvalidSourceURL
		}
		rss = &feed
	}

	now := s.clock.Now()
	src := domain.Source{
		ID:        s.genID.Generate(),
		AccountID: scope.AccountID,
		Name:      name,
		URL:       link,
		RSSURL:    rss,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.CreateSource(ctx, &src); err != nil {
		return nil, db.Classify(err)
	}
	resp := toSourceResponse(src, 0)
	return &resp, nil
}

func (s *Service) ListSourceStatus(ctx context.Context, scope accountctx.Scope) ([]domain.SourceResponse, error) {
	sources, err := s.repo.ListSources(ctx, scope.AccountID)
	if err != nil {
		return nil, db.Classify(err)
	}
	recent, err := s.repo.CountRecentArticles(ctx, scope.AccountID, s.clock.Now().Add(-24*time.Hour))
	if err != nil {
		return nil, db.Classify(err)
	}
	out := make([]domain.SourceResponse, 0, len(sources))
	for _, src := range sources {
		out = append(out, toSourceResponse(src, recent[src.ID]))
	}
	return out, nil
}

func (s *Service) SetSourceActive(ctx context.Context, scope accountctx.Scope, id string, active bool) (*domain.SourceResponse, error) {
	sourceID, err := parseID(id, domain.ErrSourceNotFound)
	if err != nil {
		return nil, err
	}
	found, err := s.repo.UpdateSource(ctx, scope.AccountID, sourceID, map[string]any{
		"is_active":  active,
		"updated_at": s.clock.Now(),
	})
	if err != nil {
		return nil, db.Classify(err)
	}
	if !found {
		return nil, domain.ErrSourceNotFound
	}
	src, err := s.repo.GetSource(ctx, scope.AccountID, sourceID)
	if err != nil {
		return nil, db.Classify(err)
	}
	resp := toSourceResponse(*src, 0)
	return &resp, nil
}

func (s *Service) Refresh(ctx context.Context, scope accountctx.Scope, id string) (*domain.RefreshResult, error) {
	sourceID, err := parseID(id, domain.ErrSourceNotFound)
	if err != nil {
		return nil, err
	}
	src, err := s.repo.GetSource(ctx, scope.AccountID, sourceID)
	if err != nil {
		return nil, db.Classify(err)
	}
	if src == nil {
		return nil, domain.ErrSourceNotFound
	}
	if !src.IsActive {
		return nil, domain.ErrSourceInactive
	}
	return s.refresh(ctx, scope, *src)
}

func (s *Service) RefreshAll(ctx context.Context, scope accountctx.Scope) ([]domain.RefreshResult, error) {
	sources, err := s.repo.ListSources(ctx, scope.AccountID)
	if err != nil {
		return nil, db.Classify(err)
	}
	results := make([]domain.RefreshResult, 0, len(sources))
	for _, src := range sources {
		if !src.IsActive {
			continue
		}
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res, err := s.refresh(ctx, scope, src)
		if res != nil {
			results = append(results, *res)
		}
		if err != nil && !apperr.IsKind(err, apperr.KindTransientUpstream) {
			return results, err
		}
	}
	return results, nil
}

func (s *Service) refresh(ctx context.Context, scope accountctx.Scope, src domain.Source) (*domain.RefreshResult, error) {
	if s.fetcher == nil {
		return nil, domain.ErrFetcherMissing
	}
	log := s.log.With(zap.String("source_id", src.ID.String()))
	result := &domain.RefreshResult{SourceID: src.ID.String()}

	fetched, fetchErr := s.fetcher.Fetch(ctx, src)
	result.Fetched = len(fetched)
	for _, item := range fetched {
		_, inserted, err := s.insert(ctx, scope, &src.ID, domain.IngestArticleRequest{
			Title:       item.Title,
			URL:         item.URL,
			FullText:    item.FullText,
			PublishedAt: item.PublishedAt,
		})
		if err != nil {
			if apperr.IsKind(err, apperr.KindValidation) {
				log.Debug("skipping invalid feed item", zap.String("url", item.URL))
				continue
			}
			return result, err
		}
		if inserted {
			result.Inserted++
		}
	}

	success := fetchErr == nil
	if err := s.repo.RecordRefresh(ctx, scope.AccountID, src.ID, success, result.Inserted, s.clock.Now()); err != nil {
		return result, db.Classify(err)
	}
	if fetchErr != nil {
		log.Warn("source refresh failed", zap.Error(fetchErr))
		result.Error = fetchErr.Error()
		if apperr.KindOf(fetchErr) == apperr.KindUnknown {
			fetchErr = apperr.Transient("source_fetch_failed", fetchErr)
		}
		return result, fetchErr
	}
	log.Info("source refreshed", zap.Int("fetched", result.Fetched), zap.Int("inserted", result.Inserted))
	return result, nil
}

func (s *Service) IngestArticle(ctx context.Context, scope accountctx.Scope, req domain.IngestArticleRequest) (*domain.ScrapedArticle, bool, error) {
	var sourceID *snowflake.ID
	if strings.TrimSpace(req.SourceID) != "" {
		id, err := parseID(req.SourceID, domain.ErrSourceNotFound)
		if err != nil {
			return nil, false, err
		}
		src, err := s.repo.GetSource(ctx, scope.AccountID, id)
		if err != nil {
			return nil, false, db.Classify(err)
		}
		if src == nil {
			return nil, false, domain.ErrSourceNotFound
		}
		sourceID = &id
	}
	return s.insert(ctx, scope, sourceID, req)
}

func (s *Service) insert(ctx context.Context, scope accountctx.Scope, sourceID *snowflake.ID, req domain.IngestArticleRequest) (*domain.ScrapedArticle, bool, error) {
	title := strings.TrimSpace(req.Title)
	link, ok := normalizeURL(req.URL)
	if title == "" || !ok {
		return nil, false, domain.ErrInvalidArticle
	}
	text := strings.TrimSpace(req.FullText)
	verdict := s.gate.Assess(title, text)
	issues, _ := json.Marshal(verdict.Issues)

	now := s.clock.Now()
	article := domain.ScrapedArticle{
		ID:                        s.genID.Generate(),
		AccountID:                 scope.AccountID,
		SourceID:                  sourceID,
		Title:                     title,
		URL:                       link,
		FullText:                  text,
		Keywords:                  datatypes.JSON("[]"),
		PublicationDate:           utcPtr(req.PublishedAt),
		Status:                    domain.ArticleStatusScraped,
		ContentQualityScore:       verdict.Score,
		QualityTier:               verdict.Tier,
		ContentGenerationEligible: verdict.Eligible,
		ContentIssues:             datatypes.JSON(issues),
		CreatedAt:                 now,
		UpdatedAt:                 now,
	}
	inserted, err := s.repo.InsertArticle(ctx, &article)
	if err != nil {
		return nil, false, db.Classify(err)
	}
	return &article, inserted, nil
}

func (s *Service) GetArticle(ctx context.Context, scope accountctx.Scope, id string) (*domain.ScrapedArticle, error) {
	articleID, err := parseID(id, domain.ErrArticleNotFound)
	if err != nil {
		return nil, err
	}
	article, err := s.repo.GetArticle(ctx, scope.AccountID, articleID)
	if err != nil {
		return nil, db.Classify(err)
	}
	if article == nil {
		return nil, domain.ErrArticleNotFound
	}
	return article, nil
}

func (s *Service) ListPendingAnalysis(ctx context.Context, scope accountctx.Scope, limit int) ([]domain.ScrapedArticle, error) {
	out, err := s.repo.ListArticles(ctx, scope.AccountID, domain.ArticleFilter{
		Statuses: []string{domain.ArticleStatusScraped},
		Limit:    normalizeLimit(limit),
	})
	return out, db.Classify(err)
}

// ListEligible returns articles that passed the quality gate and have not
// been turned into content yet. Analyzed articles rank first by relevance.
func (s *Service) ListEligible(ctx context.Context, scope accountctx.Scope, limit int) ([]domain.ScrapedArticle, error) {
	out, err := s.repo.ListArticles(ctx, scope.AccountID, domain.ArticleFilter{
		Statuses:     []string{domain.ArticleStatusAnalyzed, domain.ArticleStatusScraped},
		EligibleOnly: true,
		Limit:        normalizeLimit(limit),
	})
	return out, db.Classify(err)
}

func (s *Service) RecordAnalysis(ctx context.Context, scope accountctx.Scope, id string, analysis domain.Analysis) error {
	articleID, err := parseID(id, domain.ErrArticleNotFound)
	if err != nil {
		return err
	}
	keywords := analysis.Keywords
	if keywords == nil {
		keywords = []string{}
	}
	raw, err := json.Marshal(keywords)
	if err != nil {
		return err
	}
	score := analysis.RelevanceScore
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	found, err := s.repo.UpdateArticle(ctx, scope.AccountID, articleID, map[string]any{
		"summary":         strings.TrimSpace(analysis.Summary),
		"keywords":        datatypes.JSON(raw),
		"relevance_score": score,
		"status":          domain.ArticleStatusAnalyzed,
		"updated_at":      s.clock.Now(),
	})
	if err != nil {
		return db.Classify(err)
	}
	if !found {
		return domain.ErrArticleNotFound
	}
	return nil
}

func (s *Service) MarkProcessed(ctx context.Context, scope accountctx.Scope, id string) error {
	articleID, err := parseID(id, domain.ErrArticleNotFound)
	if err != nil {
		return err
	}
	found, err := s.repo.UpdateArticle(ctx, scope.AccountID, articleID, map[string]any{
		"status":     domain.ArticleStatusProcessed,
		"updated_at": s.clock.Now(),
	})
	if err != nil {
		return db.Classify(err)
	}
	if !found {
		return domain.ErrArticleNotFound
	}
	return nil
}

func toSourceResponse(src domain.Source, recent int64) domain.SourceResponse {
	return domain.SourceResponse{
		ID:              src.ID.String(),
		Name:            src.Name,
		URL:             src.URL,
		RSSURL:          src.RSSURL,
		IsActive:        src.IsActive,
		LastChecked:     src.LastChecked,
		SuccessRate:     src.SuccessRate(),
		ArticlesLast24h: recent,
		TotalArticles:   src.TotalArticles,
	}
}

func parseID(raw string, notFound error) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil || id == 0 {
		return 0, notFound
	}
	return id, nil
}

func normalizeURL(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "", false
	}
	return u.String(), true
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	return limit
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
