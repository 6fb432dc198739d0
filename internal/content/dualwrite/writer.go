// Package dualwrite persists generated artifacts into the legacy per-type
// tables and the unified generated_content table inside one transaction.
package dualwrite

import (
	"context"
	"strings"
	"unicode"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/newsdesk/internal/clock"
	"github.com/smallbiznis/newsdesk/internal/config"
	"github.com/smallbiznis/newsdesk/internal/content/domain"
	"github.com/smallbiznis/newsdesk/internal/observability/metrics"
	"github.com/smallbiznis/newsdesk/pkg/db"
	"github.com/smallbiznis/newsdesk/pkg/rls"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	ModeOn  = "on"
	ModeOff = "off"
)

var articleCategories = map[string]struct{}{
	"blog_post": {},
	"article":   {},
	"blog":      {},
}

// IsArticleCategory reports whether a prompt category produces the
// long-form article body.
func IsArticleCategory(category string) bool {
	_, ok := articleCategories[strings.ToLower(strings.TrimSpace(category))]
	return ok
}

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Repo    domain.Repository
	GenID   *snowflake.Node
	Clock   clock.Clock
	Config  config.Config
	Metrics *metrics.Metrics `optional:"true"`
}

type Writer struct {
	db      *gorm.DB
	log     *zap.Logger
	repo    domain.Repository
	genID   *snowflake.Node
	clock   clock.Clock
	enabled bool
	metrics *metrics.Metrics
}

func NewWriter(p Params) *Writer {
	return &Writer{
		db:      p.DB,
		log:     p.Log.Named("content.dualwrite"),
		repo:    p.Repo,
		genID:   p.GenID,
		clock:   p.Clock,
		enabled: p.Config.DualWriteEnabled,
		metrics: p.Metrics,
	}
}

// Enabled reports whether unified rows are written alongside legacy rows.
func (w *Writer) Enabled() bool { return w.enabled }

func (w *Writer) mode() string {
	if w.enabled {
		return ModeOn
	}
	return ModeOff
}

// ArticleSeed describes the container article created for a chain run.
type ArticleSeed struct {
	AccountID        snowflake.ID
	ScrapedArticleID snowflake.ID
	PredecessorID    *snowflake.ID
	JobID            snowflake.ID
	Title            string
	QualityTier      string
	ContentIssues    []string
}

// CreateArticle inserts the draft article every artifact of a run hangs off.
func (w *Writer) CreateArticle(ctx context.Context, seed ArticleSeed) (*domain.GeneratedArticle, error) {
	now := w.clock.Now()
	article := domain.GeneratedArticle{
		ID:            w.genID.Generate(),
		AccountID:     seed.AccountID,
		PredecessorID: seed.PredecessorID,
		Title:         strings.TrimSpace(seed.Title),
		Tags:          domain.EncodeJSON([]string{}),
		Status:        domain.StatusDraft,
		QualityTier:   seed.QualityTier,
		ContentIssues: domain.EncodeJSON(nonNilStrings(seed.ContentIssues)),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if seed.ScrapedArticleID != 0 {
		id := seed.ScrapedArticleID
		article.BasedOnScrapedArticleID = &id
	}
	if seed.JobID != 0 {
		id := seed.JobID
		article.JobID = &id
	}
	err := w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := rls.WithAccount(tx, seed.AccountID); err != nil {
			return err
		}
		return w.repo.WithTx(tx).CreateArticle(ctx, &article)
	})
	if err != nil {
		return nil, db.Classify(err)
	}
	return &article, nil
}

// Artifact is the parsed output of one template step.
type Artifact struct {
	AccountID         snowflake.ID
	Article           *domain.GeneratedArticle
	PromptCategory    string
	MediaType         string
	ParsingMethod     string
	TemplateVersionID snowflake.ID
	JobID             snowflake.ID
	Entries           []map[string]any
	Quality           map[string]any
}

// Result lists what one Write committed.
type Result struct {
	ContentType string
	ContentID   *snowflake.ID
	LegacyIDs   []snowflake.ID
	Entries     []map[string]any
}

// ContentTypeFor picks the legacy table an artifact is mirrored into.
func ContentTypeFor(a Artifact) string {
	switch {
	case a.MediaType == "image":
		return domain.TypeBlogImage
	case a.ParsingMethod == "social_media":
		return domain.TypeSocialPost
	case a.ParsingMethod == "video_script":
		return domain.TypeVideoScript
	case a.ParsingMethod == "prayer_points":
		return domain.TypePrayerPoint
	case IsArticleCategory(a.PromptCategory) && a.Article != nil && !a.Article.HasBody() &&
		len(nonEmpty(a.Entries)) == 1 && articleText(nonEmpty(a.Entries)[0]) != "":
		return domain.TypeArticle
	default:
		return domain.TypeSnippet
	}
}

// Write commits the legacy rows and, when dual-write is on, the unified row
// plus migration records. Nothing is written when any insert fails.
func (w *Writer) Write(ctx context.Context, a Artifact) (*Result, error) {
	if a.Article == nil {
		return nil, domain.ErrArticleNotFound
	}
	entries := nonEmpty(a.Entries)
	result := &Result{ContentType: ContentTypeFor(a)}
	if len(entries) == 0 {
		return result, nil
	}

	now := w.clock.Now()
	var updated *domain.GeneratedArticle
	err := w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := rls.WithAccount(tx, a.AccountID); err != nil {
			return err
		}
		repo := w.repo.WithTx(tx)

		ids, canonical, article, err := w.writeLegacy(ctx, repo, a, result.ContentType, entries)
		if err != nil {
			return err
		}
		updated = article
		result.LegacyIDs = ids
		result.Entries = canonical
		if !w.enabled {
			return nil
		}

		legacyIDs := make([]string, 0, len(ids))
		for _, id := range ids {
			legacyIDs = append(legacyIDs, id.String())
		}
		metadata := datatypes.JSONMap{
			"source":     domain.SourceDualWrite,
			"legacy_ids": legacyIDs,
		}
		if len(a.Quality) > 0 {
			metadata["quality"] = a.Quality
		}
		content := domain.GeneratedContent{
			ID:                  w.genID.Generate(),
			AccountID:           a.AccountID,
			BasedOnGenArticleID: a.Article.ID,
			PromptCategory:      a.PromptCategory,
			ContentType:         result.ContentType,
			ContentData:         domain.EncodeJSON(canonical),
			Metadata:            metadata,
			Status:              domain.StatusDraft,
			CreatedAt:           now,
			UpdatedAt:           now,
		}
		if a.TemplateVersionID != 0 {
			id := a.TemplateVersionID
			content.TemplateVersionID = &id
		}
		if a.JobID != 0 {
			id := a.JobID
			content.JobID = &id
		}
		if err := repo.CreateContent(ctx, &content); err != nil {
			return err
		}
		for _, id := range ids {
			if _, err := repo.CreateMigrationRecord(ctx, &domain.MigrationRecord{
				ID:               w.genID.Generate(),
				AccountID:        a.AccountID,
				ContentType:      result.ContentType,
				LegacyID:         id,
				ModernContentID:  content.ID,
				MigrationVersion: domain.MigrationVersionDualWrite,
				MigrationDate:    now,
			}); err != nil {
				return err
			}
		}
		result.ContentID = &content.ID
		return nil
	})
	if err != nil {
		w.metrics.RecordDualWrite(ctx, w.mode(), "rolled_back")
		w.log.Warn("dual write rolled back",
			zap.String("account_id", a.AccountID.String()),
			zap.String("category", a.PromptCategory),
			zap.Error(err),
		)
		return nil, db.Classify(err)
	}
	if updated != nil {
		*a.Article = *updated
	}
	w.metrics.RecordDualWrite(ctx, w.mode(), "committed")
	w.metrics.RecordArtifact(ctx, a.PromptCategory, len(result.LegacyIDs))
	return result, nil
}

func (w *Writer) writeLegacy(ctx context.Context, repo domain.Repository, a Artifact, contentType string, entries []map[string]any) ([]snowflake.ID, []map[string]any, *domain.GeneratedArticle, error) {
	now := w.clock.Now()
	ids := make([]snowflake.ID, 0, len(entries))
	canonical := make([]map[string]any, 0, len(entries))

	if contentType == domain.TypeArticle {
		entry := entries[0]
		body := articleText(entry)
		fields := map[string]any{
			"body_draft":      body,
			"word_count":      wordCount(body),
			"prompt_category": a.PromptCategory,
			"updated_at":      now,
		}
		article := *a.Article
		article.BodyDraft = body
		if title := stringValue(entry, "title"); title != "" {
			fields["title"] = title
			article.Title = title
		}
		if meta := firstString(entry, "meta_description", "metaDescription"); meta != "" {
			fields["meta_description"] = meta
			article.MetaDescription = meta
		}
		if tags, ok := entry["tags"].([]any); ok {
			fields["tags"] = domain.EncodeJSON(tags)
		}
		if a.TemplateVersionID != 0 {
			fields["template_version_id"] = a.TemplateVersionID
		}
		ok, err := repo.UpdateArticle(ctx, a.AccountID, a.Article.ID, fields)
		if err != nil {
			return nil, nil, nil, err
		}
		if !ok {
			return nil, nil, nil, domain.ErrArticleNotFound
		}
		return []snowflake.ID{article.ID}, []map[string]any{article.Canonical()}, &article, nil
	}

	for i, entry := range entries {
		id := w.genID.Generate()
		var row map[string]any
		switch contentType {
		case domain.TypeSocialPost:
			post := domain.SocialPost{
				ID: id, AccountID: a.AccountID, BasedOnGenArticleID: a.Article.ID,
				PromptCategory: a.PromptCategory,
				Platform:       stringValue(entry, "platform"),
				Text:           stringValue(entry, "text"),
				Hashtags:       domain.EncodeJSON(listValue(entry, "hashtags")),
				Status:         domain.StatusDraft, CreatedAt: now, UpdatedAt: now,
			}
			if err := repo.CreateSocialPost(ctx, &post); err != nil {
				return nil, nil, nil, err
			}
			row = post.Canonical()
		case domain.TypeVideoScript:
			script := domain.VideoScript{
				ID: id, AccountID: a.AccountID, BasedOnGenArticleID: a.Article.ID,
				PromptCategory:    a.PromptCategory,
				Title:             stringValue(entry, "title"),
				Script:            stringValue(entry, "script"),
				DurationSeconds:   intValue(entry, "durationSeconds"),
				VideoType:         stringValue(entry, "type"),
				VisualSuggestions: domain.EncodeJSON(listValue(entry, "visualSuggestions")),
				Status:            domain.StatusDraft, CreatedAt: now, UpdatedAt: now,
			}
			if err := repo.CreateVideoScript(ctx, &script); err != nil {
				return nil, nil, nil, err
			}
			row = script.Canonical()
		case domain.TypePrayerPoint:
			order := intValue(entry, "order")
			if order == 0 {
				order = i + 1
			}
			point := domain.PrayerPoint{
				ID: id, AccountID: a.AccountID, BasedOnGenArticleID: a.Article.ID,
				PromptCategory: a.PromptCategory,
				Position:       order,
				Text:           stringValue(entry, "text"),
				Status:         domain.StatusDraft, CreatedAt: now, UpdatedAt: now,
			}
			if theme := stringValue(entry, "theme"); theme != "" {
				point.Theme = &theme
			}
			if err := repo.CreatePrayerPoint(ctx, &point); err != nil {
				return nil, nil, nil, err
			}
			row = point.Canonical()
		case domain.TypeBlogImage:
			image := domain.BlogImage{
				ID: id, AccountID: a.AccountID, BasedOnGenArticleID: a.Article.ID,
				PromptCategory: a.PromptCategory,
				Query:          stringValue(entry, "query"),
				SourceURL:      stringValue(entry, "sourceUrl"),
				CDNURL:         stringValue(entry, "cdnUrl"),
				AltText:        stringValue(entry, "altText"),
				Meta:           domain.EncodeJSON(entry["meta"]),
				Status:         domain.StatusDraft, CreatedAt: now, UpdatedAt: now,
			}
			if err := repo.CreateBlogImage(ctx, &image); err != nil {
				return nil, nil, nil, err
			}
			row = image.Canonical()
		default:
			snippet := domain.ContentSnippet{
				ID: id, AccountID: a.AccountID, BasedOnGenArticleID: a.Article.ID,
				PromptCategory: a.PromptCategory,
				Data:           domain.EncodeJSON(entry),
				Status:         domain.StatusDraft, CreatedAt: now, UpdatedAt: now,
			}
			if err := repo.CreateSnippet(ctx, &snippet); err != nil {
				return nil, nil, nil, err
			}
			row = snippet.Canonical()
		}
		ids = append(ids, id)
		canonical = append(canonical, row)
	}
	return ids, canonical, nil, nil
}

func nonEmpty(entries []map[string]any) []map[string]any {
	out := make([]map[string]any, 0, len(entries))
	for _, entry := range entries {
		if !isEmptyEntry(entry) {
			out = append(out, entry)
		}
	}
	return out
}

func isEmptyEntry(entry map[string]any) bool {
	for _, v := range entry {
		switch t := v.(type) {
		case nil:
		case string:
			if strings.TrimSpace(t) != "" {
				return false
			}
		case []any:
			if len(t) > 0 {
				return false
			}
		case map[string]any:
			if len(t) > 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func articleText(entry map[string]any) string {
	return firstString(entry, "text", "body", "content")
}

func firstString(entry map[string]any, keys ...string) string {
	for _, key := range keys {
		if v := stringValue(entry, key); v != "" {
			return v
		}
	}
	return ""
}

func stringValue(entry map[string]any, key string) string {
	if v, ok := entry[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func listValue(entry map[string]any, key string) []any {
	if v, ok := entry[key].([]any); ok {
		return v
	}
	return []any{}
}

func intValue(entry map[string]any, key string) int {
	switch n := entry[key].(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

func wordCount(text string) int {
	return len(strings.FieldsFunc(text, unicode.IsSpace))
}

func nonNilStrings(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
