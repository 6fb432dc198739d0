package domain

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

const (
	StatusDraft         = "draft"
	StatusReviewPending = "review_pending"
	StatusApproved      = "approved"
	StatusRejected      = "rejected"
	StatusPublished     = "published"
	StatusArchived      = "archived"
)

// Content types name the legacy table an artifact is mirrored into.
const (
	TypeArticle     = "article"
	TypeSocialPost  = "social_post"
	TypeVideoScript = "video_script"
	TypePrayerPoint = "prayer_point"
	TypeBlogImage   = "blog_image"
	TypeSnippet     = "snippet"
)

// LegacyTypes lists the migratable legacy content types in backfill order.
var LegacyTypes = []string{TypeArticle, TypeSocialPost, TypeVideoScript, TypePrayerPoint, TypeBlogImage, TypeSnippet}

// IsLegacyType reports whether t names a legacy artifact table.
func IsLegacyType(t string) bool {
	for _, known := range LegacyTypes {
		if t == known {
			return true
		}
	}
	return false
}

const (
	SourceDualWrite = "dual_write"
	SourceMigration = "migration"
)

// MigrationVersionDualWrite marks records written by the generation path.
const MigrationVersionDualWrite = "dual_write"

// GeneratedArticle is the long-form article produced for a scraped article.
// Derivative artifacts reference it through BasedOnGenArticleID.
type GeneratedArticle struct {
	ID                      snowflake.ID   `gorm:"primaryKey" json:"id"`
	AccountID               snowflake.ID   `gorm:"not null;index;index:ix_gen_articles_account_status,priority:1" json:"account_id"`
	BasedOnScrapedArticleID *snowflake.ID  `gorm:"index" json:"based_on_scraped_article_id,omitempty"`
	PredecessorID           *snowflake.ID  `json:"predecessor_id,omitempty"`
	JobID                   *snowflake.ID  `gorm:"index" json:"job_id,omitempty"`
	TemplateVersionID       *snowflake.ID  `json:"template_version_id,omitempty"`
	PromptCategory          string         `gorm:"type:text;not null;default:''" json:"prompt_category"`
	Title                   string         `gorm:"type:text;not null" json:"title"`
	BodyDraft               string         `gorm:"type:text;not null;default:''" json:"body_draft"`
	BodyFinal               *string        `gorm:"type:text" json:"body_final,omitempty"`
	MetaDescription         string         `gorm:"type:text;not null;default:''" json:"meta_description"`
	Tags                    datatypes.JSON `gorm:"type:jsonb" json:"tags"`
	WordCount               int            `gorm:"not null;default:0" json:"word_count"`
	Status                  string         `gorm:"type:text;not null;index:ix_gen_articles_account_status,priority:2" json:"status"`
	QualityTier             string         `gorm:"type:text;not null;default:''" json:"quality_tier"`
	ContentIssues           datatypes.JSON `gorm:"type:jsonb" json:"content_issues"`
	CreatedAt               time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt               time.Time      `gorm:"not null" json:"updated_at"`
}

func (GeneratedArticle) TableName() string { return "generated_articles" }

func (a GeneratedArticle) OwnerAccountID() snowflake.ID { return a.AccountID }

// HasBody reports whether an article template already filled the draft.
func (a GeneratedArticle) HasBody() bool { return strings.TrimSpace(a.BodyDraft) != "" }

// Canonical is the contentData entry mirrored for the article body.
func (a GeneratedArticle) Canonical() map[string]any {
	out := map[string]any{"text": a.BodyDraft}
	if a.MetaDescription != "" {
		out["meta_description"] = a.MetaDescription
	}
	return out
}

// GeneratedContent is the unified artifact row. ContentData holds the
// canonical entries of every legacy row it mirrors.
type GeneratedContent struct {
	ID                  snowflake.ID      `gorm:"primaryKey" json:"id"`
	AccountID           snowflake.ID      `gorm:"not null;index;index:ix_gen_content_account_status,priority:1" json:"account_id"`
	BasedOnGenArticleID snowflake.ID      `gorm:"not null;index" json:"based_on_gen_article_id"`
	PromptCategory      string            `gorm:"type:text;not null" json:"prompt_category"`
	ContentType         string            `gorm:"type:text;not null" json:"content_type"`
	TemplateVersionID   *snowflake.ID     `json:"template_version_id,omitempty"`
	JobID               *snowflake.ID     `gorm:"index" json:"job_id,omitempty"`
	ContentData         datatypes.JSON    `gorm:"type:jsonb;not null" json:"content_data"`
	Metadata            datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"metadata"`
	Status              string            `gorm:"type:text;not null;index:ix_gen_content_account_status,priority:2" json:"status"`
	CreatedAt           time.Time         `gorm:"not null" json:"created_at"`
	UpdatedAt           time.Time         `gorm:"not null" json:"updated_at"`
}

func (GeneratedContent) TableName() string { return "generated_content" }

func (c GeneratedContent) OwnerAccountID() snowflake.ID { return c.AccountID }

// Entries decodes ContentData.
func (c GeneratedContent) Entries() []map[string]any {
	var out []map[string]any
	if len(c.ContentData) == 0 {
		return out
	}
	_ = json.Unmarshal(c.ContentData, &out)
	return out
}

// LegacyIDs reads metadata.legacy_ids.
func (c GeneratedContent) LegacyIDs() []string {
	raw, ok := c.Metadata["legacy_ids"].([]any)
	if !ok {
		if ids, ok := c.Metadata["legacy_ids"].([]string); ok {
			return ids
		}
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

type SocialPost struct {
	ID                  snowflake.ID   `gorm:"primaryKey" json:"id"`
	AccountID           snowflake.ID   `gorm:"not null;index;index:ix_social_posts_account_status,priority:1" json:"account_id"`
	BasedOnGenArticleID snowflake.ID   `gorm:"not null;index" json:"based_on_gen_article_id"`
	PromptCategory      string         `gorm:"type:text;not null;default:''" json:"prompt_category"`
	Platform            string         `gorm:"type:text;not null" json:"platform"`
	Text                string         `gorm:"type:text;not null" json:"text"`
	Hashtags            datatypes.JSON `gorm:"type:jsonb" json:"hashtags"`
	Status              string         `gorm:"type:text;not null;index:ix_social_posts_account_status,priority:2" json:"status"`
	CreatedAt           time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt           time.Time      `gorm:"not null" json:"updated_at"`
}

func (SocialPost) TableName() string { return "social_posts" }

func (p SocialPost) OwnerAccountID() snowflake.ID { return p.AccountID }

func (p SocialPost) Canonical() map[string]any {
	return map[string]any{
		"platform": p.Platform,
		"text":     p.Text,
		"hashtags": decodeList(p.Hashtags),
	}
}

type VideoScript struct {
	ID                  snowflake.ID   `gorm:"primaryKey" json:"id"`
	AccountID           snowflake.ID   `gorm:"not null;index;index:ix_video_scripts_account_status,priority:1" json:"account_id"`
	BasedOnGenArticleID snowflake.ID   `gorm:"not null;index" json:"based_on_gen_article_id"`
	PromptCategory      string         `gorm:"type:text;not null;default:''" json:"prompt_category"`
	Title               string         `gorm:"type:text;not null;default:''" json:"title"`
	Script              string         `gorm:"type:text;not null" json:"script"`
	DurationSeconds     int            `gorm:"not null;default:0" json:"duration_seconds"`
	VideoType           string         `gorm:"type:text;not null" json:"video_type"`
	VisualSuggestions   datatypes.JSON `gorm:"type:jsonb" json:"visual_suggestions"`
	Status              string         `gorm:"type:text;not null;index:ix_video_scripts_account_status,priority:2" json:"status"`
	CreatedAt           time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt           time.Time      `gorm:"not null" json:"updated_at"`
}

func (VideoScript) TableName() string { return "video_scripts" }

func (v VideoScript) OwnerAccountID() snowflake.ID { return v.AccountID }

func (v VideoScript) Canonical() map[string]any {
	return map[string]any{
		"title":             v.Title,
		"script":            v.Script,
		"durationSeconds":   v.DurationSeconds,
		"type":              v.VideoType,
		"visualSuggestions": decodeList(v.VisualSuggestions),
	}
}

type PrayerPoint struct {
	ID                  snowflake.ID `gorm:"primaryKey" json:"id"`
	AccountID           snowflake.ID `gorm:"not null;index;index:ix_prayer_points_account_status,priority:1" json:"account_id"`
	BasedOnGenArticleID snowflake.ID `gorm:"not null;index" json:"based_on_gen_article_id"`
	PromptCategory      string       `gorm:"type:text;not null;default:''" json:"prompt_category"`
	Position            int          `gorm:"not null" json:"position"`
	Text                string       `gorm:"type:text;not null" json:"text"`
	Theme               *string      `gorm:"type:text" json:"theme,omitempty"`
	Status              string       `gorm:"type:text;not null;index:ix_prayer_points_account_status,priority:2" json:"status"`
	CreatedAt           time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt           time.Time    `gorm:"not null" json:"updated_at"`
}

func (PrayerPoint) TableName() string { return "prayer_points" }

func (p PrayerPoint) OwnerAccountID() snowflake.ID { return p.AccountID }

func (p PrayerPoint) Canonical() map[string]any {
	out := map[string]any{"order": p.Position, "text": p.Text}
	if p.Theme != nil {
		out["theme"] = *p.Theme
	}
	return out
}

type BlogImage struct {
	ID                  snowflake.ID   `gorm:"primaryKey" json:"id"`
	AccountID           snowflake.ID   `gorm:"not null;index;index:ix_blog_images_account_status,priority:1" json:"account_id"`
	BasedOnGenArticleID snowflake.ID   `gorm:"not null;index" json:"based_on_gen_article_id"`
	PromptCategory      string         `gorm:"type:text;not null;default:''" json:"prompt_category"`
	Query               string         `gorm:"type:text;not null" json:"query"`
	SourceURL           string         `gorm:"type:text;not null" json:"source_url"`
	CDNURL              string         `gorm:"column:cdn_url;type:text;not null" json:"cdn_url"`
	AltText             string         `gorm:"type:text;not null;default:''" json:"alt_text"`
	Meta                datatypes.JSON `gorm:"type:jsonb" json:"meta"`
	Status              string         `gorm:"type:text;not null;index:ix_blog_images_account_status,priority:2" json:"status"`
	CreatedAt           time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt           time.Time      `gorm:"not null" json:"updated_at"`
}

func (BlogImage) TableName() string { return "blog_images" }

func (i BlogImage) OwnerAccountID() snowflake.ID { return i.AccountID }

func (i BlogImage) Canonical() map[string]any {
	return map[string]any{
		"query":     i.Query,
		"sourceUrl": i.SourceURL,
		"cdnUrl":    i.CDNURL,
		"altText":   i.AltText,
	}
}

// ContentSnippet holds parsed entries of categories without a typed table.
type ContentSnippet struct {
	ID                  snowflake.ID   `gorm:"primaryKey" json:"id"`
	AccountID           snowflake.ID   `gorm:"not null;index;index:ix_content_snippets_account_status,priority:1" json:"account_id"`
	BasedOnGenArticleID snowflake.ID   `gorm:"not null;index" json:"based_on_gen_article_id"`
	PromptCategory      string         `gorm:"type:text;not null" json:"prompt_category"`
	Data                datatypes.JSON `gorm:"type:jsonb;not null" json:"data"`
	Status              string         `gorm:"type:text;not null;index:ix_content_snippets_account_status,priority:2" json:"status"`
	CreatedAt           time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt           time.Time      `gorm:"not null" json:"updated_at"`
}

func (ContentSnippet) TableName() string { return "content_snippets" }

func (s ContentSnippet) OwnerAccountID() snowflake.ID { return s.AccountID }

func (s ContentSnippet) Canonical() map[string]any {
	out := map[string]any{}
	if len(s.Data) > 0 {
		_ = json.Unmarshal(s.Data, &out)
	}
	return out
}

// MigrationRecord links a legacy row to the unified row mirroring it.
type MigrationRecord struct {
	ID               snowflake.ID `gorm:"primaryKey" json:"id"`
	AccountID        snowflake.ID `gorm:"not null;index;uniqueIndex:ux_migration_records_legacy,priority:3" json:"account_id"`
	ContentType      string       `gorm:"type:text;not null;uniqueIndex:ux_migration_records_legacy,priority:1" json:"content_type"`
	LegacyID         snowflake.ID `gorm:"not null;uniqueIndex:ux_migration_records_legacy,priority:2" json:"legacy_id"`
	ModernContentID  snowflake.ID `gorm:"not null;index" json:"modern_content_id"`
	MigrationVersion string       `gorm:"type:text;not null" json:"migration_version"`
	MigrationDate    time.Time    `gorm:"not null" json:"migration_date"`
}

func (MigrationRecord) TableName() string { return "migration_records" }

func (r MigrationRecord) OwnerAccountID() snowflake.ID { return r.AccountID }

// LegacyRow is the common view over the legacy artifact tables.
type LegacyRow struct {
	ID                  snowflake.ID
	AccountID           snowflake.ID
	BasedOnGenArticleID snowflake.ID
	PromptCategory      string
	ContentType         string
	Status              string
	Canonical           map[string]any
	CreatedAt           time.Time
}

func decodeList(raw datatypes.JSON) []any {
	out := []any{}
	if len(raw) == 0 {
		return out
	}
	_ = json.Unmarshal(raw, &out)
	if out == nil {
		out = []any{}
	}
	return out
}

// EncodeJSON marshals v for a JSON column. Nil slices encode as [].
func EncodeJSON(v any) datatypes.JSON {
	if v == nil {
		return datatypes.JSON("[]")
	}
	data, err := json.Marshal(v)
	if err != nil || string(data) == "null" {
		return datatypes.JSON("[]")
	}
	return datatypes.JSON(data)
}
