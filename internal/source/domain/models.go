package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

const (
	ArticleStatusScraped   = "scraped"
	ArticleStatusAnalyzed  = "analyzed"
	ArticleStatusProcessed = "processed"
	ArticleStatusRejected  = "rejected"
)

// Source is a news site polled for new articles.
type Source struct {
	ID               snowflake.ID `gorm:"primaryKey" json:"id"`
	AccountID        snowflake.ID `gorm:"not null;index;uniqueIndex:ux_sources_account_url,priority:1" json:"account_id"`
	Name             string       `gorm:"type:text;not null" json:"name"`
	URL              string       `gorm:"type:text;not null;uniqueIndex:ux_sources_account_url,priority:2" json:"url"`
	RSSURL           *string      `gorm:"column:rss_url;type:text" json:"rss_url,omitempty"`
	IsActive         bool         `gorm:"not null;default:true" json:"is_active"`
	LastChecked      *time.Time   `json:"last_checked,omitempty"`
	RefreshAttempts  int          `gorm:"not null;default:0" json:"refresh_attempts"`
	RefreshSuccesses int          `gorm:"not null;default:0" json:"refresh_successes"`
	TotalArticles    int          `gorm:"not null;default:0" json:"total_articles"`
	CreatedAt        time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt        time.Time    `gorm:"not null" json:"updated_at"`
}

func (Source) TableName() string { return "sources" }

func (s Source) OwnerAccountID() snowflake.ID { return s.AccountID }

// SuccessRate is the share of refreshes that completed without error.
func (s Source) SuccessRate() float64 {
	if s.RefreshAttempts == 0 {
		return 0
	}
	return float64(s.RefreshSuccesses) / float64(s.RefreshAttempts)
}

// ScrapedArticle is one ingested article. It carries the pre-generation
// quality verdict used to gate content generation.
type ScrapedArticle struct {
	ID                        snowflake.ID   `gorm:"primaryKey" json:"id"`
	AccountID                 snowflake.ID   `gorm:"not null;index;uniqueIndex:ux_scraped_account_url,priority:1" json:"account_id"`
	SourceID                  *snowflake.ID  `gorm:"index" json:"source_id,omitempty"`
	Title                     string         `gorm:"type:text;not null" json:"title"`
	URL                       string         `gorm:"type:text;not null;uniqueIndex:ux_scraped_account_url,priority:2" json:"url"`
	FullText                  string         `gorm:"type:text;not null;default:''" json:"full_text"`
	Summary                   string         `gorm:"type:text;not null;default:''" json:"summary"`
	Keywords                  datatypes.JSON `gorm:"type:jsonb" json:"keywords"`
	PublicationDate           *time.Time     `json:"publication_date,omitempty"`
	RelevanceScore            float64        `gorm:"not null;default:0" json:"relevance_score"`
	Status                    string         `gorm:"type:text;not null;index" json:"status"`
	ContentQualityScore       float64        `gorm:"not null;default:0" json:"content_quality_score"`
	QualityTier               string         `gorm:"type:text;not null;default:'poor'" json:"quality_tier"`
	ContentGenerationEligible bool           `gorm:"not null;default:false" json:"content_generation_eligible"`
	ContentIssues             datatypes.JSON `gorm:"type:jsonb" json:"content_issues"`
	CreatedAt                 time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt                 time.Time      `gorm:"not null" json:"updated_at"`
}

func (ScrapedArticle) TableName() string { return "scraped_articles" }

func (a ScrapedArticle) OwnerAccountID() snowflake.ID { return a.AccountID }
