package domain

import (
	"encoding/json"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

const (
	TypeFullCycle         = "full_cycle"
	TypeContentGeneration = "content_generation"
	TypeAnalyzeArticles   = "analyze_articles"
	TypeSourceRefresh     = "source_refresh"
)

// IsType reports whether t is a recognized job kind.
func IsType(t string) bool {
	switch t {
	case TypeFullCycle, TypeContentGeneration, TypeAnalyzeArticles, TypeSourceRefresh:
		return true
	}
	return false
}

const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
)

// Statuses lists every job status in lifecycle order.
var Statuses = []string{StatusQueued, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled}

func IsStatus(s string) bool {
	for _, known := range Statuses {
		if s == known {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition happens without retry.
func IsTerminal(s string) bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Job is a durable unit of pipeline work owned by one account.
type Job struct {
	ID               snowflake.ID   `gorm:"primaryKey" json:"id"`
	AccountID        snowflake.ID   `gorm:"not null;index;index:ix_jobs_account_status,priority:1" json:"account_id"`
	Type             string         `gorm:"type:text;not null" json:"type"`
	Payload          datatypes.JSON `gorm:"type:jsonb;not null" json:"payload"`
	Status           string         `gorm:"type:text;not null;index:ix_jobs_account_status,priority:2;index:ix_jobs_status_available,priority:1" json:"status"`
	Attempts         int            `gorm:"not null;default:0" json:"attempts"`
	MaxAttempts      int            `gorm:"not null" json:"max_attempts"`
	LeaseOwner       *string        `gorm:"type:text" json:"lease_owner,omitempty"`
	LeaseExpiresAt   *time.Time     `json:"lease_expires_at,omitempty"`
	AvailableAt      time.Time      `gorm:"not null;index:ix_jobs_status_available,priority:2" json:"available_at"`
	CancelRequested  bool           `gorm:"not null;default:false" json:"cancel_requested"`
	LastErrorKind    *string        `gorm:"type:text" json:"last_error_kind,omitempty"`
	LastErrorCode    *string        `gorm:"type:text" json:"last_error_code,omitempty"`
	LastErrorMessage *string        `gorm:"type:text" json:"last_error_message,omitempty"`
	ResultRefs       datatypes.JSON `gorm:"type:jsonb" json:"result_refs"`
	CreatedAt        time.Time      `gorm:"not null;index" json:"created_at"`
	StartedAt        *time.Time     `json:"started_at,omitempty"`
	FinishedAt       *time.Time     `json:"finished_at,omitempty"`
	UpdatedAt        time.Time      `gorm:"not null" json:"updated_at"`
}

func (Job) TableName() string { return "jobs" }

func (j Job) OwnerAccountID() snowflake.ID { return j.AccountID }

// Refs decodes ResultRefs. Malformed refs decode as empty.
func (j Job) Refs() ResultRefs {
	var refs ResultRefs
	if len(j.ResultRefs) > 0 {
		_ = json.Unmarshal(j.ResultRefs, &refs)
	}
	return refs
}

// ContentGenerationPayload selects the scraped articles to generate for.
type ContentGenerationPayload struct {
	StoryID         string   `json:"storyId,omitempty"`
	SpecificStoryID string   `json:"specificStoryId,omitempty"`
	Limit           int      `json:"limit,omitempty"`
	TemplateIDs     []string `json:"templateIds,omitempty"`
	PredecessorID   string   `json:"predecessorId,omitempty"`
}

// Story returns the single targeted story id, if any.
func (p ContentGenerationPayload) Story() string {
	if p.SpecificStoryID != "" {
		return p.SpecificStoryID
	}
	return p.StoryID
}

type AnalyzeArticlesPayload struct {
	Limit int `json:"limit,omitempty"`
}

type FullCyclePayload struct {
	Limit        int `json:"limit,omitempty"`
	AnalyzeLimit int `json:"analyzeLimit,omitempty"`
}

// SourceRefreshPayload refreshes one source, or every active source when
// SourceID is empty.
type SourceRefreshPayload struct {
	SourceID string `json:"sourceId,omitempty"`
}

// ResultRefs records what a job has already persisted. It is saved at every
// checkpoint so a retried job resumes instead of duplicating artifacts.
type ResultRefs struct {
	ContentIDs  []string          `json:"contentIds"`
	ArticleIDs  []string          `json:"articleIds"`
	Articles    map[string]string `json:"articles,omitempty"`
	Steps       []StepRef         `json:"steps,omitempty"`
	PinnedChain []Pin             `json:"pinnedChain,omitempty"`
	Failures    []FailureRef      `json:"failures,omitempty"`
	Counters    map[string]int    `json:"counters,omitempty"`
	// Phases lists the whole-job phases (such as the source refresh of a
	// full cycle) that already ran.
	Phases []string `json:"phases,omitempty"`
	// UnlinkedCalls holds response-log ids made for a scraped article
	// before its generated article existed.
	UnlinkedCalls map[string][]string `json:"unlinkedCalls,omitempty"`
}

// Pin binds a template to the version chosen when the job first loaded its
// chain.
type Pin struct {
	TemplateID string `json:"templateId"`
	VersionID  string `json:"versionId"`
}

// StepRef is one executed template for one scraped article.
type StepRef struct {
	ScrapedArticleID   string   `json:"scrapedArticleId"`
	TemplateID         string   `json:"templateId"`
	VersionID          string   `json:"versionId"`
	Category           string   `json:"category"`
	ContentType        string   `json:"contentType,omitempty"`
	ContentID          string   `json:"contentId,omitempty"`
	GeneratedArticleID string   `json:"generatedArticleId,omitempty"`
	LegacyIDs          []string `json:"legacyIds,omitempty"`
	Skipped            bool     `json:"skipped,omitempty"`
	SkipReason         string   `json:"skipReason,omitempty"`
}

type FailureRef struct {
	ScrapedArticleID string `json:"scrapedArticleId,omitempty"`
	TemplateID       string `json:"templateId,omitempty"`
	Kind             string `json:"kind"`
	Code             string `json:"code,omitempty"`
	Message          string `json:"message"`
}

// Inc bumps a named counter.
func (r *ResultRefs) Inc(name string, by int) {
	if r.Counters == nil {
		r.Counters = map[string]int{}
	}
	r.Counters[name] += by
}

// Step finds the recorded step for (scrapedArticleID, templateID).
func (r *ResultRefs) Step(scrapedArticleID, templateID string) (StepRef, bool) {
	for _, step := range r.Steps {
		if step.ScrapedArticleID == scrapedArticleID && step.TemplateID == templateID {
			return step, true
		}
	}
	return StepRef{}, false
}

// ArticleFor returns the generated article created for a scraped article.
func (r *ResultRefs) ArticleFor(scrapedArticleID string) string {
	return r.Articles[scrapedArticleID]
}

// SetArticle records the generated article created for a scraped article.
func (r *ResultRefs) SetArticle(scrapedArticleID, generatedArticleID string) {
	if r.Articles == nil {
		r.Articles = map[string]string{}
	}
	r.Articles[scrapedArticleID] = generatedArticleID
	r.ArticleIDs = appendUnique(r.ArticleIDs, generatedArticleID)
}

// AddStep records a step and indexes its ids.
func (r *ResultRefs) AddStep(step StepRef) {
	r.Steps = append(r.Steps, step)
	if step.ContentID != "" {
		r.ContentIDs = appendUnique(r.ContentIDs, step.ContentID)
	}
	if step.GeneratedArticleID != "" {
		r.ArticleIDs = appendUnique(r.ArticleIDs, step.GeneratedArticleID)
	}
}

// PhaseDone reports whether a whole-job phase was recorded.
func (r *ResultRefs) PhaseDone(name string) bool {
	for _, phase := range r.Phases {
		if phase == name {
			return true
		}
	}
	return false
}

func (r *ResultRefs) MarkPhase(name string) {
	r.Phases = appendUnique(r.Phases, name)
}

// AddUnlinkedCall remembers a response log to attach to the scraped
// article's generated article once it exists.
func (r *ResultRefs) AddUnlinkedCall(scrapedArticleID, logID string) {
	if r.UnlinkedCalls == nil {
		r.UnlinkedCalls = map[string][]string{}
	}
	r.UnlinkedCalls[scrapedArticleID] = appendUnique(r.UnlinkedCalls[scrapedArticleID], logID)
}

// TakeUnlinkedCalls returns and forgets the pending response logs of a
// scraped article.
func (r *ResultRefs) TakeUnlinkedCalls(scrapedArticleID string) []string {
	ids := r.UnlinkedCalls[scrapedArticleID]
	delete(r.UnlinkedCalls, scrapedArticleID)
	return ids
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
