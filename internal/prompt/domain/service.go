package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/newsdesk/internal/accountctx"
	"github.com/smallbiznis/newsdesk/internal/apperr"
	"github.com/smallbiznis/newsdesk/internal/llm"
	"github.com/smallbiznis/newsdesk/internal/prompt/render"
)

type Service interface {
	ListTemplates(ctx context.Context, scope accountctx.Scope, includeInactive bool) ([]TemplateResponse, error)
	GetTemplate(ctx context.Context, scope accountctx.Scope, id string) (*TemplateResponse, error)
	CreateTemplate(ctx context.Context, scope accountctx.Scope, req CreateTemplateRequest) (*TemplateResponse, error)
	UpdateTemplate(ctx context.Context, scope accountctx.Scope, id string, req UpdateTemplateRequest) (*TemplateResponse, error)
	Reorder(ctx context.Context, scope accountctx.Scope, order []string) ([]TemplateResponse, error)

	ListVersions(ctx context.Context, scope accountctx.Scope, templateID string) ([]VersionResponse, error)
	CreateVersion(ctx context.Context, scope accountctx.Scope, templateID string, req CreateVersionRequest) (*VersionResponse, error)
	SetCurrentVersion(ctx context.Context, scope accountctx.Scope, templateID, versionID string) (*TemplateResponse, error)
	TestVersion(ctx context.Context, scope accountctx.Scope, templateID, versionID string, req TestVersionRequest) (*TestResult, error)

	// ActiveChain returns the account's active templates in executionOrder,
	// each bound to its current version.
	ActiveChain(ctx context.Context, accountID snowflake.ID) ([]ChainStep, error)
	// ResolveChain binds an explicit template selection. Ids outside the
	// account fail with ValidationError.
	ResolveChain(ctx context.Context, accountID snowflake.ID, templateIDs []string) ([]ChainStep, error)
	// PinnedChain reloads the exact versions recorded for a job.
	PinnedChain(ctx context.Context, accountID snowflake.ID, pins []Pin) ([]ChainStep, error)
	InvalidateCache(ctx context.Context, accountID snowflake.ID)
}

// DryRunner makes an unlogged LLM call for template testing.
type DryRunner interface {
	DryRun(ctx context.Context, req llm.Request) (llm.Response, error)
}

// Pin records the version a job bound to a template on first execution.
type Pin struct {
	TemplateID string `json:"templateId"`
	VersionID  string `json:"versionId"`
}

type CreateTemplateRequest struct {
	Name          string         `json:"name"`
	Category      string         `json:"category"`
	MediaType     string         `json:"mediaType"`
	ParsingMethod string         `json:"parsingMethod"`
	OnParseError  string         `json:"onParseError"`
	PromptContent string         `json:"promptContent"`
	SystemMessage *string        `json:"systemMessage"`
	Parameters    map[string]any `json:"parameters"`
	Notes         *string        `json:"notes"`
}

type UpdateTemplateRequest struct {
	Name          *string `json:"name"`
	Category      *string `json:"category"`
	MediaType     *string `json:"mediaType"`
	ParsingMethod *string `json:"parsingMethod"`
	OnParseError  *string `json:"onParseError"`
	IsActive      *bool   `json:"isActive"`
}

type CreateVersionRequest struct {
	PromptContent string         `json:"promptContent"`
	SystemMessage *string        `json:"systemMessage"`
	Parameters    map[string]any `json:"parameters"`
	Notes         *string        `json:"notes"`
	SetCurrent    bool           `json:"setCurrent"`
}

type TestVersionRequest struct {
	TestVariables map[string]any `json:"testVariables"`
}

type TemplateResponse struct {
	ID               string            `json:"id"`
	Name             string            `json:"name"`
	Category         string            `json:"category"`
	MediaType        string            `json:"mediaType"`
	ParsingMethod    string            `json:"parsingMethod"`
	OnParseError     string            `json:"onParseError"`
	ExecutionOrder   int               `json:"executionOrder"`
	IsActive         bool              `json:"isActive"`
	CurrentVersionID string            `json:"currentVersionId,omitempty"`
	CurrentVersion   *VersionResponse  `json:"currentVersion,omitempty"`
	Versions         []VersionResponse `json:"versions,omitempty"`
	CreatedAt        time.Time         `json:"createdAt"`
	UpdatedAt        time.Time         `json:"updatedAt"`
}

type VersionResponse struct {
	ID            string         `json:"id"`
	TemplateID    string         `json:"templateId"`
	VersionNumber int            `json:"versionNumber"`
	PromptContent string         `json:"promptContent"`
	SystemMessage *string        `json:"systemMessage,omitempty"`
	Parameters    map[string]any `json:"parameters"`
	Notes         *string        `json:"notes,omitempty"`
	CreatedBy     string         `json:"createdBy"`
	CreatedAt     time.Time      `json:"createdAt"`
	IsCurrent     bool           `json:"isCurrent"`
}

type TestResult struct {
	RenderedPrompt string               `json:"renderedPrompt"`
	SystemMessage  string               `json:"systemMessage,omitempty"`
	Placeholders   []render.Placeholder `json:"placeholders"`
	Response       *llm.Response        `json:"response,omitempty"`
	Parsed         []map[string]any     `json:"parsed,omitempty"`
	ParseError     *TestError           `json:"parseError,omitempty"`
	LLMError       *TestError           `json:"llmError,omitempty"`
}

type TestError struct {
	Kind    string `json:"kind"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

var (
	ErrInvalidName          = apperr.Validation("invalid_template_name", "template name is required")
	ErrInvalidCategory      = apperr.Validation("invalid_category", "category is required")
	ErrInvalidMediaType     = apperr.Validation("invalid_media_type", "mediaType must be one of text, video, audio, image")
	ErrInvalidParsingMethod = apperr.Validation("invalid_parsing_method", "parsingMethod is not recognized")
	ErrInvalidOnParseError  = apperr.Validation("invalid_on_parse_error", "onParseError must be abort or skip")
	ErrInvalidPrompt        = apperr.Validation("invalid_prompt_content", "promptContent is required")
	ErrInvalidOrder         = apperr.Validation("invalid_order", "order must be a permutation of the active template ids")
	ErrTemplateNotInAccount = apperr.Validation("template_not_in_account", "template does not belong to this account")
	ErrTemplateInactive     = apperr.Validation("template_inactive", "template is not active")
	ErrPinnedVersionMissing = apperr.Validation("pinned_version_missing", "pinned template version no longer exists")
	ErrTemplateNotFound     = apperr.NotFound("template_not_found")
	ErrVersionNotFound      = apperr.NotFound("template_version_not_found")
	ErrNoCurrentVersion     = apperr.Validation("template_without_version", "template has no current version")
	ErrDryRunUnavailable    = apperr.New(apperr.KindInternal, "dry_run_unavailable", "LLM gateway is not configured")
)
