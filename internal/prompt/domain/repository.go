package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	WithTx(tx *gorm.DB) Repository

	CreateTemplate(ctx context.Context, tmpl *PromptTemplate) error
	GetTemplate(ctx context.Context, accountID, id snowflake.ID) (*PromptTemplate, error)
	// LockTemplate reads the template FOR UPDATE on dialects that support it.
	LockTemplate(ctx context.Context, accountID, id snowflake.ID) (*PromptTemplate, error)
	ListTemplates(ctx context.Context, accountID snowflake.ID, includeInactive bool) ([]PromptTemplate, error)
	UpdateTemplate(ctx context.Context, accountID, id snowflake.ID, fields map[string]any) (bool, error)
	SetExecutionOrder(ctx context.Context, accountID, id snowflake.ID, order int) error
	MaxExecutionOrder(ctx context.Context, accountID snowflake.ID) (int, error)

	CreateVersion(ctx context.Context, version *PromptTemplateVersion) error
	GetVersion(ctx context.Context, accountID, templateID, id snowflake.ID) (*PromptTemplateVersion, error)
	ListVersions(ctx context.Context, accountID, templateID snowflake.ID) ([]PromptTemplateVersion, error)
	NextVersionNumber(ctx context.Context, accountID, templateID snowflake.ID) (int, error)
	SetCurrentVersion(ctx context.Context, accountID, templateID, versionID snowflake.ID) (bool, error)
}
