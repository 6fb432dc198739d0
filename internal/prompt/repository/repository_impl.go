package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/newsdesk/internal/prompt/domain"
	"github.com/smallbiznis/newsdesk/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repository struct {
	db        *gorm.DB
	templates *db.Store[domain.PromptTemplate]
	versions  *db.Store[domain.PromptTemplateVersion]
}

func NewRepository(conn *gorm.DB) domain.Repository {
	return &repository{
		db:        conn,
		templates: db.NewStore[domain.PromptTemplate](conn),
		versions:  db.NewStore[domain.PromptTemplateVersion](conn),
	}
}

func (r *repository) WithTx(tx *gorm.DB) domain.Repository {
	return NewRepository(tx)
}

func (r *repository) CreateTemplate(ctx context.Context, tmpl *domain.PromptTemplate) error {
	return r.templates.Create(ctx, tmpl)
}

func (r *repository) GetTemplate(ctx context.Context, accountID, id snowflake.ID) (*domain.PromptTemplate, error) {
	return r.templates.FindByID(ctx, accountID, id)
}

func (r *repository) LockTemplate(ctx context.Context, accountID, id snowflake.ID) (*domain.PromptTemplate, error) {
	if accountID == 0 {
		return nil, db.ErrMissingAccount
	}
	stmt := r.db.WithContext(ctx).Scopes(db.AccountScope(accountID)).Where("id = ?", id)
	if db.IsPostgres(r.db) {
		stmt = stmt.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var tmpl domain.PromptTemplate
	if err := stmt.Take(&tmpl).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &tmpl, nil
}

func (r *repository) ListTemplates(ctx context.Context, accountID snowflake.ID, includeInactive bool) ([]domain.PromptTemplate, error) {
	filter := map[string]any{}
	if !includeInactive {
		filter["is_active"] = true
	}
	return r.templates.Find(ctx, accountID, filter,
		db.OrderBy("is_active DESC"), db.OrderBy("execution_order ASC"), db.OrderBy("id ASC"))
}

func (r *repository) UpdateTemplate(ctx context.Context, accountID, id snowflake.ID, fields map[string]any) (bool, error) {
	return r.templates.Update(ctx, accountID, id, fields)
}

func (r *repository) SetExecutionOrder(ctx context.Context, accountID, id snowflake.ID, order int) error {
	_, err := r.templates.Update(ctx, accountID, id, map[string]any{"execution_order": order})
	return err
}

func (r *repository) MaxExecutionOrder(ctx context.Context, accountID snowflake.ID) (int, error) {
	var max int
	err := r.db.WithContext(ctx).Raw(
		`SELECT COALESCE(MAX(execution_order), 0) FROM prompt_templates WHERE account_id = ? AND is_active = ?`,
		accountID, true,
	).Scan(&max).Error
	return max, err
}

func (r *repository) CreateVersion(ctx context.Context, version *domain.PromptTemplateVersion) error {
	return r.versions.Create(ctx, version)
}

func (r *repository) GetVersion(ctx context.Context, accountID, templateID, id snowflake.ID) (*domain.PromptTemplateVersion, error) {
	rows, err := r.versions.Find(ctx, accountID, map[string]any{"template_id": templateID, "id": id}, db.Limit(1))
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return &rows[0], nil
}

func (r *repository) ListVersions(ctx context.Context, accountID, templateID snowflake.ID) ([]domain.PromptTemplateVersion, error) {
	return r.versions.Find(ctx, accountID, map[string]any{"template_id": templateID}, db.OrderBy("version_number DESC"))
}

func (r *repository) NextVersionNumber(ctx context.Context, accountID, templateID snowflake.ID) (int, error) {
	var max int
	err := r.db.WithContext(ctx).Raw(
		`SELECT COALESCE(MAX(version_number), 0) FROM prompt_template_versions WHERE account_id = ? AND template_id = ?`,
		accountID, templateID,
	).Scan(&max).Error
	return max + 1, err
}

// SetCurrentVersion moves the pointer only when the version belongs to the
// template, so a template can never point at a foreign version.
func (r *repository) SetCurrentVersion(ctx context.Context, accountID, templateID, versionID snowflake.ID) (bool, error) {
	res := r.db.WithContext(ctx).Exec(
		`UPDATE prompt_templates
		 SET current_version_id = ?
		 WHERE account_id = ? AND id = ?
		   AND EXISTS (
		     SELECT 1 FROM prompt_template_versions v
		     WHERE v.id = ? AND v.template_id = ? AND v.account_id = ?
		   )`,
		versionID, accountID, templateID, versionID, templateID, accountID,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
