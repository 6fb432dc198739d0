package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/newsdesk/internal/tenancy/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) domain.Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) domain.Repository {
	return &repository{db: tx}
}

func (r *repository) CreateOrganization(ctx context.Context, org domain.Organization) error {
	return r.db.WithContext(ctx).Create(&org).Error
}

func (r *repository) GetOrganization(ctx context.Context, id snowflake.ID) (*domain.Organization, error) {
	var org domain.Organization
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&org).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &org, nil
}

func (r *repository) CreateAccount(ctx context.Context, account domain.Account) error {
	return r.db.WithContext(ctx).Create(&account).Error
}

func (r *repository) GetAccount(ctx context.Context, id snowflake.ID) (*domain.AccountRecord, error) {
	var rows []domain.AccountRecord
	err := r.db.WithContext(ctx).Raw(
		`SELECT a.id, a.organization_id, a.name, a.slug, a.is_active, a.settings,
		        a.created_at, a.updated_at, o.is_active AS organization_active
		 FROM accounts a
		 JOIN organizations o ON o.id = a.organization_id
		 WHERE a.id = ?
		 LIMIT 1`,
		id,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (r *repository) ListAccountsByUser(ctx context.Context, userID string) ([]domain.Account, error) {
	var accounts []domain.Account
	err := r.db.WithContext(ctx).Raw(
		`SELECT a.* FROM accounts a
		 WHERE a.is_active = ?
		   AND (a.id IN (SELECT account_id FROM user_account_assignments WHERE user_id = ?)
		     OR a.organization_id IN (SELECT organization_id FROM user_organization_assignments WHERE user_id = ?))
		 ORDER BY a.name ASC`,
		true, userID, userID,
	).Scan(&accounts).Error
	return accounts, err
}

func (r *repository) UpdateAccountSettings(ctx context.Context, accountID snowflake.ID, settings map[string]any, at time.Time) error {
	return r.db.WithContext(ctx).Model(&domain.Account{}).
		Where("id = ?", accountID).
		Updates(map[string]any{
			"settings":   datatypes.JSONMap(settings),
			"updated_at": at,
		}).Error
}

func (r *repository) GetAccountRole(ctx context.Context, accountID snowflake.ID, userID string) (string, error) {
	return r.scanRole(ctx,
		`SELECT role FROM user_account_assignments WHERE account_id = ? AND user_id = ? LIMIT 1`,
		accountID, userID,
	)
}

func (r *repository) GetOrganizationRole(ctx context.Context, organizationID snowflake.ID, userID string) (string, error) {
	return r.scanRole(ctx,
		`SELECT role FROM user_organization_assignments WHERE organization_id = ? AND user_id = ? LIMIT 1`,
		organizationID, userID,
	)
}

func (r *repository) GetGlobalRole(ctx context.Context, userID string) (string, error) {
	return r.scanRole(ctx, `SELECT role FROM global_role_grants WHERE user_id = ? LIMIT 1`, userID)
}

func (r *repository) scanRole(ctx context.Context, query string, args ...any) (string, error) {
	var roles []string
	if err := r.db.WithContext(ctx).Raw(query, args...).Scan(&roles).Error; err != nil {
		return "", err
	}
	if len(roles) == 0 {
		return "", nil
	}
	return roles[0], nil
}

func (r *repository) GrantGlobalRole(ctx context.Context, grant domain.GlobalRoleGrant) error {
	return r.db.WithContext(ctx).Exec(
		`INSERT INTO global_role_grants (user_id, role, created_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT (user_id) DO UPDATE SET role = excluded.role`,
		grant.UserID, grant.Role, grant.CreatedAt,
	).Error
}

func (r *repository) UpsertAccountAssignment(ctx context.Context, a domain.UserAccountAssignment) error {
	return r.db.WithContext(ctx).Exec(
		`INSERT INTO user_account_assignments (id, user_id, account_id, user_email, role, assigned_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (user_id, account_id) DO UPDATE
		 SET role = excluded.role,
		     user_email = CASE WHEN excluded.user_email = '' THEN user_account_assignments.user_email ELSE excluded.user_email END`,
		a.ID, a.UserID, a.AccountID, a.UserEmail, a.Role, a.AssignedAt,
	).Error
}

func (r *repository) UpsertOrganizationAssignment(ctx context.Context, a domain.UserOrganizationAssignment) error {
	return r.db.WithContext(ctx).Exec(
		`INSERT INTO user_organization_assignments (id, user_id, organization_id, role, assigned_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (user_id, organization_id) DO UPDATE SET role = excluded.role`,
		a.ID, a.UserID, a.OrganizationID, a.Role, a.AssignedAt,
	).Error
}

func (r *repository) ListAccountAssignments(ctx context.Context, accountID snowflake.ID) ([]domain.UserAccountAssignment, error) {
	var rows []domain.UserAccountAssignment
	err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("assigned_at ASC").
		Find(&rows).Error
	return rows, err
}

func (r *repository) DeleteAccountAssignment(ctx context.Context, accountID snowflake.ID, userID string) (bool, error) {
	res := r.db.WithContext(ctx).Exec(
		`DELETE FROM user_account_assignments WHERE account_id = ? AND user_id = ?`,
		accountID, userID,
	)
	return res.RowsAffected > 0, res.Error
}

func (r *repository) CountOwners(ctx context.Context, accountID snowflake.ID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.UserAccountAssignment{}).
		Where("account_id = ? AND role = ?", accountID, "owner").
		Count(&count).Error
	return count, err
}

func (r *repository) TouchLastAccess(ctx context.Context, accountID snowflake.ID, userID string, at time.Time) error {
	return r.db.WithContext(ctx).Exec(
		`UPDATE user_account_assignments SET last_access = ? WHERE account_id = ? AND user_id = ?`,
		at, accountID, userID,
	).Error
}

func (r *repository) CreateInvitation(ctx context.Context, inv domain.Invitation) error {
	return r.db.WithContext(ctx).Create(&inv).Error
}

func (r *repository) GetInvitationByTokenHash(ctx context.Context, tokenHash string) (*domain.Invitation, error) {
	var inv domain.Invitation
	err := r.db.WithContext(ctx).Where("token_hash = ?", tokenHash).Take(&inv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (r *repository) GetInvitation(ctx context.Context, accountID, id snowflake.ID) (*domain.Invitation, error) {
	var inv domain.Invitation
	err := r.db.WithContext(ctx).Where("account_id = ? AND id = ?", accountID, id).Take(&inv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (r *repository) ListInvitations(ctx context.Context, accountID snowflake.ID) ([]domain.Invitation, error) {
	var rows []domain.Invitation
	err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at DESC").
		Find(&rows).Error
	return rows, err
}

// UpdateInvitationStatus moves an invitation only if it is still in from.
func (r *repository) UpdateInvitationStatus(ctx context.Context, accountID, id snowflake.ID, from, to string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Exec(
		`UPDATE invitations SET status = ?, updated_at = ?
		 WHERE account_id = ? AND id = ? AND status = ?`,
		to, at, accountID, id, from,
	)
	return res.RowsAffected > 0, res.Error
}
