package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// AccountRecord joins an account with the activity flag of its organization.
type AccountRecord struct {
	Account
	OrganizationActive bool `gorm:"column:organization_active"`
}

type Repository interface {
	WithTx(tx *gorm.DB) Repository

	CreateOrganization(ctx context.Context, org Organization) error
	GetOrganization(ctx context.Context, id snowflake.ID) (*Organization, error)
	CreateAccount(ctx context.Context, account Account) error
	GetAccount(ctx context.Context, id snowflake.ID) (*AccountRecord, error)
	ListAccountsByUser(ctx context.Context, userID string) ([]Account, error)
	UpdateAccountSettings(ctx context.Context, accountID snowflake.ID, settings map[string]any, at time.Time) error

	GetAccountRole(ctx context.Context, accountID snowflake.ID, userID string) (string, error)
	GetOrganizationRole(ctx context.Context, organizationID snowflake.ID, userID string) (string, error)
	GetGlobalRole(ctx context.Context, userID string) (string, error)
	GrantGlobalRole(ctx context.Context, grant GlobalRoleGrant) error
	UpsertAccountAssignment(ctx context.Context, assignment UserAccountAssignment) error
	UpsertOrganizationAssignment(ctx context.Context, assignment UserOrganizationAssignment) error
	ListAccountAssignments(ctx context.Context, accountID snowflake.ID) ([]UserAccountAssignment, error)
	DeleteAccountAssignment(ctx context.Context, accountID snowflake.ID, userID string) (bool, error)
	CountOwners(ctx context.Context, accountID snowflake.ID) (int64, error)
	TouchLastAccess(ctx context.Context, accountID snowflake.ID, userID string, at time.Time) error

	CreateInvitation(ctx context.Context, inv Invitation) error
	GetInvitationByTokenHash(ctx context.Context, tokenHash string) (*Invitation, error)
	GetInvitation(ctx context.Context, accountID, id snowflake.ID) (*Invitation, error)
	ListInvitations(ctx context.Context, accountID snowflake.ID) ([]Invitation, error)
	UpdateInvitationStatus(ctx context.Context, accountID, id snowflake.ID, from, to string, at time.Time) (bool, error)
}
