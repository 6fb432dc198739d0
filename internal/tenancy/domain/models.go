// Package domain contains the tenancy models: organizations own accounts and
// every other row in the system is scoped to an account.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type Organization struct {
	ID        snowflake.ID      `gorm:"primaryKey" json:"id"`
	Name      string            `gorm:"type:text;not null" json:"name"`
	IsActive  bool              `gorm:"not null;default:true" json:"is_active"`
	Settings  datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"settings"`
	CreatedAt time.Time         `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time         `gorm:"not null" json:"updated_at"`
}

func (Organization) TableName() string { return "organizations" }

type Account struct {
	ID             snowflake.ID      `gorm:"primaryKey" json:"id"`
	OrganizationID snowflake.ID      `gorm:"not null;index;uniqueIndex:ux_accounts_org_slug,priority:1" json:"organization_id"`
	Name           string            `gorm:"type:text;not null" json:"name"`
	Slug           string            `gorm:"type:text;not null;uniqueIndex:ux_accounts_org_slug,priority:2" json:"slug"`
	IsActive       bool              `gorm:"not null;default:true" json:"is_active"`
	Settings       datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"settings"`
	CreatedAt      time.Time         `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time         `gorm:"not null" json:"updated_at"`
}

func (Account) TableName() string { return "accounts" }

// UserAccountAssignment grants a user a role inside one account.
type UserAccountAssignment struct {
	ID         snowflake.ID `gorm:"primaryKey" json:"id"`
	UserID     string       `gorm:"type:text;not null;uniqueIndex:ux_user_account,priority:1" json:"user_id"`
	AccountID  snowflake.ID `gorm:"not null;index;uniqueIndex:ux_user_account,priority:2" json:"account_id"`
	UserEmail  string       `gorm:"type:text" json:"user_email"`
	Role       string       `gorm:"type:text;not null" json:"role"`
	AssignedAt time.Time    `gorm:"not null" json:"assigned_at"`
	LastAccess *time.Time   `json:"last_access,omitempty"`
}

func (UserAccountAssignment) TableName() string { return "user_account_assignments" }

func (a UserAccountAssignment) OwnerAccountID() snowflake.ID { return a.AccountID }

// UserOrganizationAssignment grants a role on every account of an organization.
type UserOrganizationAssignment struct {
	ID             snowflake.ID `gorm:"primaryKey" json:"id"`
	UserID         string       `gorm:"type:text;not null;uniqueIndex:ux_user_org,priority:1" json:"user_id"`
	OrganizationID snowflake.ID `gorm:"not null;index;uniqueIndex:ux_user_org,priority:2" json:"organization_id"`
	Role           string       `gorm:"type:text;not null" json:"role"`
	AssignedAt     time.Time    `gorm:"not null" json:"assigned_at"`
}

func (UserOrganizationAssignment) TableName() string { return "user_organization_assignments" }

// GlobalRoleGrant gives a user a platform role outside any account.
type GlobalRoleGrant struct {
	UserID    string    `gorm:"primaryKey;type:text" json:"user_id"`
	Role      string    `gorm:"type:text;not null" json:"role"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}

func (GlobalRoleGrant) TableName() string { return "global_role_grants" }

const (
	InvitationPending   = "pending"
	InvitationAccepted  = "accepted"
	InvitationCancelled = "cancelled"
	InvitationExpired   = "expired"
)

// Invitation stores only the hash of the opaque token handed to the invitee.
type Invitation struct {
	ID           snowflake.ID `gorm:"primaryKey" json:"id"`
	AccountID    snowflake.ID `gorm:"not null;index" json:"account_id"`
	InvitedEmail string       `gorm:"type:text;not null" json:"invited_email"`
	Role         string       `gorm:"type:text;not null" json:"role"`
	InvitedBy    string       `gorm:"type:text;not null" json:"invited_by"`
	TokenHash    string       `gorm:"type:text;not null;uniqueIndex" json:"-"`
	ExpiresAt    time.Time    `gorm:"not null" json:"expires_at"`
	Status       string       `gorm:"type:text;not null;index" json:"status"`
	CreatedAt    time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt    time.Time    `gorm:"not null" json:"updated_at"`
}

func (Invitation) TableName() string { return "invitations" }

func (i Invitation) OwnerAccountID() snowflake.ID { return i.AccountID }
