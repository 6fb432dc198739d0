package domain

import (
	"context"
	"time"

	"github.com/smallbiznis/newsdesk/internal/accountctx"
	"github.com/smallbiznis/newsdesk/internal/apperr"
)

// Account settings keys.
const (
	SettingMaxGenerationsPerDay           = "max_generations_per_day"
	SettingDisableRegenerateOnPoorQuality = "disable_regenerate_on_poor_quality"
)

type Service interface {
	// ResolveScope validates the claimed account and user and returns the scope.
	ResolveScope(ctx context.Context, req ScopeRequest) (accountctx.Scope, error)
	// SystemScope builds the scope the worker uses for an account.
	SystemScope(ctx context.Context, accountID string) (accountctx.Scope, error)

	CreateOrganization(ctx context.Context, req CreateOrganizationRequest) (*OrganizationResponse, error)
	CreateAccount(ctx context.Context, req CreateAccountRequest) (*AccountResponse, error)
	GetAccount(ctx context.Context, scope accountctx.Scope) (*AccountResponse, error)
	ListAccountsForUser(ctx context.Context, userID string) ([]AccountResponse, error)
	UpdateAccountSettings(ctx context.Context, scope accountctx.Scope, settings map[string]any) (*AccountResponse, error)
	Settings(ctx context.Context, accountID string) (AccountSettings, error)
	GrantGlobalRole(ctx context.Context, userID, role string) error

	ListUsers(ctx context.Context, scope accountctx.Scope) ([]UserResponse, error)
	AssignRole(ctx context.Context, scope accountctx.Scope, req AssignRoleRequest) (*UserResponse, error)
	RemoveUser(ctx context.Context, scope accountctx.Scope, userID string) error

	CreateInvitation(ctx context.Context, scope accountctx.Scope, req CreateInvitationRequest) (*InvitationResponse, error)
	ListInvitations(ctx context.Context, scope accountctx.Scope) ([]InvitationResponse, error)
	AcceptInvitation(ctx context.Context, req AcceptInvitationRequest) (*UserResponse, error)
	CancelInvitation(ctx context.Context, scope accountctx.Scope, invitationID string) error
}

// InvitationNotice is what the mailer needs to tell an invitee how to join.
type InvitationNotice struct {
	Email       string
	AccountName string
	Role        string
	InvitedBy   string
	Token       string
	ExpiresAt   time.Time
}

// InvitationMailer delivers invitation tokens out of band.
type InvitationMailer interface {
	SendInvitation(ctx context.Context, notice InvitationNotice) error
}

// ScopeRequest carries raw, untrusted scope claims from the edge.
type ScopeRequest struct {
	AccountID string
	UserID    string
	UserEmail string
}

type CreateOrganizationRequest struct {
	Name     string
	Settings map[string]any
}

type CreateAccountRequest struct {
	OrganizationID string
	Name           string
	Settings       map[string]any
	OwnerUserID    string
	OwnerEmail     string
}

type AssignRoleRequest struct {
	UserID    string `json:"userId"`
	UserEmail string `json:"userEmail"`
	Role      string `json:"role"`
}

type CreateInvitationRequest struct {
	Email string        `json:"email"`
	Role  string        `json:"role"`
	TTL   time.Duration `json:"-"`
}

type AcceptInvitationRequest struct {
	Token     string `json:"token"`
	UserID    string `json:"-"`
	UserEmail string `json:"-"`
}

// AccountSettings is the typed view of the settings JSON the pipeline reads.
type AccountSettings struct {
	MaxGenerationsPerDay           int
	DisableRegenerateOnPoorQuality bool
	Raw                            map[string]any
}

type OrganizationResponse struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	IsActive bool           `json:"isActive"`
	Settings map[string]any `json:"settings"`
}

type AccountResponse struct {
	ID             string         `json:"id"`
	OrganizationID string         `json:"organizationId"`
	Name           string         `json:"name"`
	Slug           string         `json:"slug"`
	IsActive       bool           `json:"isActive"`
	Settings       map[string]any `json:"settings"`
}

type UserResponse struct {
	UserID     string     `json:"userId"`
	UserEmail  string     `json:"userEmail,omitempty"`
	AccountID  string     `json:"accountId"`
	Role       string     `json:"role"`
	AssignedAt time.Time  `json:"assignedAt"`
	LastAccess *time.Time `json:"lastAccess,omitempty"`
}

// InvitationResponse carries Token only when the invitation is created.
type InvitationResponse struct {
	ID           string    `json:"id"`
	AccountID    string    `json:"accountId"`
	InvitedEmail string    `json:"invitedEmail"`
	Role         string    `json:"role"`
	InvitedBy    string    `json:"invitedBy"`
	Status       string    `json:"status"`
	ExpiresAt    time.Time `json:"expiresAt"`
	Token        string    `json:"token,omitempty"`
}

var (
	ErrScopeMissing        = apperr.New(apperr.KindScopeMissing, "account_scope_missing", "account scope is required")
	ErrAccountNotFound     = apperr.New(apperr.KindScopeInvalid, "account_not_found", "account not found")
	ErrAccountInactive     = apperr.New(apperr.KindScopeInvalid, "account_inactive", "account is not active")
	ErrNotMember           = apperr.New(apperr.KindForbidden, "not_a_member", "user has no access to this account")
	ErrInvalidName         = apperr.Validation("invalid_name", "name is required")
	ErrInvalidOrganization = apperr.Validation("invalid_organization", "organization is invalid")
	ErrInvalidRole         = apperr.Validation("invalid_role", "role is invalid")
	ErrInvalidEmail        = apperr.Validation("invalid_email", "email is invalid")
	ErrInvalidUser         = apperr.Validation("invalid_user", "user id is required")
	ErrLastOwner           = apperr.Conflict("last_owner", "an account must keep at least one owner")
	ErrUserNotFound        = apperr.NotFound("user_not_found")
	ErrInvitationNotFound  = apperr.NotFound("invitation_not_found")
	ErrInvitationExpired   = apperr.Conflict("invitation_expired", "invitation has expired")
	ErrInvitationClosed    = apperr.Conflict("invitation_closed", "invitation is no longer pending")
	ErrInvitationEmail     = apperr.New(apperr.KindForbidden, "invitation_email_mismatch", "invitation was issued to a different email")
)
