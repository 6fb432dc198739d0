// Package accountctx carries the validated account scope of a request or job.
package accountctx

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	obscontext "github.com/smallbiznis/newsdesk/internal/observability/context"
)

const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleEditor = "editor"
	RoleViewer = "viewer"
)

const (
	GlobalRoleSuperAdmin   = "super_admin"
	GlobalRoleSupport      = "support"
	GlobalRoleBillingAdmin = "billing_admin"
)

// Scope is the validated (organization, account, user, role) tuple.
type Scope struct {
	OrganizationID snowflake.ID
	AccountID      snowflake.ID
	UserID         string
	UserEmail      string
	Role           string
	GlobalRole     string
}

// Valid reports whether the scope names an account.
func (s Scope) Valid() bool {
	return s.AccountID != 0
}

// EffectiveRole returns the global role when present, else the account role.
func (s Scope) EffectiveRole() string {
	if s.GlobalRole != "" {
		return s.GlobalRole
	}
	return s.Role
}

// System returns a scope used by the worker when no user is acting.
func System(organizationID, accountID snowflake.ID) Scope {
	return Scope{OrganizationID: organizationID, AccountID: accountID, UserID: "system", Role: RoleOwner}
}

type scopeKey struct{}

// WithScope stores scope on ctx and mirrors the account and actor on the
// observability context.
func WithScope(ctx context.Context, scope Scope) context.Context {
	ctx = context.WithValue(ctx, scopeKey{}, scope)
	ctx = obscontext.WithAccountID(ctx, scope.AccountID.String())
	if scope.UserID != "" {
		actorType := "user"
		if scope.UserID == "system" {
			actorType = "system"
		}
		ctx = obscontext.WithActor(ctx, actorType, scope.UserID)
	}
	return ctx
}

func FromContext(ctx context.Context) (Scope, bool) {
	if ctx == nil {
		return Scope{}, false
	}
	scope, ok := ctx.Value(scopeKey{}).(Scope)
	return scope, ok && scope.Valid()
}

// IsAccountRole reports whether role is one of the assignable account roles.
func IsAccountRole(role string) bool {
	switch NormalizeRole(role) {
	case RoleOwner, RoleAdmin, RoleEditor, RoleViewer:
		return true
	}
	return false
}

func IsGlobalRole(role string) bool {
	switch NormalizeRole(role) {
	case GlobalRoleSuperAdmin, GlobalRoleSupport, GlobalRoleBillingAdmin:
		return true
	}
	return false
}

func NormalizeRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}
