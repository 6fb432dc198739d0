package authorization

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/newsdesk/internal/accountctx"
	"github.com/smallbiznis/newsdesk/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) Service {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "authz.db")), &gorm.Config{})
	require.NoError(t, err)
	enforcer, err := NewEnforcer(conn)
	require.NoError(t, err)
	return NewService(Params{Log: zap.NewNop(), Enforcer: enforcer})
}

func TestRoleMatrix(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		role   string
		global bool
		action string
		allow  bool
	}{
		{role: accountctx.RoleViewer, action: ActionContentView, allow: true},
		{role: accountctx.RoleViewer, action: ActionContentUpdate, allow: false},
		{role: accountctx.RoleViewer, action: ActionJobRun, allow: false},
		{role: accountctx.RoleEditor, action: ActionContentUpdate, allow: true},
		{role: accountctx.RoleEditor, action: ActionJobRun, allow: true},
		{role: accountctx.RoleEditor, action: ActionSourceUpdate, allow: true},
		{role: accountctx.RoleEditor, action: ActionSourceCreate, allow: false},
		{role: accountctx.RoleEditor, action: ActionTemplateCreate, allow: false},
		{role: accountctx.RoleEditor, action: ActionUserManage, allow: false},
		{role: accountctx.RoleAdmin, action: ActionTemplateUpdate, allow: true},
		{role: accountctx.RoleAdmin, action: ActionUserManage, allow: true},
		{role: accountctx.RoleAdmin, action: ActionJobRun, allow: true},
		{role: accountctx.RoleAdmin, action: ActionMigrationRun, allow: true},
		{role: accountctx.RoleEditor, action: ActionMigrationRun, allow: false},
		{role: accountctx.RoleOwner, action: ActionInvitationManage, allow: true},
		{role: accountctx.GlobalRoleSuperAdmin, global: true, action: ActionUserManage, allow: true},
		{role: accountctx.GlobalRoleSupport, global: true, action: ActionJobRun, allow: true},
		{role: accountctx.GlobalRoleSupport, global: true, action: ActionTemplateUpdate, allow: false},
		{role: accountctx.GlobalRoleBillingAdmin, global: true, action: ActionAccountUpdate, allow: true},
		{role: accountctx.GlobalRoleBillingAdmin, global: true, action: ActionContentUpdate, allow: false},
	}

	for _, tc := range cases {
		t.Run(tc.role+"/"+tc.action, func(t *testing.T) {
			scope := accountctx.Scope{AccountID: 1, UserID: "u"}
			if tc.global {
				scope.GlobalRole = tc.role
			} else {
				scope.Role = tc.role
			}
			err := svc.Authorize(ctx, scope, tc.action)
			if tc.allow {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrForbidden)
				assert.True(t, apperr.IsKind(err, apperr.KindForbidden))
			}
		})
	}
}

func TestAuthorizeRejectsMalformedInput(t *testing.T) {
	svc := newTestService(t)
	err := svc.Authorize(context.Background(), accountctx.Scope{AccountID: 1, Role: "viewer"}, "nonsense")
	assert.ErrorIs(t, err, ErrInvalidAction)

	err = svc.Authorize(context.Background(), accountctx.Scope{AccountID: 1}, ActionContentView)
	assert.ErrorIs(t, err, ErrNoRole)
}
