package authorization

import (
	"context"
	_ "embed"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	"github.com/smallbiznis/newsdesk/internal/accountctx"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
}

// NewEnforcer loads policies from the casbin_rule table and seeds the role matrix.
func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	if err := enforcer.BuildRoleLinks(); err != nil {
		return nil, err
	}
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, scope accountctx.Scope, action string) error {
	action = strings.TrimSpace(action)
	object := ObjectOf(action)
	if object == "" {
		return ErrInvalidAction
	}
	role := accountctx.NormalizeRole(scope.EffectiveRole())
	if role == "" {
		return ErrNoRole
	}

	allowed, err := s.enforcer.Enforce(roleSubject(role), object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.log.Debug("authorization denied",
			zap.String("account_id", scope.AccountID.String()),
			zap.String("user_id", scope.UserID),
			zap.String("role", role),
			zap.String("action", action),
		)
		return ErrForbidden
	}
	return nil
}

func roleSubject(role string) string {
	return "role:" + role
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		// Viewer: read everything in the account.
		{"role:viewer", ObjectContent, ActionContentView},
		{"role:viewer", ObjectTemplate, ActionTemplateView},
		{"role:viewer", ObjectJob, ActionJobView},
		{"role:viewer", ObjectSource, ActionSourceView},
		{"role:viewer", ObjectUser, ActionUserView},
		{"role:viewer", ObjectAccount, ActionAccountView},
		{"role:viewer", ObjectResponseLog, ActionResponseLogView},

		// Editor: content and jobs, toggle sources.
		{"role:editor", ObjectContent, ActionContentCreate},
		{"role:editor", ObjectContent, ActionContentUpdate},
		{"role:editor", ObjectJob, ActionJobRun},
		{"role:editor", ObjectSource, ActionSourceUpdate},

		// Admin: templates, users, invitations, sources, settings, migration.
		{"role:admin", ObjectTemplate, ActionTemplateCreate},
		{"role:admin", ObjectTemplate, ActionTemplateUpdate},
		{"role:admin", ObjectTemplate, ActionTemplateTest},
		{"role:admin", ObjectUser, ActionUserManage},
		{"role:admin", ObjectInvitation, ActionInvitationManage},
		{"role:admin", ObjectSource, ActionSourceCreate},
		{"role:admin", ObjectAccount, ActionAccountUpdate},
		{"role:admin", ObjectMigration, ActionMigrationView},
		{"role:admin", ObjectMigration, ActionMigrationRun},

		// Owner and super admin: everything.
		{"role:owner", "*", "*"},
		{"role:super_admin", "*", "*"},

		// Support: read plus job operations.
		{"role:support", ObjectJob, ActionJobRun},

		// Billing admin: read plus account settings.
		{"role:billing_admin", ObjectAccount, ActionAccountUpdate},
	}
	for _, policy := range policies {
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}

	inheritance := [][]string{
		{"role:editor", "role:viewer"},
		{"role:admin", "role:editor"},
		{"role:owner", "role:admin"},
		{"role:support", "role:viewer"},
		{"role:billing_admin", "role:viewer"},
	}
	for _, rule := range inheritance {
		if _, err := enforcer.AddGroupingPolicy(rule); err != nil {
			return err
		}
	}
	return nil
}
