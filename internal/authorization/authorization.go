package authorization

import (
	"context"
	"strings"

	"github.com/smallbiznis/newsdesk/internal/accountctx"
	"github.com/smallbiznis/newsdesk/internal/apperr"
	"go.uber.org/fx"
)

const (
	ObjectContent     = "content"
	ObjectTemplate    = "template"
	ObjectJob         = "job"
	ObjectSource      = "source"
	ObjectUser        = "user"
	ObjectInvitation  = "invitation"
	ObjectAccount     = "account"
	ObjectResponseLog = "response_log"
	ObjectMigration   = "migration"
)

const (
	ActionContentView   = "content.view"
	ActionContentCreate = "content.create"
	ActionContentUpdate = "content.update"

	ActionTemplateView   = "template.view"
	ActionTemplateCreate = "template.create"
	ActionTemplateUpdate = "template.update"
	ActionTemplateTest   = "template.test"

	ActionJobView = "job.view"
	ActionJobRun  = "job.run"

	ActionSourceView   = "source.view"
	ActionSourceCreate = "source.create"
	ActionSourceUpdate = "source.update"

	ActionUserView         = "user.view"
	ActionUserManage       = "user.manage"
	ActionInvitationManage = "invitation.manage"

	ActionAccountView   = "account.view"
	ActionAccountUpdate = "account.update"

	ActionResponseLogView = "response_log.view"

	ActionMigrationView = "migration.view"
	ActionMigrationRun  = "migration.run"
)

var (
	ErrForbidden     = apperr.Forbidden("insufficient_role")
	ErrInvalidAction = apperr.Validation("invalid_action", "action is invalid")
	ErrNoRole        = apperr.New(apperr.KindUnauthorized, "no_role", "request carries no role")
)

type Service interface {
	// Authorize checks that the scope's effective role may perform action.
	Authorize(ctx context.Context, scope accountctx.Scope, action string) error
}

var Module = fx.Module("authorization",
	fx.Provide(NewEnforcer),
	fx.Provide(NewService),
)

// ObjectOf returns the object half of an "object.verb" action.
func ObjectOf(action string) string {
	object, _, found := strings.Cut(action, ".")
	if !found {
		return ""
	}
	return object
}
