package content

import (
	"github.com/smallbiznis/newsdesk/internal/content/dualwrite"
	"github.com/smallbiznis/newsdesk/internal/content/repository"
	"github.com/smallbiznis/newsdesk/internal/content/service"
	"go.uber.org/fx"
)

var Module = fx.Module("content.service",
	fx.Provide(repository.NewRepository),
	fx.Provide(dualwrite.NewWriter),
	fx.Provide(service.NewService),
)
