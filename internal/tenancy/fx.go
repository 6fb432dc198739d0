package tenancy

import (
	"github.com/smallbiznis/newsdesk/internal/tenancy/repository"
	"github.com/smallbiznis/newsdesk/internal/tenancy/service"
	"go.uber.org/fx"
)

var Module = fx.Module("tenancy.service",
	fx.Provide(repository.NewRepository),
	fx.Provide(service.NewService),
)
