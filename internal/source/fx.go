package source

import (
	"github.com/smallbiznis/newsdesk/internal/source/repository"
	"github.com/smallbiznis/newsdesk/internal/source/service"
	"go.uber.org/fx"
)

var Module = fx.Module("source.service",
	fx.Provide(repository.NewRepository),
	fx.Provide(service.NewService),
)
