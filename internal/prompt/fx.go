package prompt

import (
	"github.com/smallbiznis/newsdesk/internal/prompt/repository"
	"github.com/smallbiznis/newsdesk/internal/prompt/service"
	"go.uber.org/fx"
)

var Module = fx.Module("prompt.service",
	fx.Provide(repository.NewRepository),
	fx.Provide(service.NewChainCache),
	fx.Provide(service.NewDryRunner),
	fx.Provide(service.NewService),
)
