package llm

import "go.uber.org/fx"

var Module = fx.Module("llm",
	fx.Provide(NewGateway),
	fx.Provide(NewLogRepository),
	fx.Provide(NewRecorder),
)
