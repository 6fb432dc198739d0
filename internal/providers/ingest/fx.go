package ingest

import "go.uber.org/fx"

var Module = fx.Module("providers.ingest",
	fx.Provide(NewFromConfig),
)
