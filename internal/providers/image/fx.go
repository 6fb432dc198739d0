package image

import "go.uber.org/fx"

var Module = fx.Module("providers.image",
	fx.Provide(NewFromConfig),
)
