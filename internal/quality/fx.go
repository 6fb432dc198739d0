package quality

import "go.uber.org/fx"

var Module = fx.Module("quality",
	fx.Provide(NewGate),
)
