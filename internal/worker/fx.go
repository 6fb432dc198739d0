package worker

import (
	"context"

	"go.uber.org/fx"
)

var Module = fx.Module("worker",
	fx.Provide(ProvideConfig),
	fx.Provide(NewPipeline),
	fx.Provide(New),
	fx.Invoke(RegisterLifecycle),
)

// RegisterLifecycle starts the loop on boot when auto start is on and
// always drains it on shutdown.
func RegisterLifecycle(lc fx.Lifecycle, cfg Config, w *Worker) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			if cfg.AutoStart {
				w.Start()
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return w.Stop(ctx)
		},
	})
}
