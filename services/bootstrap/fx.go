package bootstrap

import (
	"context"

	"feedshop-rewards/pkg/config"

	"go.uber.org/fx"
)

var Module = fx.Module("bootstrap",
	fx.Provide(
		NewService,
	),
	fx.Invoke(runBootstrap),
)

// Run after DB initialized
func runBootstrap(lc fx.Lifecycle, cfg *config.Config, b *Service) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if cfg.Bootstrap.AutoMigrate {
				if err := b.Migrate(ctx); err != nil {
					return err
				}
			}
			if cfg.Bootstrap.Seed {
				if _, err := b.Seed(ctx, false); err != nil {
					return err
				}
			}
			return nil
		},
	})
}
