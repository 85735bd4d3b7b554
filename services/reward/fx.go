package reward

import (
	"feedshop-rewards/pkg/server"

	"go.uber.org/fx"
)

var Module = fx.Module("reward.service",
	fx.Provide(
		NewService,
		server.AsRoute(NewHandler),
	),
)
