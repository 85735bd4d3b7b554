package level

import (
	"feedshop-rewards/pkg/server"

	"go.uber.org/fx"
)

var Module = fx.Module("level.service",
	fx.Provide(
		NewService,
		server.AsRoute(NewHandler),
	),
)
