package badge

import (
	"feedshop-rewards/pkg/server"

	"go.uber.org/fx"
)

var Module = fx.Module("badge.service",
	fx.Provide(
		NewService,
		server.AsRoute(NewHandler),
	),
)
