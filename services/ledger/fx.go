package ledger

import (
	"feedshop-rewards/pkg/server"

	"go.uber.org/fx"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health/grpc_health_v1"
)

var Module = fx.Module("ledger.service",
	fx.Provide(
		NewService,
		server.AsRoute(NewHandler),
	),
)

// Health registers the database backed gRPC health check.
var Health = fx.Module("ledger.health",
	fx.Invoke(registerHealthServer),
)

func registerHealthServer(srv *grpc.Server, svc *Service) {
	grpc_health_v1.RegisterHealthServer(srv, NewHealthServer(svc))
}
