package main

import (
	"log"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"feedshop-rewards/pkg/config"
	"feedshop-rewards/pkg/db"
	"feedshop-rewards/pkg/eventbus"
	"feedshop-rewards/pkg/health"
	"feedshop-rewards/pkg/logger"
	"feedshop-rewards/pkg/otelcol"
	"feedshop-rewards/pkg/profiling"
	"feedshop-rewards/pkg/redis"
	"feedshop-rewards/pkg/sequence"
	"feedshop-rewards/pkg/server"
	"feedshop-rewards/pkg/sideeffect"
	"feedshop-rewards/services/badge"
	"feedshop-rewards/services/bootstrap"
	"feedshop-rewards/services/ledger"
	"feedshop-rewards/services/level"
	"feedshop-rewards/services/reward"
	"feedshop-rewards/services/user"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		otelcol.Module,
		profiling.Module,
		db.Module,
		redis.Module,
		sequence.Module,
		health.Module,
		eventbus.Module,
		sideeffect.Module,
		fx.Provide(
			provideSnowflakeNode,
		),
		user.Module,
		ledger.Module,
		ledger.Health,
		reward.Module,
		badge.Module,
		level.Module,
		bootstrap.Module,
		server.ProvideGRPCServer,
		server.ProvideHTTPServer,
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	if cfg.IsProduction() {
		return fxevent.NopLogger
	}
	return &fxevent.ZapLogger{Logger: logger}
})

func provideSnowflakeNode(cfg *config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
