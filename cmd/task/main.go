package main

import (
	"log"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"feedshop-rewards/pkg/config"
	"feedshop-rewards/pkg/db"
	"feedshop-rewards/pkg/eventbus"
	"feedshop-rewards/pkg/logger"
	"feedshop-rewards/pkg/otelcol"
	"feedshop-rewards/pkg/redis"
	"feedshop-rewards/pkg/sequence"
	"feedshop-rewards/pkg/sideeffect"
	taskq "feedshop-rewards/pkg/task"
	"feedshop-rewards/services/ledger"
	"feedshop-rewards/services/reward"
	"feedshop-rewards/services/task"
	"feedshop-rewards/services/user"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		otelcol.Module,
		db.Module,
		redis.Module,
		sequence.Module,
		eventbus.Module,
		sideeffect.Module,
		fx.Provide(
			provideSnowflakeNode,
		),
		fx.Invoke(startTelemetry),
		taskq.Client,
		taskq.Server,
		user.Module,
		ledger.Module,
		reward.Module,
		task.Module,
		task.Worker,
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})

// startTelemetry builds the tracer and meter providers.
func startTelemetry(trace.TracerProvider, metric.MeterProvider) {}

func provideSnowflakeNode(cfg *config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
