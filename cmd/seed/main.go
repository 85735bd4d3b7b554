package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"feedshop-rewards/pkg/config"
	"feedshop-rewards/pkg/db"
	"feedshop-rewards/pkg/logger"
	"feedshop-rewards/services/bootstrap"
)

func main() {
	overwrite := flag.Bool("overwrite", false, "overwrite existing reward policies with the defaults")
	flag.Parse()

	var svc *bootstrap.Service
	app := fx.New(
		config.Module,
		logger.Module,
		db.Module,
		fx.Provide(
			provideSnowflakeNode,
			bootstrap.NewService,
		),
		fx.Invoke(func(*zap.Logger) {}),
		fx.Populate(&svc),
		fx.WithLogger(func() fxevent.Logger { return fxevent.NopLogger }),
	)
	if err := app.Err(); err != nil {
		log.Fatalf("seed setup failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := app.Start(ctx); err != nil {
		log.Fatalf("seed start failed: %v", err)
	}
	defer func() { _ = app.Stop(context.Background()) }()

	if err := svc.Migrate(ctx); err != nil {
		zap.L().Fatal("migrate failed", zap.Error(err))
	}

	res, err := svc.Seed(ctx, *overwrite)
	if err != nil {
		zap.L().Fatal("seed failed", zap.Error(err))
	}

	zap.L().Info("seed completed",
		zap.Int("levels", res.Levels),
		zap.Int("policies", res.Policies),
		zap.Bool("admin", res.Admin),
	)
}

func provideSnowflakeNode(cfg *config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
