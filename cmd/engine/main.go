package main

import (
	"context"
	"log"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"agency-engine/pkg/config"
	"agency-engine/pkg/db"
	"agency-engine/pkg/featureflags"
	"agency-engine/pkg/hashistack/secretmanager"
	"agency-engine/pkg/health"
	"agency-engine/pkg/logger"
	"agency-engine/pkg/minio"
	"agency-engine/pkg/otelcol"
	"agency-engine/pkg/profiling"
	"agency-engine/pkg/redis"
	"agency-engine/pkg/sequence"
	"agency-engine/pkg/server"
	"agency-engine/pkg/task"
	"agency-engine/services/distribution"
	"agency-engine/services/eligibility"
	"agency-engine/services/ledger"
	"agency-engine/services/notification"
	"agency-engine/services/referral"
	"agency-engine/services/settings"
	"agency-engine/services/settlement"
	"agency-engine/services/withdrawal"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		task.Client,
		sequence.Module,
		minio.Client,
		featureflags.Module,
		profiling.Module,
		fx.Provide(
			server.ProvideRouter,
			provideSnowflakeNode,
		),
		fx.Invoke(
			setupTracing,
			db.Otel,
			db.Metric,
		),
		health.Module,
		settings.Module,
		referral.Module,
		eligibility.Module,
		distribution.Module,
		ledger.Module,
		notification.Module,
		settlement.Module,
		settlement.SchedulerModule,
		withdrawal.Module,
		server.ProvideHTTPServer,
		fxLogger,
	}

	// Vault is optional: without it config keeps the file/env credentials.
	if secretmanager.Enabled() {
		opts = append(opts, secretmanager.Module)
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

func provideSnowflakeNode() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}

func setupTracing(cfg *config.Config) error {
	return otelcol.Setup(context.Background(), cfg)
}
