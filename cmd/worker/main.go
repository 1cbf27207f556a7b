package main

import (
	"context"
	"log"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"agency-engine/pkg/config"
	"agency-engine/pkg/db"
	"agency-engine/pkg/featureflags"
	"agency-engine/pkg/hashistack/secretmanager"
	"agency-engine/pkg/logger"
	"agency-engine/pkg/minio"
	"agency-engine/pkg/otelcol"
	"agency-engine/pkg/profiling"
	"agency-engine/pkg/redis"
	"agency-engine/pkg/sequence"
	"agency-engine/pkg/server"
	"agency-engine/pkg/task"
	"agency-engine/pkg/taskname"
	"agency-engine/services/distribution"
	"agency-engine/services/eligibility"
	"agency-engine/services/ledger"
	"agency-engine/services/notification"
	"agency-engine/services/referral"
	"agency-engine/services/settings"
	"agency-engine/services/settlement"
)

// The worker consumes the queues the api process feeds: settlement runs and
// notification dispatches. It mounts the same service modules as the api so
// a queued run executes against identical wiring, router included (the
// modules register routes at construction; the worker just never serves
// them).
func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		task.Client,
		task.Server,
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
		settings.Module,
		referral.Module,
		eligibility.Module,
		distribution.Module,
		ledger.Module,
		notification.Module,
		settlement.Module,
		fx.Invoke(registerTaskHandlers),
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
	return snowflake.NewNode(2)
}

func setupTracing(cfg *config.Config) error {
	return otelcol.Setup(context.Background(), cfg)
}

func registerTaskHandlers(mux *asynq.ServeMux, runner *settlement.Runner, notifier *notification.Notifier) {
	mux.HandleFunc(taskname.SettlementRun, runner.HandleRunTask)
	mux.HandleFunc(taskname.NotifyDispatch, notifier.HandleDispatch)
}
