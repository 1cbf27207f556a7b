package settlement

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

var Module = fx.Module("settlement.service",
	fx.Provide(
		NewService,
		NewRunner,
	),
	fx.Invoke(registerRoutes),
)

// SchedulerModule is only mounted in the api process; the worker consumes
// what it enqueues.
var SchedulerModule = fx.Module("settlement.scheduler",
	fx.Provide(NewScheduler),
	fx.Invoke(StartScheduler),
)

func registerRoutes(r *gin.Engine, svc *Service, runner *Runner) {
	r.POST("/v1/settlements/run", runner.RunSettlement)
	r.GET("/v1/settlements/:settlement_id", svc.GetSettlement)
}
