package distribution

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

var Module = fx.Module("distribution.service",
	fx.Provide(
		NewEngine,
		NewStore,
	),
	fx.Invoke(registerRoutes),
)

func registerRoutes(r *gin.Engine, s *Store) {
	r.POST("/v1/revenue-events", s.RecordEvent)
}
