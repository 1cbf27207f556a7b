package settings

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

var Module = fx.Module("settings.service",
	fx.Provide(NewService),
	fx.Invoke(registerRoutes),
)

func registerRoutes(r *gin.Engine, s *Service) {
	r.GET("/v1/agencies/:master_id/settings", s.GetSettings)
	r.PUT("/v1/agencies/:master_id/settings", s.PutSettings)
}
