package ledger

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

var Module = fx.Module("ledger.service",
	fx.Provide(NewService),
	fx.Invoke(registerRoutes),
)

func registerRoutes(r *gin.Engine, s *Service) {
	r.GET("/v1/users/:user_id/balance", s.GetUserBalance)
	r.GET("/v1/users/:user_id/ledger/verify", s.VerifyUserChain)
}
