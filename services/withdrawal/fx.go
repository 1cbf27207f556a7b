package withdrawal

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

var Module = fx.Module("withdrawal.service",
	fx.Provide(NewService),
	fx.Invoke(registerRoutes),
)

func registerRoutes(r *gin.Engine, s *Service) {
	r.POST("/v1/withdrawals", s.RequestWithdrawal)
	r.GET("/v1/withdrawals", s.ListWithdrawals)
	r.GET("/v1/withdrawals/:id", s.GetWithdrawal)
	r.POST("/v1/withdrawals/:id/approve", s.ApproveWithdrawal)
	r.POST("/v1/withdrawals/:id/reject", s.RejectWithdrawal)
}
