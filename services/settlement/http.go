package settlement

import (
	"net/http"

	"agency-engine/pkg/errutil"

	"github.com/gin-gonic/gin"
)

type runRequest struct {
	SettlementID string `json:"settlement_id"`
	Year         int    `json:"year" binding:"required"`
	Week         int    `json:"week" binding:"required"`
}

// RunSettlement triggers one settlement run synchronously. Operators use it
// to re-run a week; the idempotent apply makes that safe.
func (r *Runner) RunSettlement(c *gin.Context) {
	var req runRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errutil.AbortWithError(c, errutil.BadRequest("invalid run payload", err, errutil.WithErr(err)))
		return
	}

	if req.Week < 1 || req.Week > 53 {
		errutil.AbortWithError(c, errutil.ValidationFailed("week must be within [1,53]", nil))
		return
	}

	result, err := r.Run(c.Request.Context(), req.SettlementID, req.Year, req.Week)
	if err != nil {
		errutil.AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (s *Service) GetSettlement(c *gin.Context) {
	settlementID := c.Param("settlement_id")
	if settlementID == "" {
		errutil.AbortWithError(c, errutil.BadRequest("settlement_id is required", nil))
		return
	}

	view, err := s.Get(c.Request.Context(), settlementID)
	if err != nil {
		errutil.AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, view)
}
