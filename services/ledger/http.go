package ledger

import (
	"net/http"

	"agency-engine/pkg/errutil"

	"github.com/gin-gonic/gin"
)

func (s *Service) GetUserBalance(c *gin.Context) {
	userID := c.Param("user_id")
	if userID == "" {
		errutil.AbortWithError(c, errutil.BadRequest("user_id is required", nil))
		return
	}

	balance, err := s.GetBalance(c.Request.Context(), userID)
	if err != nil {
		errutil.AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id":         userID,
		"balance":         balance.Balance,
		"last_updated_at": balance.UpdatedAt,
	})
}

func (s *Service) VerifyUserChain(c *gin.Context) {
	userID := c.Param("user_id")
	if userID == "" {
		errutil.AbortWithError(c, errutil.BadRequest("user_id is required", nil))
		return
	}

	valid, err := s.VerifyChain(c.Request.Context(), userID)
	if err != nil {
		errutil.AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"user_id": userID, "valid": valid})
}
