package withdrawal

import (
	"encoding/json"
	"net/http"

	"agency-engine/pkg/errutil"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"
)

type requestPayload struct {
	UserID   string          `json:"user_id" binding:"required"`
	Amount   int64           `json:"amount" binding:"required"`
	BankInfo json.RawMessage `json:"bank_info"`
}

func (s *Service) RequestWithdrawal(c *gin.Context) {
	var req requestPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		errutil.AbortWithError(c, errutil.BadRequest("invalid withdrawal payload", err, errutil.WithErr(err)))
		return
	}

	record, err := s.Request(c.Request.Context(), req.UserID, req.Amount, datatypes.JSON(req.BankInfo))
	if err != nil {
		errutil.AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, record)
}

type processPayload struct {
	ProcessedBy string `json:"processed_by" binding:"required"`
	Memo        string `json:"memo"`
	Reason      string `json:"reason"`
}

func (s *Service) ApproveWithdrawal(c *gin.Context) {
	var req processPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		errutil.AbortWithError(c, errutil.BadRequest("invalid approval payload", err, errutil.WithErr(err)))
		return
	}

	record, err := s.Approve(c.Request.Context(), c.Param("id"), req.ProcessedBy, req.Memo)
	if err != nil {
		errutil.AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, record)
}

func (s *Service) RejectWithdrawal(c *gin.Context) {
	var req processPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		errutil.AbortWithError(c, errutil.BadRequest("invalid rejection payload", err, errutil.WithErr(err)))
		return
	}

	record, err := s.Reject(c.Request.Context(), c.Param("id"), req.ProcessedBy, req.Reason)
	if err != nil {
		errutil.AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, record)
}

func (s *Service) GetWithdrawal(c *gin.Context) {
	record, err := s.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		errutil.AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, record)
}

func (s *Service) ListWithdrawals(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		errutil.AbortWithError(c, errutil.BadRequest("user_id query parameter is required", nil))
		return
	}

	records, err := s.ListByUser(c.Request.Context(), userID)
	if err != nil {
		errutil.AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": records})
}
