package distribution

import (
	"net/http"
	"time"

	"agency-engine/pkg/errutil"

	"github.com/gin-gonic/gin"
)

type recordEventRequest struct {
	SourceUserID string    `json:"source_user_id" binding:"required"`
	Kind         string    `json:"kind"`
	Amount       int64     `json:"amount" binding:"required"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// RecordEvent ingests one revenue event from the upstream pool feed.
func (s *Store) RecordEvent(c *gin.Context) {
	var req recordEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errutil.AbortWithError(c, errutil.BadRequest("invalid revenue event payload", err, errutil.WithErr(err)))
		return
	}

	if req.Amount <= 0 {
		errutil.AbortWithError(c, errutil.ValidationFailed("amount must be positive", nil))
		return
	}

	if req.Kind != "" && req.Kind != string(KindCharge) && req.Kind != string(KindUsage) {
		errutil.AbortWithError(c, errutil.ValidationFailed("kind must be CHARGE or USAGE", nil))
		return
	}

	event := RevenueEvent{
		SourceUserID: req.SourceUserID,
		Kind:         req.Kind,
		Amount:       req.Amount,
		OccurredAt:   req.OccurredAt,
	}
	if err := s.Record(c.Request.Context(), &event); err != nil {
		errutil.AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"id": event.ID})
}
