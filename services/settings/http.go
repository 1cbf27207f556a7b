package settings

import (
	"net/http"

	"agency-engine/pkg/errutil"

	"github.com/gin-gonic/gin"
)

func (s *Service) GetSettings(c *gin.Context) {
	masterID := c.Param("master_id")
	if masterID == "" {
		errutil.AbortWithError(c, errutil.BadRequest("master_id is required", nil))
		return
	}

	cfg, _, err := s.Get(c.Request.Context(), masterID)
	if err != nil {
		errutil.AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, cfg)
}

func (s *Service) PutSettings(c *gin.Context) {
	masterID := c.Param("master_id")
	if masterID == "" {
		errutil.AbortWithError(c, errutil.BadRequest("master_id is required", nil))
		return
	}

	var cfg Settings
	if err := c.ShouldBindJSON(&cfg); err != nil {
		errutil.AbortWithError(c, errutil.BadRequest("invalid settings payload", err, errutil.WithErr(err)))
		return
	}

	if err := s.Put(c.Request.Context(), masterID, &cfg); err != nil {
		errutil.AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"master_id": masterID, "updated": true})
}
