package errutil

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// HTTPCode converts the CoreStatus to its closest HTTP status code equivalent.
func (s CoreStatus) HTTPCode() int {
	switch s {
	case StatusUnauthorized:
		return http.StatusUnauthorized
	case StatusForbidden:
		return http.StatusForbidden
	case StatusNotFound:
		return http.StatusNotFound
	case StatusTimeout:
		return http.StatusGatewayTimeout
	case StatusUnprocessableEntity:
		return http.StatusUnprocessableEntity
	case StatusBadRequest, StatusValidationFailed:
		return http.StatusBadRequest
	case StatusConflict:
		return http.StatusConflict
	case StatusTooManyRequests:
		return http.StatusTooManyRequests
	case StatusNotImplemented:
		return http.StatusNotImplemented
	case StatusBadGateway:
		return http.StatusBadGateway
	case StatusServiceUnavailable:
		return http.StatusServiceUnavailable
	case StatusInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// AbortWithError normalises a domain error into a JSON HTTP response so gin
// handlers can safely return it to the transport layer.
func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}

	if errors.Is(err, context.Canceled) {
		c.AbortWithStatusJSON(499, gin.H{"error": gin.H{"code": "CLIENT_CLOSED_REQUEST", "message": err.Error()}})
		return
	}

	if errors.Is(err, context.DeadlineExceeded) {
		c.AbortWithStatusJSON(http.StatusGatewayTimeout, gin.H{"error": gin.H{"code": StatusTimeout, "message": err.Error()}})
		return
	}

	var base BaseError
	if errors.As(err, &base) {
		c.AbortWithStatusJSON(base.Code.HTTPCode(), base.JSON())
		return
	}

	var coder interface{ Status() CoreStatus }
	if errors.As(err, &coder) {
		c.AbortWithStatusJSON(coder.Status().HTTPCode(), gin.H{"error": gin.H{"code": coder.Status(), "message": err.Error()}})
		return
	}

	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": gin.H{"code": StatusInternal, "message": err.Error()}})
}
