// Package httperr maps the typed error taxonomy to HTTP responses in one
// place. AccessDenied and NotFound are presented identically outward so
// resource existence never leaks; the distinction is audit-logged here.
package httperr

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/pulsehub/backend/internal/apperrors"
	"github.com/pulsehub/backend/pkg/response"
)

// Write sends the HTTP response for err.
func Write(c *gin.Context, logger *zap.Logger, err error) {
	switch {
	case apperrors.IsValidation(err):
		response.BadRequest(c, err.Error())
	case apperrors.IsInvalidState(err):
		response.Conflict(c, err.Error())
	case apperrors.IsStaleSchedule(err):
		response.Conflict(c, err.Error())
	case apperrors.IsInsufficientData(err):
		response.Unprocessable(c, err.Error())
	case apperrors.IsAccessDenied(err):
		logger.Warn("access denied",
			zap.String("path", c.Request.URL.Path),
			zap.String("client_ip", c.ClientIP()),
			zap.Error(err))
		response.NotFound(c, "not found")
	case apperrors.IsNotFound(err):
		response.NotFound(c, "not found")
	case apperrors.IsTransient(err):
		logger.Error("store failure", zap.String("path", c.Request.URL.Path), zap.Error(err))
		response.ServiceUnavailable(c, "temporary failure, retry")
	default:
		logger.Error("unhandled error", zap.String("path", c.Request.URL.Path), zap.Error(err))
		response.Internal(c, "internal error")
	}
}
