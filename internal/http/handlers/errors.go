package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/bot-dispatch/internal/http/middleware"
	"github.com/tbourn/bot-dispatch/internal/services"
)

// Error codes carried in ErrorResponse.Code. Clients branch on these, not on
// messages.
const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeForbidden        = "forbidden"
	ErrCodeNotFound         = "not_found"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"

	ErrCodeEnqueueFailed = "enqueue_failed"
	ErrCodeNotConfigured = "not_configured"
	ErrCodeUnavailable   = "unavailable"
)

// failService maps a services error onto status and code.
func failService(c *gin.Context, err error) {
	switch services.ErrorKind(err) {
	case services.KindValidation:
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	case services.KindForbidden:
		fail(c, http.StatusForbidden, ErrCodeForbidden, "forbidden")
	case services.KindNotFound:
		fail(c, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case services.KindConfiguration:
		// The operator-facing detail goes to the log, not the client.
		middleware.LoggerFrom(c).Error().Err(err).Msg("encryption key misconfigured")
		fail(c, http.StatusServiceUnavailable, ErrCodeNotConfigured, "credential storage is not configured")
	default:
		if errors.Is(err, services.ErrEnqueueFailed) {
			fail(c, http.StatusServiceUnavailable, ErrCodeEnqueueFailed, services.ErrEnqueueFailed.Error())
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "internal error")
		middleware.LoggerFrom(c).Error().Err(err).Msg("unhandled service error")
	}
}
