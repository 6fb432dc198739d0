package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/newsdesk/internal/apperr"
)

// errorResponse is the body of every non-2xx reply.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

var (
	ErrUnauthorized   = apperr.New(apperr.KindUnauthorized, "unauthorized", "authentication is required")
	ErrInvalidToken   = apperr.New(apperr.KindUnauthorized, "invalid_token", "bearer token is invalid")
	ErrExpiredToken   = apperr.New(apperr.KindUnauthorized, "token_expired", "bearer token has expired")
	ErrInvalidRequest = apperr.Validation("invalid_request", "request body is malformed")
	ErrRouteNotFound  = apperr.NotFound("route_not_found")
	ErrWorkerDisabled = apperr.Conflict("worker_not_available", "this process does not run a worker")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, payload)
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return ErrInvalidRequest
}

func newValidationError(code, message string) error {
	return apperr.Validation(code, message)
}

func mapError(err error) (int, errorResponse) {
	kind := apperr.KindOf(err)
	status := statusForKind(kind)
	if status == http.StatusInternalServerError {
		return status, errorResponse{
			Error:   string(apperr.KindInternal),
			Message: "internal server error",
			Code:    internalCode(err),
		}
	}

	payload := errorResponse{
		Error:   string(kind),
		Message: publicMessage(err),
		Code:    apperr.CodeOf(err),
	}
	return status, payload
}

func statusForKind(kind apperr.Kind) int {
	switch kind {
	case apperr.KindScopeMissing, apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindScopeInvalid, apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindUnauthorized:
		return http.StatusUnauthorized
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindTemplateVariableUnresolved, apperr.KindParseFailure:
		return http.StatusUnprocessableEntity
	case apperr.KindConflict, apperr.KindCancelled:
		return http.StatusConflict
	case apperr.KindQuotaExceeded:
		return http.StatusTooManyRequests
	case apperr.KindTransientUpstream:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// publicMessage returns the message of the outermost *apperr.Error without
// its wrapped cause, which may carry driver or vendor detail.
func publicMessage(err error) string {
	var appErr *apperr.Error
	if errors.As(err, &appErr) && appErr != nil {
		if appErr.Message != "" {
			return appErr.Message
		}
		if appErr.Code != "" {
			return appErr.Code
		}
	}
	return string(apperr.KindOf(err))
}

// internalCode keeps the machine code of deliberate internal errors such as
// a missing collaborator, and hides everything else.
func internalCode(err error) string {
	if apperr.KindOf(err) == apperr.KindInternal {
		return apperr.CodeOf(err)
	}
	return ""
}

// classifyErrorForLog feeds the request logger.
func classifyErrorForLog(err error) (string, string) {
	if err == nil {
		return "", ""
	}
	kind := apperr.KindOf(err)
	if kind == apperr.KindUnknown {
		kind = apperr.KindInternal
	}
	return string(kind), apperr.CodeOf(err)
}
