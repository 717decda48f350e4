package handlers

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/upb/biped-api/services"
	"github.com/upb/biped-api/utils"
)

// HandleServiceError maps domain errors to HTTP responses
func HandleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if err == nil {
		return
	}

	details := services.GetErrorDetails(err)
	if len(details) == 0 {
		details = nil
	}

	var writeErr error
	switch {
	case services.IsNotFoundError(err):
		writeErr = utils.WriteNotFound(w, err.Error())

	case services.IsValidationError(err):
		writeErr = utils.WriteBadRequest(w, err.Error(), details)

	case services.IsUnauthorizedError(err):
		writeErr = utils.WriteUnauthorized(w, err.Error())

	case services.IsRateLimitError(err):
		retryAfter, _ := details["retry_after"].(int)
		requestID, _ := details["request_id"].(string)
		writeErr = utils.WriteTooManyRequests(w, err.Error(), retryAfter, requestID)

	case services.IsConflictError(err):
		writeErr = utils.WriteConflict(w, err.Error(), details)

	case services.IsExternalError(err):
		writeErr = utils.WriteBadGateway(w, err.Error(), details)

	case services.IsUnavailableError(err):
		writeErr = utils.WriteServiceUnavailable(w, err.Error())

	case services.IsInternalError(err):
		// internal causes stay in the logs
		logger.Error("internal server error", zap.Error(err))
		writeErr = utils.WriteInternalServerError(w, "An internal error occurred")

	default:
		logger.Error("unhandled error type",
			zap.Error(err),
			zap.String("error_type", string(services.GetErrorType(err))))
		writeErr = utils.WriteInternalServerError(w, services.ErrInternal.Message)
	}

	if writeErr != nil {
		logger.Error("failed to write error response", zap.Error(writeErr))
	}

	var domainErr *services.DomainError
	if errors.As(err, &domainErr) {
		logger.Debug("handled service error",
			zap.String("type", string(domainErr.Type)),
			zap.String("message", domainErr.Message))
	}
}

// HandleValidationError handles validation errors from request parsing
func HandleValidationError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if utils.IsValidationError(err) {
		fields := utils.GetValidationFields(err)
		details := make(map[string]interface{}, len(fields))
		for k, v := range fields {
			details[k] = v
		}
		if err := utils.WriteBadRequest(w, "Validation failed", details); err != nil {
			logger.Error("failed to write validation error response", zap.Error(err))
		}
		return
	}

	if err := utils.WriteBadRequest(w, err.Error(), nil); err != nil {
		logger.Error("failed to write validation error response", zap.Error(err))
	}
}

// NotFound is the JSON 404 handler
func NotFound(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteNotFound(w, services.ErrRouteNotFound.Message+": "+r.URL.Path)
}

// MethodNotAllowed is the JSON 405 handler
func MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteMethodNotAllowed(w, r.Method+" is not allowed on "+r.URL.Path)
}
