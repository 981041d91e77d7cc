package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"certify-manager/internal/model"
)

// Common error messages for clients (no internal details)
const (
	ErrMsgInternalError    = "An internal error occurred"
	ErrMsgDatabaseError    = "A database error occurred"
	ErrMsgValidationFailed = "Validation failed"
)

// ErrorResponse is the standard error response structure
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// internalError logs the actual error and returns a generic message to the client
func internalError(c echo.Context, operation string, err error) error {
	log.Error().Err(err).Str("operation", operation).Msg("request failed")
	return c.JSON(http.StatusInternalServerError, ErrorResponse{
		Error: ErrMsgInternalError,
	})
}

// databaseError logs the database error and returns a generic message
func databaseError(c echo.Context, operation string, err error) error {
	log.Error().Err(err).Str("operation", operation).Msg("database error")
	return c.JSON(http.StatusInternalServerError, ErrorResponse{
		Error: ErrMsgDatabaseError,
	})
}

// notFoundError returns a not found error
func notFoundError(c echo.Context, resource string) error {
	return c.JSON(http.StatusNotFound, ErrorResponse{
		Error: resource + " not found",
	})
}

// badRequestError returns a bad request error with a safe message
func badRequestError(c echo.Context, message string) error {
	return c.JSON(http.StatusBadRequest, ErrorResponse{
		Error: message,
	})
}

// validationError returns a validation error with field details
func validationError(c echo.Context, ve *model.ValidationError) error {
	return c.JSON(http.StatusBadRequest, map[string]string{
		"error":   ErrMsgValidationFailed,
		"field":   ve.Field,
		"details": ve.Error(),
	})
}

// serviceError maps an engine error to its HTTP response
func serviceError(c echo.Context, operation, resource string, err error) error {
	var ve *model.ValidationError
	switch {
	case errors.As(err, &ve):
		return validationError(c, ve)
	case errors.Is(err, model.ErrNotFound):
		return notFoundError(c, resource)
	case errors.Is(err, model.ErrDomainOptionNotFound):
		return badRequestError(c, err.Error())
	default:
		return internalError(c, operation, err)
	}
}

// acceptedResponse returns a 202 Accepted response
func acceptedResponse(c echo.Context, data interface{}) error {
	return c.JSON(http.StatusAccepted, data)
}

// createdResponse returns a 201 Created response with the created resource
func createdResponse(c echo.Context, data interface{}) error {
	return c.JSON(http.StatusCreated, data)
}

// noContentResponse returns a 204 No Content response
func noContentResponse(c echo.Context) error {
	return c.NoContent(http.StatusNoContent)
}
