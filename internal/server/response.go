package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dyike/CortexThesis/internal/graph"
)

// ErrorCode is the machine-readable part of an error response.
type ErrorCode string

const (
	CodeInvalidInput ErrorCode = "INVALID_INPUT"
	CodeNotFound     ErrorCode = "NOT_FOUND"
	CodeRateLimited  ErrorCode = "RATE_LIMITED"
	CodeTimeout      ErrorCode = "TIMEOUT"
	CodeInternal     ErrorCode = "INTERNAL_ERROR"
)

// DataResponse is the success envelope.
type DataResponse struct {
	Data any `json:"data"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

type ErrorBody struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
}

// APIError carries the status and body for a failed request.
type APIError struct {
	Status    int
	Code      ErrorCode
	Message   string
	Retryable bool
	Cause     error
}

func (e *APIError) Error() string { return string(e.Code) + ": " + e.Message }

func (e *APIError) Unwrap() error { return e.Cause }

func (e *APIError) ToResponse() ErrorResponse {
	return ErrorResponse{Error: ErrorBody{Code: e.Code, Message: e.Message, Retryable: e.Retryable}}
}

func InvalidInput(err error) *APIError {
	return &APIError{Status: http.StatusBadRequest, Code: CodeInvalidInput, Message: err.Error(), Cause: err}
}

// classify maps analysis errors onto the HTTP surface. Only malformed
// input and unknown tickers are client errors.
func classify(err error) *APIError {
	var apiErr *APIError
	switch {
	case errors.As(err, &apiErr):
		return apiErr
	case errors.Is(err, graph.ErrInvalidInput):
		return InvalidInput(err)
	case errors.Is(err, graph.ErrTickerNotFound):
		return &APIError{Status: http.StatusNotFound, Code: CodeNotFound, Message: err.Error(), Cause: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &APIError{Status: http.StatusGatewayTimeout, Code: CodeTimeout, Message: "analysis exceeded the request timeout", Retryable: true, Cause: err}
	}
	return &APIError{Status: http.StatusInternalServerError, Code: CodeInternal, Message: "internal error", Retryable: true, Cause: err}
}

func RespondWithError(c *gin.Context, err error) {
	apiErr := classify(err)
	_ = c.Error(err)
	c.AbortWithStatusJSON(apiErr.Status, apiErr.ToResponse())
}

func RespondOK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, DataResponse{Data: data})
}
