// Package handlers provides HTTP handler implementations for the public API.
//
// This file defines the standard response utilities used across all endpoints,
// including the structured error envelope, consistent JSON serialization, and
// helpers for common HTTP patterns. The goal is to guarantee uniform responses
// for both success and failure cases, making the API predictable and
// machine-friendly.
//
// Conventions:
//   - All error responses return an ErrorResponse whose nested detail carries a
//     stable `type` (see errors.go constants) and an RFC 3339 timestamp.
//   - `fail()` centralizes error logging and formatting, ensuring 5xx responses
//     are logged with request context for observability.
//   - `ok()` simplifies writing success responses in a consistent shape.
//
// Example error response:
//
//	HTTP/1.1 404 Not Found
//	{
//	  "error": {
//	    "type": "not_found",
//	    "message": "no request matches the given identifier",
//	    "timestamp": "2026-08-27T10:15:04Z"
//	  },
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000"
//	}
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/docmill/go-docintake-backend/internal/http/middleware"
)

// ErrorDetail is the nested error object carried by every failure response.
type ErrorDetail struct {
	// Stable, machine-readable type (see errors.go constants)
	Type string `json:"type" example:"not_found"`
	// Human-readable message (safe to show to users)
	Message string `json:"message" example:"no request matches the given identifier"`
	// RFC 3339 UTC timestamp of when the error was produced
	Timestamp string `json:"timestamp" example:"2026-08-27T10:15:04Z"`
}

// ErrorResponse is the standard error envelope returned by all endpoints.
//
// RequestID is the correlation ID echoed from X-Request-ID, used to match
// server logs with client-side errors. This struct also feeds the OpenAPI
// documentation via Swagger annotations.
type ErrorResponse struct {
	Error     ErrorDetail `json:"error"`
	RequestID string      `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
}

// fail aborts the request with a structured error and logs server-side errors.
//
// It constructs an ErrorResponse, writes it as JSON with the given HTTP
// status, and calls gin.Context.AbortWithStatusJSON to stop further
// processing. Server errors (>=500) are logged using the request-scoped
// logger from middleware.
func fail(c *gin.Context, status int, errType, msg string) {
	reqID := c.Writer.Header().Get("X-Request-ID")
	resp := ErrorResponse{
		Error: ErrorDetail{
			Type:      errType,
			Message:   msg,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		},
		RequestID: reqID,
	}

	if status >= http.StatusInternalServerError {
		lg := middleware.LoggerFrom(c)
		lg.Error().
			Int("status", status).
			Str("type", errType).
			Str("message", msg).
			Msg("api error")
	}

	c.AbortWithStatusJSON(status, resp)
}

// Fail is the exported variant of fail().
//
// External packages (the router's NoRoute/NoMethod setup) call Fail to return
// consistent envelopes without depending on unexported helpers.
func Fail(c *gin.Context, status int, errType, msg string) { fail(c, status, errType, msg) }

// ok writes a success JSON response with the given status code.
func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}
