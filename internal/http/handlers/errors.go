// Package handlers defines the HTTP-layer error taxonomy used across all API
// endpoints.
//
// This file centralizes the symbolic error type constants mapped to HTTP
// responses via the `fail()` helper. The taxonomy is closed: every failure an
// endpoint can produce carries exactly one of these types, so clients can
// branch programmatically without parsing messages.
//
// Conventions:
//   - Types are lowercase snake_case.
//   - validation_error covers malformed input of any kind, including payloads
//     over the size cap (413) and unsupported file types.
//   - auth_error covers missing, malformed, and unknown credentials alike.
//   - upstream_error marks failures of the external analysis engine or
//     delivery transport, surfaced through the status endpoint.
package handlers

const (
	ErrTypeValidation = "validation_error"
	ErrTypeAuth       = "auth_error"
	ErrTypeRateLimit  = "rate_limit_error"
	ErrTypeNotFound   = "not_found"
	ErrTypeUpstream   = "upstream_error"
	ErrTypeInternal   = "internal_error"
)
