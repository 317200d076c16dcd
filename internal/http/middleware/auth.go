// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file provides the authentication gate. Every request passing through
// Auth() carries a resolved auth.Identity in the Gin context afterwards;
// requests without a valid credential are rejected with a 401 in the
// standard error envelope before any handler runs.
package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/docmill/go-docintake-backend/internal/auth"
)

const (
	// identityKey is the Gin context key under which the resolved identity
	// is stored.
	identityKey = "identity"
)

// errorEnvelope is the JSON error body shared by the gate middlewares and the
// handler layer: {"error":{"type","message","timestamp"}} plus the request ID.
func errorEnvelope(c *gin.Context, status int, typ, msg string) {
	rid, _ := c.Get(requestIDKey)
	c.AbortWithStatusJSON(status, gin.H{
		"error": gin.H{
			"type":      typ,
			"message":   msg,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		},
		"request_id": asString(rid),
	})
}

// Auth returns the authentication gate.
//
// The credential is resolved in precedence order (Authorization: Bearer,
// X-API-Key header, api_key query parameter) and verified against the key
// store. Missing, malformed, and unknown credentials all map to 401 with an
// auth_error envelope; the response does not distinguish unknown from
// malformed beyond the message text.
//
// When demoMode is true a missing credential degrades to the shared demo
// identity instead of a 401. This is a development convenience and must stay
// off in production deployments.
func Auth(db *gorm.DB, demoMode bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, _ := auth.CredentialFromRequest(c.Request)
		id, err := auth.Authenticate(c.Request.Context(), db, raw, demoMode, time.Now())
		if err != nil {
			msg := "a valid API key is required"
			switch err {
			case auth.ErrMalformedKey:
				msg = "the presented API key is malformed"
			case auth.ErrInvalidKey:
				msg = "the presented API key is not recognized"
			}
			errorEnvelope(c, http.StatusUnauthorized, "auth_error", msg)
			return
		}
		c.Set(identityKey, id)
		c.Next()
	}
}

// IdentityFrom returns the identity attached by Auth. The zero Identity is
// returned on routes that run without the gate.
func IdentityFrom(c *gin.Context) auth.Identity {
	if v, ok := c.Get(identityKey); ok {
		if id, ok := v.(auth.Identity); ok {
			return id
		}
	}
	return auth.Identity{}
}
