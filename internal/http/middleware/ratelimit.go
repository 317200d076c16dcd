// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file enforces per-client request quotas at the HTTP boundary. The
// counting and tier policy live in the ratelimit package; this middleware
// translates a quota decision into headers and, when the window is spent,
// a 429 response in the standard error envelope.
//
// Every response that passed through the limiter carries:
//
//	X-RateLimit-Limit:     the tier's per-window quota
//	X-RateLimit-Remaining: requests left in the current window
//	X-RateLimit-Reset:     window reset time as a Unix timestamp
//
// Rejections additionally carry Retry-After with the seconds until reset, so
// well-behaved clients can back off without parsing the body.
package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/docmill/go-docintake-backend/internal/ratelimit"
)

// RateLimit returns a quota-enforcing middleware over limiter.
//
// It must run after Auth(): the identity's client ID keys the counter and its
// tier selects the quota. The check counts the request before deciding, so a
// rejected request still consumed one slot; that keeps the store a single
// atomic increment with no read-then-write race.
//
// Store failures fail closed with a 500. An unreachable counting backend must
// not grant unmetered access.
func RateLimit(limiter *ratelimit.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := IdentityFrom(c)
		d, err := limiter.Check(c.Request.Context(), id.ClientID, id.Tier)
		if err != nil {
			LoggerFrom(c).Error().Err(err).Msg("rate limit store unavailable")
			errorEnvelope(c, http.StatusInternalServerError, "internal_error",
				"request quota could not be verified")
			return
		}

		h := c.Writer.Header()
		h.Set("X-RateLimit-Limit", strconv.FormatInt(d.Limit, 10))
		h.Set("X-RateLimit-Remaining", strconv.FormatInt(d.Remaining, 10))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(d.Reset.Unix(), 10))

		if !d.Allowed {
			retry := time.Until(d.Reset).Round(time.Second)
			if retry < time.Second {
				retry = time.Second
			}
			h.Set("Retry-After", strconv.Itoa(int(retry.Seconds())))
			errorEnvelope(c, http.StatusTooManyRequests, "rate_limit_error",
				"request quota exceeded, retry after the window resets")
			return
		}
		c.Next()
	}
}
