// Machine-readable API self-description.
//
// GET /docs answers the questions an integrating client needs before its
// first call: which endpoints exist, how to authenticate, and what the
// quota tiers are. It is always on; the interactive Swagger UI lives under
// /docs/ui behind its own flag.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/docmill/go-docintake-backend/internal/auth"
)

// EndpointDoc describes one API operation.
type EndpointDoc struct {
	Method      string `json:"method"`
	Path        string `json:"path"`
	Auth        bool   `json:"auth_required"`
	RateLimited bool   `json:"rate_limited"`
	Description string `json:"description"`
}

// AuthDoc describes the accepted credential positions in precedence order
// and the malformed-key screen.
type AuthDoc struct {
	Schemes      []string `json:"schemes"`
	MinKeyLength int      `json:"min_key_length"`
}

// TierDoc is one rate-limit tier as surfaced to clients.
type TierDoc struct {
	Name          string `json:"name"`
	Limit         int64  `json:"requests_per_window"`
	WindowSeconds int64  `json:"window_seconds"`
}

// DocsResponse is the full self-description document.
type DocsResponse struct {
	Version   string        `json:"version" example:"v1"`
	BasePath  string        `json:"base_path" example:"/v1"`
	Auth      AuthDoc       `json:"auth"`
	RateLimit []TierDoc     `json:"rate_limit_tiers"`
	Endpoints []EndpointDoc `json:"endpoints"`
}

// Docs godoc
// @ID          getDocs
// @Summary     API self-description
// @Description Returns a machine-readable description of the API surface: endpoints, authentication schemes in precedence order, and rate-limit tiers.
// @Tags        Status
// @Produce     json
//
// @Success     200  {object}  handlers.DocsResponse
// @Router      /docs [get]
func (h *Handlers) Docs(c *gin.Context) {
	window := int64(h.rate.Window.Seconds())
	ok(c, http.StatusOK, DocsResponse{
		Version:  "v1",
		BasePath: h.basePath,
		Auth: AuthDoc{
			Schemes: []string{
				"Authorization: Bearer <key>",
				auth.HeaderAPIKey + " header",
				auth.QueryAPIKey + " query parameter",
			},
			MinKeyLength: auth.MinKeyLength,
		},
		RateLimit: []TierDoc{
			{Name: "free", Limit: h.rate.FreeLimit, WindowSeconds: window},
			{Name: "standard", Limit: h.rate.StandardLimit, WindowSeconds: window},
			{Name: "premium", Limit: h.rate.PremiumLimit, WindowSeconds: window},
		},
		Endpoints: []EndpointDoc{
			{Method: "POST", Path: h.basePath + "/upload", Auth: true, RateLimited: true,
				Description: "submit a base64-encoded document for analysis"},
			{Method: "POST", Path: h.basePath + "/intake/email", Auth: true, RateLimited: true,
				Description: "ingest a raw inbound email message"},
			{Method: "GET", Path: h.basePath + "/status/{id}", Auth: true, RateLimited: true,
				Description: "lifecycle status and progress of one request"},
			{Method: "GET", Path: h.basePath + "/history", Auth: true, RateLimited: true,
				Description: "recent requests, reverse-chronological"},
			{Method: "GET", Path: h.basePath + "/formats", Auth: false, RateLimited: false,
				Description: "supported input types, output formats, and limits"},
			{Method: "GET", Path: h.basePath + "/health", Auth: false, RateLimited: false,
				Description: "liveness probe"},
			{Method: "GET", Path: h.basePath + "/docs", Auth: false, RateLimited: false,
				Description: "this document"},
			{Method: "POST", Path: h.basePath + "/chat/webhook", Auth: false, RateLimited: false,
				Description: "signature-verified chat slash-command webhook"},
		},
	})
}
