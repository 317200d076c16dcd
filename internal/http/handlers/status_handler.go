// Status and capability HTTP handlers.
//
// This file exposes the read side of the API:
//   - GET /status/{id}  (lifecycle position and progress of one request)
//   - GET /history      (recent requests, reverse-chronological, filterable)
//   - GET /formats      (static capability document)
//   - GET /health       (liveness probe)
package handlers

import (
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/docmill/go-docintake-backend/internal/domain"
	"github.com/docmill/go-docintake-backend/internal/ingest"
	"github.com/docmill/go-docintake-backend/internal/prefs"
	"github.com/docmill/go-docintake-backend/internal/repo"
	"github.com/docmill/go-docintake-backend/internal/utils"
)

// StatusResponse reports where one request sits in its lifecycle.
type StatusResponse struct {
	RequestID string        `json:"request_id"`
	Status    domain.Status `json:"status"   example:"processing"`
	Stage     domain.Stage  `json:"processing_stage" example:"analyzing"`
	// Progress is a monotonic completion percentage derived from the stage.
	Progress  int           `json:"progress_percentage" example:"40"`
	Filename  string        `json:"filename"`
	Source    domain.Source `json:"source"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
	// Outputs lists the rendered artifact formats once available.
	Outputs []string `json:"outputs,omitempty"`
	// Error is populated only for failed requests.
	Error *StatusError `json:"error,omitempty"`
}

// StatusError describes why a failed request failed.
type StatusError struct {
	Kind    string `json:"kind"    example:"upstream_error"`
	Message string `json:"message"`
}

// Status godoc
// @ID          getStatus
// @Summary     Get request status
// @Description Returns lifecycle status, fine-grained stage, and progress for one request. The identifier may be the request UUID or, as a fallback, a filename or sender (most recent match wins).
// @Tags        Status
// @Produce     json
// @Security    ApiKeyAuth
//
// @Param       id  path  string  true  "Request ID (UUID), filename, or sender"
//
// @Success     200  {object}  handlers.StatusResponse
// @Failure     404  {object}  handlers.ErrorResponse  "Unknown request"
// @Router      /status/{id} [get]
func (h *Handlers) Status(c *gin.Context) {
	r, err := repo.GetRequest(c.Request.Context(), h.db, c.Param("id"))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			fail(c, http.StatusNotFound, ErrTypeNotFound, "no request matches the given identifier")
			return
		}
		fail(c, http.StatusInternalServerError, ErrTypeInternal, "status lookup failed")
		return
	}
	ok(c, http.StatusOK, statusOf(r))
}

// HistoryResponse wraps a page of recent requests.
type HistoryResponse struct {
	Requests []StatusResponse `json:"requests"`
	Count    int              `json:"count"`
}

// History godoc
// @ID          listHistory
// @Summary     List recent requests
// @Description Returns recent requests in reverse-chronological order. Filterable by sender, source, and status.
// @Tags        Status
// @Produce     json
// @Security    ApiKeyAuth
//
// @Param       limit   query  int     false  "Maximum rows returned"  minimum(1) maximum(100) default(20)
// @Param       sender  query  string  false  "Filter by sender identity"
// @Param       source  query  string  false  "Filter by intake channel"  Enums(api, email, chat)
// @Param       status  query  string  false  "Filter by lifecycle status"  Enums(uploaded, processing, delivered, failed)
//
// @Success     200  {object}  handlers.HistoryResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid filter"
// @Router      /history [get]
func (h *Handlers) History(c *gin.Context) {
	const (
		defaultLimit = 20
		maxLimit     = 100
	)
	limit := utils.ClampInt(utils.AtoiDefault(c.Query("limit"), defaultLimit), 1, maxLimit)

	f := repo.HistoryFilter{Sender: c.Query("sender")}
	if s := c.Query("source"); s != "" {
		src := domain.Source(s)
		if src != domain.SourceAPI && src != domain.SourceEmail && src != domain.SourceChat {
			fail(c, http.StatusBadRequest, ErrTypeValidation, "source must be one of api, email, chat")
			return
		}
		f.Source = src
	}
	if s := c.Query("status"); s != "" {
		st := domain.Status(s)
		switch st {
		case domain.StatusUploaded, domain.StatusProcessing, domain.StatusDelivered, domain.StatusFailed:
			f.Status = st
		default:
			fail(c, http.StatusBadRequest, ErrTypeValidation, "status must be one of uploaded, processing, delivered, failed")
			return
		}
	}

	recs, err := repo.ListHistory(c.Request.Context(), h.db, limit, f)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrTypeInternal, "history lookup failed")
		return
	}

	out := make([]StatusResponse, 0, len(recs))
	for i := range recs {
		out = append(out, statusOf(&recs[i]))
	}
	ok(c, http.StatusOK, HistoryResponse{Requests: out, Count: len(out)})
}

// FormatsResponse is the static capability document.
type FormatsResponse struct {
	OutputFormats []prefs.Format  `json:"output_formats"`
	Qualities     []prefs.Quality `json:"qualities"`
	FileTypes     []string        `json:"file_types"`
	MaxSizeBytes  int64           `json:"max_size_bytes" example:"10485760"`
}

// Formats godoc
// @ID          listFormats
// @Summary     List supported formats
// @Description Returns the accepted input file types, available output formats and quality tiers, and the upload size cap.
// @Tags        Status
// @Produce     json
// @Security    ApiKeyAuth
//
// @Success     200  {object}  handlers.FormatsResponse
// @Router      /formats [get]
func (h *Handlers) Formats(c *gin.Context) {
	ok(c, http.StatusOK, FormatsResponse{
		OutputFormats: prefs.AllFormats,
		Qualities:     []prefs.Quality{prefs.QualityStandard, prefs.QualityHigh, prefs.QualityPremium},
		FileTypes:     ingest.AllowedExtensions(),
		MaxSizeBytes:  h.maxUpload,
	})
}

// HealthResponse is the liveness probe body.
type HealthResponse struct {
	Status string `json:"status" example:"ok"`
	Time   string `json:"time"   example:"2026-08-27T10:15:04Z"`
}

// Health godoc
// @ID          health
// @Summary     Liveness probe
// @Tags        Status
// @Produce     json
//
// @Success     200  {object}  handlers.HealthResponse
// @Router      /health [get]
func (h *Handlers) Health(c *gin.Context) {
	ok(c, http.StatusOK, HealthResponse{
		Status: "ok",
		Time:   time.Now().UTC().Format(time.RFC3339),
	})
}

// statusOf projects a request record into the API status shape. Output refs
// stay internal; only the available format names are listed.
func statusOf(r *domain.Request) StatusResponse {
	resp := StatusResponse{
		RequestID: r.ID,
		Status:    r.Status,
		Stage:     r.Stage,
		Progress:  r.Progress(),
		Filename:  r.Filename,
		Source:    r.Source,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	for k := range r.Outputs {
		resp.Outputs = append(resp.Outputs, k)
	}
	sort.Strings(resp.Outputs)
	if r.Status == domain.StatusFailed {
		resp.Error = &StatusError{Kind: r.ErrorKind, Message: r.ErrorMessage}
	}
	return resp
}
