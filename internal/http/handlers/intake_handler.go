// Intake HTTP handlers.
//
// This file exposes the endpoints that bring documents into the system:
//   - POST /upload        (direct API upload, base64 JSON payload)
//   - POST /intake/email  (raw RFC 5322 message, e.g. from an inbound
//     email webhook)
//   - POST /chat/webhook  (signature-verified chat slash command)
//
// Handlers are transport-thin: they validate input, call the normalizer or
// chat responder, and translate results into HTTP responses.
package handlers

import (
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/docmill/go-docintake-backend/internal/chatops"
	"github.com/docmill/go-docintake-backend/internal/config"
	"github.com/docmill/go-docintake-backend/internal/http/middleware"
	"github.com/docmill/go-docintake-backend/internal/ingest"
	"github.com/docmill/go-docintake-backend/internal/sysutil"
)

// Handlers groups the HTTP endpoints of the intake and status API. It depends
// on the normalizer and the lifecycle store; rendering and analysis never
// surface here directly.
type Handlers struct {
	db         *gorm.DB
	normalizer *ingest.Normalizer
	chat       *chatops.Responder

	chatSecret    string
	chatTolerance time.Duration
	maxUpload     int64
	basePath      string
	rate          config.RateLimitConfig
}

// New constructs a Handlers instance bound to the given collaborators.
func New(db *gorm.DB, n *ingest.Normalizer, chat *chatops.Responder, cfg config.Config) *Handlers {
	return &Handlers{
		db:            db,
		normalizer:    n,
		chat:          chat,
		chatSecret:    cfg.Chat.SigningSecret,
		chatTolerance: cfg.Chat.ReplayTolerance,
		maxUpload:     cfg.UploadMaxBytes,
		basePath:      cfg.APIBasePath,
		rate:          cfg.Rate,
	}
}

// UploadResponse is the 202 acceptance envelope for a direct upload.
type UploadResponse struct {
	RequestID string `json:"request_id" example:"141add05-4415-4938-b5a1-17e0d3171aff"`
	Status    string `json:"status"     example:"accepted"`
	Message   string `json:"message"    example:"document accepted for processing"`
	// EstimatedSeconds is a coarse processing estimate in seconds, not a
	// promise.
	EstimatedSeconds int `json:"estimated_processing_time" example:"30"`
}

// Upload godoc
// @ID          uploadDocument
// @Summary     Submit a document for analysis
// @Description Accepts a base64-encoded document and queues it for asynchronous analysis. Returns 202 with the request identifier to poll.
// @Tags        Intake
// @Accept      json
// @Produce     json
// @Security    ApiKeyAuth
//
// @Param       body  body  ingest.APIUpload  true  "Upload payload"
//
// @Success     202  {object}  handlers.UploadResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Validation failure"
// @Failure     401  {object}  handlers.ErrorResponse  "Missing or invalid API key"
// @Failure     413  {object}  handlers.ErrorResponse  "Payload too large"
// @Failure     429  {object}  handlers.ErrorResponse  "Quota exceeded"
// @Router      /upload [post]
func (h *Handlers) Upload(c *gin.Context) {
	var up ingest.APIUpload
	if err := c.ShouldBindJSON(&up); err != nil {
		// The wire cap sits above the decoded-content cap to leave room for
		// the base64 and JSON envelope; a body hitting it is oversized, not
		// malformed.
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			fail(c, http.StatusRequestEntityTooLarge, ErrTypeValidation, "request body exceeds the upload size limit")
			return
		}
		fail(c, http.StatusBadRequest, ErrTypeValidation, "request body must be valid JSON")
		return
	}

	r, err := h.normalizer.FromAPI(c.Request.Context(), up)
	if err != nil {
		switch {
		case errors.Is(err, ingest.ErrTooLarge):
			fail(c, http.StatusRequestEntityTooLarge, ErrTypeValidation, err.Error())
		case errors.Is(err, ingest.ErrMissingField),
			errors.Is(err, ingest.ErrBadContent),
			errors.Is(err, ingest.ErrUnsupportedType):
			fail(c, http.StatusBadRequest, ErrTypeValidation, err.Error())
		default:
			fail(c, http.StatusInternalServerError, ErrTypeInternal, "failed to accept document")
		}
		return
	}

	middleware.LoggerFrom(c).Info().
		Str("request_id", r.ID).
		Str("filename", r.Filename).
		Int64("size_bytes", r.SizeBytes).
		Msg("document accepted")

	ok(c, http.StatusAccepted, UploadResponse{
		RequestID:        r.ID,
		Status:           "accepted",
		Message:          "document accepted for processing",
		EstimatedSeconds: estimateSeconds(r.SizeBytes),
	})
}

// EmailIntakeResponse is the 202 envelope for an inbound email. One message
// can yield several requests (one per supported attachment).
type EmailIntakeResponse struct {
	RequestIDs []string `json:"request_ids"`
	Message    string   `json:"message" example:"2 documents accepted for processing"`
}

// EmailIntake godoc
// @ID          intakeEmail
// @Summary     Ingest an inbound email
// @Description Accepts a raw RFC 5322 message (as delivered by an inbound-mail webhook). Every supported attachment becomes its own request; a message without attachments yields a single text-fallback request.
// @Tags        Intake
// @Accept      plain
// @Produce     json
// @Security    ApiKeyAuth
//
// @Success     202  {object}  handlers.EmailIntakeResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Unparseable message"
// @Router      /intake/email [post]
func (h *Handlers) EmailIntake(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil || len(raw) == 0 {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			fail(c, http.StatusRequestEntityTooLarge, ErrTypeValidation, "message exceeds the upload size limit")
			return
		}
		fail(c, http.StatusBadRequest, ErrTypeValidation, "request body must carry a raw email message")
		return
	}

	reqs, err := h.normalizer.FromEmail(c.Request.Context(), raw)
	if err != nil {
		if len(reqs) == 0 {
			fail(c, http.StatusBadRequest, ErrTypeValidation, "message could not be parsed")
			return
		}
		// Partial intake: some attachments were accepted before the failure.
		fail(c, http.StatusInternalServerError, ErrTypeInternal, "message was only partially ingested")
		return
	}

	ids := make([]string, 0, len(reqs))
	for _, r := range reqs {
		ids = append(ids, r.ID)
	}
	msg := "1 document accepted for processing"
	if len(ids) != 1 {
		msg = strconv.Itoa(len(ids)) + " documents accepted for processing"
	}
	ok(c, http.StatusAccepted, EmailIntakeResponse{RequestIDs: ids, Message: msg})
}

// Chat webhook signature headers, Slack-compatible.
const (
	chatTimestampHeader = "X-Slack-Request-Timestamp"
	chatSignatureHeader = "X-Slack-Signature"
)

// ChatWebhookResponse is the reply payload rendered in the chat client.
type ChatWebhookResponse struct {
	ResponseType string `json:"response_type" example:"ephemeral"`
	Text         string `json:"text"`
}

// ChatWebhook godoc
// @ID          chatWebhook
// @Summary     Chat slash-command webhook
// @Description Verifies the shared-secret signature and executes one slash command (help, upload, status, list). Replies are ephemeral chat messages.
// @Tags        Intake
// @Accept      x-www-form-urlencoded
// @Produce     json
//
// @Success     200  {object}  handlers.ChatWebhookResponse
// @Failure     401  {object}  handlers.ErrorResponse  "Bad signature or stale timestamp"
// @Router      /chat/webhook [post]
func (h *Handlers) ChatWebhook(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		fail(c, http.StatusBadRequest, ErrTypeValidation, "unreadable request body")
		return
	}

	err = chatops.VerifySignature(
		h.chatSecret,
		c.GetHeader(chatTimestampHeader),
		c.GetHeader(chatSignatureHeader),
		body,
		time.Now(),
		h.chatTolerance,
	)
	if err != nil {
		msg := "signature verification failed"
		if errors.Is(err, chatops.ErrStaleTimestamp) {
			msg = "request timestamp outside the accepted window"
		}
		fail(c, http.StatusUnauthorized, ErrTypeAuth, msg)
		return
	}

	form, err := url.ParseQuery(string(body))
	if err != nil {
		fail(c, http.StatusBadRequest, ErrTypeValidation, "body must be form-encoded")
		return
	}

	user := sysutil.FirstNonEmpty(form.Get("user_name"), form.Get("user_id"), "unknown")
	cmd := chatops.ParseCommand(form.Get("text"), user)
	ok(c, http.StatusOK, ChatWebhookResponse{
		ResponseType: "ephemeral",
		Text:         h.chat.Respond(c.Request.Context(), cmd),
	})
}

// estimateSeconds derives the coarse completion estimate surfaced in the
// acceptance envelope. Dominated by the analysis engine round trip, with a
// small per-megabyte extraction allowance.
func estimateSeconds(sizeBytes int64) int {
	est := 20 + int(sizeBytes/(1<<20))*5
	if est > 120 {
		est = 120
	}
	return est
}
