// Package ingest normalizes heterogeneous intake channels into canonical
// document intakes and creates the initial request record for each.
//
// Three source shapes are accepted:
//   - API: one JSON payload with base64 content; strict validation.
//   - Email: a MIME message; every supported attachment becomes its own
//     intake, with text fallbacks so no inbound message is silently dropped.
//   - Chat: nothing is ingested; the caller receives upload instructions.
//
// Every intake yields a brand-new, independent request record and an
// analysis event on the pipeline queue — an email with three attachments
// produces three distinct request identifiers.
package ingest

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"path"
	"strings"

	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/docmill/go-docintake-backend/internal/domain"
	"github.com/docmill/go-docintake-backend/internal/pipeline"
	"github.com/docmill/go-docintake-backend/internal/prefs"
	"github.com/docmill/go-docintake-backend/internal/repo"
	"github.com/docmill/go-docintake-backend/internal/storage"
)

// Validation failures surfaced to the API layer.
var (
	// ErrMissingField: a required upload field is empty. The message is part
	// of the API contract and is matched by clients, capitalization included.
	ErrMissingField = errors.New("Missing required field")

	// ErrTooLarge: decoded content exceeds the configured maximum.
	ErrTooLarge = errors.New("file exceeds maximum allowed size")

	// ErrUnsupportedType: the filename extension is outside the allow-list.
	ErrUnsupportedType = errors.New("unsupported file type")

	// ErrBadContent: file content is not valid base64.
	ErrBadContent = errors.New("file content is not valid base64")
)

// allowedExtensions is the intake allow-list. Extensions are matched
// lowercase, without the leading dot.
var allowedExtensions = map[string]bool{
	"pdf":  true,
	"doc":  true,
	"docx": true,
	"txt":  true,
}

// AllowedExtensions returns the allow-list in stable order for the
// capability document.
func AllowedExtensions() []string { return []string{"pdf", "doc", "docx", "txt"} }

// FileExt extracts the lowercase extension of a filename without the dot.
func FileExt(filename string) string {
	return strings.ToLower(strings.TrimPrefix(path.Ext(filename), "."))
}

// SupportedFile reports whether the filename's extension is allowed.
func SupportedFile(filename string) bool {
	return allowedExtensions[FileExt(filename)]
}

// APIUpload is the decoded POST /v1/upload body.
type APIUpload struct {
	Filename    string          `json:"filename"`
	Content     string          `json:"content"` // base64
	Sender      string          `json:"sender"`
	Preferences *prefs.APIInput `json:"preferences"`
}

// Normalizer turns raw intake payloads into stored blobs, request records,
// and queued analysis events.
type Normalizer struct {
	DB       *gorm.DB
	Store    storage.BlobStore
	Queue    *pipeline.Queue
	MaxBytes int64
}

// FromAPI validates and ingests a direct API upload.
//
// Validation order matters for the error a caller sees: required fields
// first, then content decoding, then the size cap, then the type allow-list.
func (n *Normalizer) FromAPI(ctx context.Context, up APIUpload) (*domain.Request, error) {
	tr := otel.Tracer("ingest/Normalizer")
	ctx, span := tr.Start(ctx, "FromAPI",
		trace.WithAttributes(attribute.String("upload.filename", up.Filename)),
	)
	defer span.End()

	if strings.TrimSpace(up.Filename) == "" {
		return nil, fmt.Errorf("%w: filename", ErrMissingField)
	}
	if strings.TrimSpace(up.Content) == "" {
		return nil, fmt.Errorf("%w: content", ErrMissingField)
	}
	if strings.TrimSpace(up.Sender) == "" {
		return nil, fmt.Errorf("%w: sender", ErrMissingField)
	}

	data, err := base64.StdEncoding.DecodeString(up.Content)
	if err != nil {
		return nil, ErrBadContent
	}
	if n.MaxBytes > 0 && int64(len(data)) > n.MaxBytes {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrTooLarge, len(data), n.MaxBytes)
	}
	if !SupportedFile(up.Filename) {
		return nil, fmt.Errorf("%w: .%s", ErrUnsupportedType, FileExt(up.Filename))
	}

	return n.ingest(ctx, intake{
		sender:   up.Sender,
		source:   domain.SourceAPI,
		filename: up.Filename,
		data:     data,
		prefs:    prefs.FromAPI(up.Preferences),
	})
}

// intake is the canonical normalized document, whatever its origin.
type intake struct {
	sender   string
	source   domain.Source
	filename string
	data     []byte
	prefs    prefs.Preferences
}

// ingest stores the source blob, creates the request record, and queues the
// analysis event. The record exists before the event is published, so a
// fast worker always finds it.
func (n *Normalizer) ingest(ctx context.Context, in intake) (*domain.Request, error) {
	r, err := repo.CreateRequest(ctx, n.DB, &domain.Request{
		Sender:      in.sender,
		Source:      in.source,
		Filename:    in.filename,
		FileType:    FileExt(in.filename),
		SizeBytes:   int64(len(in.data)),
		Preferences: in.prefs,
	})
	if err != nil {
		return nil, err
	}

	ref, err := n.Store.Put(ctx, r.ID+"/source/"+in.filename, in.data)
	if err != nil {
		// The record exists but its payload does not; fail it immediately so
		// the caller's status query explains what happened.
		_ = repo.FailRequest(ctx, n.DB, r.ID, domain.ErrKindInternal, "failed to store source document")
		return nil, err
	}
	if err := n.DB.WithContext(ctx).Model(&domain.Request{}).
		Where("id = ?", r.ID).Update("storage_ref", ref).Error; err != nil {
		return nil, err
	}
	r.StorageRef = ref

	if err := n.Queue.Publish(ctx, pipeline.TopicAnalyze, r.ID); err != nil {
		_ = repo.FailRequest(ctx, n.DB, r.ID, domain.ErrKindInternal, "failed to queue analysis")
		return nil, err
	}
	return r, nil
}

// ChatInstructions is the response to chat upload attempts: chat cannot
// carry documents, so the handler points at the channels that can.
type ChatInstructions struct {
	Message  string `json:"message"`
	Upload   string `json:"upload_endpoint"`
	EmailTip string `json:"email_tip"`
}

// FromChat never ingests a document; it returns instructions for the two
// channels that accept one.
func (n *Normalizer) FromChat() ChatInstructions {
	return ChatInstructions{
		Message:  "Documents cannot be uploaded through chat.",
		Upload:   "POST /v1/upload with base64 content, filename, and sender",
		EmailTip: "Or email the document as an attachment (pdf, doc, docx, txt).",
	}
}
