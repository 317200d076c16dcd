// Email intake: walk a MIME message for attachments and synthesize text
// fallbacks when none exist.
package ingest

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/mail"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/docmill/go-docintake-backend/internal/domain"
	"github.com/docmill/go-docintake-backend/internal/prefs"
)

// FromEmail ingests an inbound raw RFC 5322 message. Every attachment with
// a supported extension becomes its own independent request. When the
// message carries no usable attachment, a text intake is synthesized from
// the body; when even the body is empty, a metadata intake (subject, sender,
// timestamp) stands in so no inbound event is silently dropped.
//
// Preferences are resolved from the plain-text body with the deterministic
// keyword scan in the prefs package and shared by every intake of the
// message.
func (n *Normalizer) FromEmail(ctx context.Context, raw []byte) ([]*domain.Request, error) {
	tr := otel.Tracer("ingest/Normalizer")
	ctx, span := tr.Start(ctx, "FromEmail")
	defer span.End()

	msg, err := mail.ReadMessage(strings.NewReader(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("parse email: %w", err)
	}

	sender := senderAddress(msg)
	subject := msg.Header.Get("Subject")
	body, attachments := walkMessage(msg)
	p := prefs.FromEmail(body)

	span.SetAttributes(
		attribute.String("email.sender", sender),
		attribute.Int("email.attachments", len(attachments)),
	)

	var out []*domain.Request
	for _, att := range attachments {
		r, err := n.ingest(ctx, intake{
			sender:   sender,
			source:   domain.SourceEmail,
			filename: att.filename,
			data:     att.data,
			prefs:    p,
		})
		if err != nil {
			return out, err
		}
		out = append(out, r)
	}
	if len(out) > 0 {
		return out, nil
	}

	// No supported attachment: fall back to the body text, then to metadata.
	data := []byte(strings.TrimSpace(body))
	filename := "email-body.txt"
	if len(data) == 0 {
		filename = "email-metadata.txt"
		data = []byte(fmt.Sprintf("Subject: %s\nFrom: %s\nReceived: %s\n",
			subject, sender, time.Now().UTC().Format(time.RFC3339)))
	}
	r, err := n.ingest(ctx, intake{
		sender:   sender,
		source:   domain.SourceEmail,
		filename: filename,
		data:     data,
		prefs:    p,
	})
	if err != nil {
		return nil, err
	}
	return []*domain.Request{r}, nil
}

// attachment is one decoded attachment part.
type attachment struct {
	filename string
	data     []byte
}

// senderAddress extracts the bare address from the From header, falling
// back to the raw header value when it does not parse.
func senderAddress(msg *mail.Message) string {
	from := msg.Header.Get("From")
	if addr, err := mail.ParseAddress(from); err == nil {
		return addr.Address
	}
	return strings.TrimSpace(from)
}

// walkMessage collects the plain-text body and all supported attachments.
// Non-multipart messages contribute their whole body as text.
func walkMessage(msg *mail.Message) (body string, atts []attachment) {
	mediaType, params, err := mime.ParseMediaType(msg.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") {
		b, _ := io.ReadAll(msg.Body)
		return string(decodeTransfer(b, msg.Header.Get("Content-Transfer-Encoding"))), nil
	}

	mr := multipart.NewReader(msg.Body, params["boundary"])
	var bodyParts []string
	for {
		part, err := mr.NextPart()
		if err != nil {
			break
		}
		data, err := io.ReadAll(part)
		if err != nil {
			continue
		}
		data = decodeTransfer(data, part.Header.Get("Content-Transfer-Encoding"))

		if name := partFilename(part); name != "" {
			if SupportedFile(name) {
				atts = append(atts, attachment{filename: name, data: data})
			}
			continue
		}

		ct := part.Header.Get("Content-Type")
		if ct == "" || strings.HasPrefix(ct, "text/plain") {
			bodyParts = append(bodyParts, string(data))
		}
	}
	return strings.Join(bodyParts, "\n"), atts
}

// partFilename resolves a part's attachment filename from its disposition
// or content-type parameters; empty for inline body parts.
func partFilename(part *multipart.Part) string {
	if name := part.FileName(); name != "" {
		return name
	}
	_, params, err := mime.ParseMediaType(part.Header.Get("Content-Type"))
	if err == nil {
		return params["name"]
	}
	return ""
}

// decodeTransfer reverses a base64 content-transfer-encoding; other
// encodings pass through untouched.
func decodeTransfer(data []byte, encoding string) []byte {
	if !strings.EqualFold(strings.TrimSpace(encoding), "base64") {
		return data
	}
	cleaned := strings.Map(func(r rune) rune {
		if r == '\r' || r == '\n' || r == ' ' {
			return -1
		}
		return r
	}, string(data))
	decoded, err := base64.StdEncoding.DecodeString(cleaned)
	if err != nil {
		return data
	}
	return decoded
}
