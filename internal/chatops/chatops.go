// Package chatops handles the inbound chat-command webhook: a single slash
// command with help/upload/status/list subcommands, protected by shared-
// secret signature verification with a bounded replay window.
//
// The chat channel never carries documents itself; its job is visibility
// (status, history) and pointing users at the channels that do.
package chatops

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/docmill/go-docintake-backend/internal/ingest"
	"github.com/docmill/go-docintake-backend/internal/repo"
)

// Signature rejection reasons. Both map to HTTP 401 at the transport.
var (
	// ErrBadSignature: the computed HMAC does not match the presented one.
	ErrBadSignature = errors.New("webhook signature mismatch")

	// ErrStaleTimestamp: the signed timestamp is outside the replay window.
	ErrStaleTimestamp = errors.New("webhook timestamp outside replay window")
)

// signaturePrefix versions the signing scheme.
const signaturePrefix = "v0"

// VerifySignature checks an inbound webhook against the shared secret.
//
// The expected signature is "v0=" + hex(HMAC-SHA256(secret, "v0:<ts>:<body>")).
// Comparison is constant-time, and requests whose signed timestamp differs
// from now by more than tolerance are rejected before any HMAC work — a
// captured request cannot be replayed after the window closes.
func VerifySignature(secret, timestamp, signature string, body []byte, now time.Time, tolerance time.Duration) error {
	ts, err := strconv.ParseInt(strings.TrimSpace(timestamp), 10, 64)
	if err != nil {
		return ErrStaleTimestamp
	}
	age := now.Sub(time.Unix(ts, 0))
	if age > tolerance || age < -tolerance {
		return ErrStaleTimestamp
	}

	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%s:%s:", signaturePrefix, strings.TrimSpace(timestamp))
	mac.Write(body)
	expected := signaturePrefix + "=" + hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrBadSignature
	}
	return nil
}

// Command is one parsed slash-command invocation.
type Command struct {
	Sub  string // help|upload|status|list
	Arg  string // request id for "status"
	User string // invoking chat user, used as sender identity for lookups
}

// ParseCommand splits the slash-command text field into a Command. An empty
// or unknown subcommand resolves to "help" so every invocation gets a
// useful answer.
func ParseCommand(text, user string) Command {
	fields := strings.Fields(strings.TrimSpace(text))
	cmd := Command{Sub: "help", User: user}
	if len(fields) == 0 {
		return cmd
	}
	switch strings.ToLower(fields[0]) {
	case "upload":
		cmd.Sub = "upload"
	case "status":
		cmd.Sub = "status"
		if len(fields) > 1 {
			cmd.Arg = fields[1]
		}
	case "list":
		cmd.Sub = "list"
	}
	return cmd
}

// Responder executes chat commands against the lifecycle store. All its
// operations are read-only; chat can observe the pipeline but not mutate it.
type Responder struct {
	DB         *gorm.DB
	Normalizer *ingest.Normalizer
}

// Respond produces the plain-text reply for a command.
func (r *Responder) Respond(ctx context.Context, cmd Command) string {
	switch cmd.Sub {
	case "upload":
		in := r.Normalizer.FromChat()
		return fmt.Sprintf("%s\n%s\n%s", in.Message, in.Upload, in.EmailTip)
	case "status":
		return r.status(ctx, cmd.Arg)
	case "list":
		return r.list(ctx, cmd.User)
	default:
		return "Subcommands: help | upload | status <request-id> | list"
	}
}

func (r *Responder) status(ctx context.Context, ref string) string {
	if ref == "" {
		return "Usage: status <request-id>"
	}
	rec, err := repo.GetRequest(ctx, r.DB, ref)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Sprintf("No request found for %q.", ref)
		}
		return "Lookup failed, try again shortly."
	}
	return fmt.Sprintf("%s — %s (%s, %d%%)", rec.ID, rec.Status, rec.Stage, rec.Progress())
}

func (r *Responder) list(ctx context.Context, user string) string {
	recs, err := repo.ListHistory(ctx, r.DB, 5, repo.HistoryFilter{Sender: user})
	if err != nil {
		return "Lookup failed, try again shortly."
	}
	if len(recs) == 0 {
		return "No requests yet. Try: upload"
	}
	var b strings.Builder
	for _, rec := range recs {
		fmt.Fprintf(&b, "%s  %-10s %s\n", rec.ID, rec.Status, rec.Filename)
	}
	return strings.TrimRight(b.String(), "\n")
}
