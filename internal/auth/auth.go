// Package auth implements the credential gate in front of the API: API key
// extraction in fixed precedence order, malformed-key screening, hash-based
// resolution against persisted key records, and the optional low-trust demo
// fallback for local development.
//
// Raw keys are never persisted. Keys are minted once (MintKey returns the
// raw value a single time) and resolved thereafter only by their SHA-256
// hash, so a database leak does not disclose usable credentials.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/docmill/go-docintake-backend/internal/domain"
	"github.com/docmill/go-docintake-backend/internal/repo"
)

// HeaderAPIKey is the dedicated API-key request header, checked after the
// Authorization bearer form.
const HeaderAPIKey = "X-API-Key"

// QueryAPIKey is the query-parameter fallback, checked last. It exists for
// clients that cannot set headers (e.g. webhook testers); header forms are
// preferred because URLs tend to end up in access logs.
const QueryAPIKey = "api_key"

// MinKeyLength is the minimum accepted raw key length. Anything shorter is
// rejected as malformed before any persistence lookup, so a trivially short
// probe never costs a database round trip.
const MinKeyLength = 20

// DemoClientID is the client identity granted when no credential is present
// and demo mode is enabled.
const DemoClientID = "demo"

// Authentication failures. Handlers map all three to HTTP 401; they stay
// distinct so logs and tests can tell a garbage key from a revoked one.
var (
	// ErrMissingCredential: no credential in any accepted position and demo
	// mode is off.
	ErrMissingCredential = errors.New("missing API credential")

	// ErrMalformedKey: a credential is present but fails the length/charset
	// screen. Returned without consulting storage.
	ErrMalformedKey = errors.New("malformed API key")

	// ErrInvalidKey: a well-formed key that is unknown, revoked, or expired.
	ErrInvalidKey = errors.New("invalid API key")
)

// Identity is the authenticated caller attached to the request context by
// the gate middleware.
type Identity struct {
	ClientID string
	Tier     string
	Demo     bool
}

// HashKey returns the hex SHA-256 digest of a raw key. This is the only form
// in which keys are stored or looked up.
func HashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// CredentialFromRequest extracts the raw credential from an HTTP request,
// inspecting sources in fixed precedence order:
//
//  1. Authorization: Bearer <key>
//  2. X-API-Key header
//  3. api_key query parameter
//
// The second return value is false when no source carries a credential.
func CredentialFromRequest(r *http.Request) (string, bool) {
	if h := r.Header.Get("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			if key := strings.TrimSpace(parts[1]); key != "" {
				return key, true
			}
		}
	}
	if key := strings.TrimSpace(r.Header.Get(HeaderAPIKey)); key != "" {
		return key, true
	}
	if key := strings.TrimSpace(r.URL.Query().Get(QueryAPIKey)); key != "" {
		return key, true
	}
	return "", false
}

// wellFormed reports whether raw passes the cheap pre-lookup screen:
// minimum length and a conservative URL-safe charset.
func wellFormed(raw string) bool {
	if len(raw) < MinKeyLength {
		return false
	}
	for _, r := range raw {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '_' || r == '-':
		default:
			return false
		}
	}
	return true
}

// Authenticate resolves a raw credential to an Identity.
//
// An empty credential yields the demo identity when demoMode is on and
// ErrMissingCredential otherwise. A present-but-malformed key fails with
// ErrMalformedKey before any storage lookup — even if a record with a
// matching hash somehow exists. Well-formed keys are resolved by hash;
// unknown, inactive, and expired keys all fail with ErrInvalidKey.
//
// Side effect: a successfully resolved key has its usage counter and
// last-used timestamp updated, whether or not the request later passes the
// rate limit.
func Authenticate(ctx context.Context, db *gorm.DB, raw string, demoMode bool, now time.Time) (Identity, error) {
	if raw == "" {
		if demoMode {
			return Identity{ClientID: DemoClientID, Tier: "free", Demo: true}, nil
		}
		return Identity{}, ErrMissingCredential
	}
	if !wellFormed(raw) {
		return Identity{}, ErrMalformedKey
	}

	k, err := repo.GetAPIKeyByHash(ctx, db, HashKey(raw))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return Identity{}, ErrInvalidKey
		}
		return Identity{}, err
	}
	if !k.Active || k.Expired(now) {
		return Identity{}, ErrInvalidKey
	}

	// Best-effort usage accounting; an accounting failure must not block an
	// otherwise valid caller.
	_ = repo.TouchAPIKey(ctx, db, k.ID, now)

	return Identity{ClientID: k.ClientID, Tier: k.Tier}, nil
}

// MintKey generates a fresh API key for clientID, persists its hash, and
// returns the raw key exactly once. The raw value is never recoverable from
// storage afterwards.
func MintKey(ctx context.Context, db *gorm.DB, clientID, name, tier, permissions string, expires *time.Time) (string, *domain.APIKey, error) {
	var buf [32]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", nil, err
	}
	raw := "dk_" + base64.RawURLEncoding.EncodeToString(buf[:])

	k := &domain.APIKey{
		KeyHash:     HashKey(raw),
		ClientID:    clientID,
		Name:        name,
		Active:      true,
		Tier:        tier,
		Permissions: permissions,
		ExpiresAt:   expires,
	}
	k, err := repo.CreateAPIKey(ctx, db, k)
	if err != nil {
		return "", nil, err
	}
	return raw, k, nil
}
