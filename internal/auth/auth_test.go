package auth

import (
	"context"
	"errors"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/docmill/go-docintake-backend/internal/repo"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := repo.OpenSQLite(filepath.Join(t.TempDir(), "auth.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	return db
}

func TestCredentialFromRequest_PrecedenceOrder(t *testing.T) {
	cases := []struct {
		name     string
		bearer   string
		header   string
		query    string
		want     string
		wantFind bool
	}{
		{"bearer wins over all", "top-secret-bearer-key", "header-key", "query-key", "top-secret-bearer-key", true},
		{"header wins over query", "", "header-key", "query-key", "header-key", true},
		{"query as last resort", "", "", "query-key", "query-key", true},
		{"nothing present", "", "", "", "", false},
		{"empty bearer falls through", " ", "header-key", "", "header-key", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			url := "/v1/status/x"
			if tc.query != "" {
				url += "?api_key=" + tc.query
			}
			req := httptest.NewRequest("GET", url, nil)
			if tc.bearer != "" {
				req.Header.Set("Authorization", "Bearer "+tc.bearer)
			}
			if tc.header != "" {
				req.Header.Set(HeaderAPIKey, tc.header)
			}
			got, found := CredentialFromRequest(req)
			if got != tc.want || found != tc.wantFind {
				t.Fatalf("got (%q, %v); want (%q, %v)", got, found, tc.want, tc.wantFind)
			}
		})
	}
}

func TestAuthenticate_MalformedBeforeLookup(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	now := time.Now()

	cases := []struct {
		name string
		raw  string
	}{
		{"too short", "short-key"},
		{"illegal characters", "valid-length-but-bad!chars-here"},
		{"whitespace inside", "valid length with spaces aa"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Authenticate(ctx, db, tc.raw, false, now)
			if !errors.Is(err, ErrMalformedKey) {
				t.Fatalf("err = %v; want ErrMalformedKey", err)
			}
		})
	}
}

func TestAuthenticate_MissingCredential(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	// Demo mode off: hard failure.
	if _, err := Authenticate(ctx, db, "", false, time.Now()); !errors.Is(err, ErrMissingCredential) {
		t.Fatalf("err = %v; want ErrMissingCredential", err)
	}

	// Demo mode on: low-trust fallback identity.
	id, err := Authenticate(ctx, db, "", true, time.Now())
	if err != nil {
		t.Fatalf("demo authenticate: %v", err)
	}
	if id.ClientID != DemoClientID || !id.Demo || id.Tier != "free" {
		t.Fatalf("demo identity = %+v", id)
	}
}

func TestAuthenticate_MintedKeyRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	now := time.Now()

	raw, k, err := MintKey(ctx, db, "acme", "ci", "premium", "upload,read", nil)
	if err != nil {
		t.Fatalf("MintKey: %v", err)
	}
	if !strings.HasPrefix(raw, "dk_") || len(raw) < MinKeyLength {
		t.Fatalf("raw key %q has unexpected shape", raw)
	}
	if k.KeyHash == raw {
		t.Fatal("raw key must not be persisted verbatim")
	}

	id, err := Authenticate(ctx, db, raw, false, now)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if id.ClientID != "acme" || id.Tier != "premium" || id.Demo {
		t.Fatalf("identity = %+v", id)
	}

	// Usage accounting is a side effect of successful resolution.
	rec, err := repo.GetAPIKeyByHash(ctx, db, k.KeyHash)
	if err != nil {
		t.Fatalf("GetAPIKeyByHash: %v", err)
	}
	if rec.UsageCount != 1 {
		t.Fatalf("usage_count = %d; want 1", rec.UsageCount)
	}
}

func TestAuthenticate_UnknownRevokedExpired(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	now := time.Now()

	// Unknown but well-formed.
	if _, err := Authenticate(ctx, db, "dk_wellformedbutunknownkey123", false, now); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("unknown key err = %v; want ErrInvalidKey", err)
	}

	// Revoked.
	rawRevoked, kRevoked, err := MintKey(ctx, db, "acme", "old", "free", "", nil)
	if err != nil {
		t.Fatalf("MintKey: %v", err)
	}
	if err := db.Model(kRevoked).Update("active", false).Error; err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := Authenticate(ctx, db, rawRevoked, false, now); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("revoked key err = %v; want ErrInvalidKey", err)
	}

	// Expired.
	past := now.Add(-time.Hour)
	rawExpired, _, err := MintKey(ctx, db, "acme", "expired", "free", "", &past)
	if err != nil {
		t.Fatalf("MintKey: %v", err)
	}
	if _, err := Authenticate(ctx, db, rawExpired, false, now); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expired key err = %v; want ErrInvalidKey", err)
	}
}

func TestHashKey_StableHex(t *testing.T) {
	h := HashKey("dk_example")
	if len(h) != 64 {
		t.Fatalf("hash length = %d; want 64", len(h))
	}
	if h != HashKey("dk_example") {
		t.Fatal("hash must be deterministic")
	}
	if h == HashKey("dk_other") {
		t.Fatal("distinct keys must not collide trivially")
	}
}
