package chatops

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"testing"
	"time"
)

const testSecret = "shared-webhook-secret"

// sign produces the signature a legitimate sender would attach.
func sign(secret, ts string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "v0:%s:", ts)
	mac.Write(body)
	return "v0=" + hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature_Valid(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	ts := strconv.FormatInt(now.Unix(), 10)
	body := []byte("text=status+abc&user_name=dana")

	if err := VerifySignature(testSecret, ts, sign(testSecret, ts, body), body, now, 5*time.Minute); err != nil {
		t.Fatalf("valid signature rejected: %v", err)
	}
}

func TestVerifySignature_Tampered(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	ts := strconv.FormatInt(now.Unix(), 10)
	body := []byte("text=list&user_name=dana")
	sig := sign(testSecret, ts, body)

	cases := []struct {
		name string
		ts   string
		sig  string
		body []byte
	}{
		{"body changed", ts, sig, []byte("text=list&user_name=mallory")},
		{"signature changed", ts, "v0=" + hex.EncodeToString(make([]byte, 32)), body},
		{"wrong secret", ts, sign("other-secret", ts, body), body},
		{"timestamp swapped after signing", strconv.FormatInt(now.Unix()-60, 10), sig, body},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := VerifySignature(testSecret, tc.ts, tc.sig, tc.body, now, 5*time.Minute)
			if !errors.Is(err, ErrBadSignature) {
				t.Fatalf("err = %v; want ErrBadSignature", err)
			}
		})
	}
}

func TestVerifySignature_StaleTimestamp(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	body := []byte("text=help")
	tolerance := 5 * time.Minute

	cases := []struct {
		name string
		ts   string
	}{
		{"too old", strconv.FormatInt(now.Add(-6*time.Minute).Unix(), 10)},
		{"too far in future", strconv.FormatInt(now.Add(6*time.Minute).Unix(), 10)},
		{"not a number", "yesterday"},
		{"empty", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			// Even a correctly signed request is rejected outside the window.
			err := VerifySignature(testSecret, tc.ts, sign(testSecret, tc.ts, body), body, now, tolerance)
			if !errors.Is(err, ErrStaleTimestamp) {
				t.Fatalf("err = %v; want ErrStaleTimestamp", err)
			}
		})
	}
}

func TestVerifySignature_EdgeOfWindowAccepted(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	ts := strconv.FormatInt(now.Add(-5*time.Minute).Unix(), 10)
	body := []byte("text=help")

	if err := VerifySignature(testSecret, ts, sign(testSecret, ts, body), body, now, 5*time.Minute); err != nil {
		t.Fatalf("signature at window edge rejected: %v", err)
	}
}

func TestParseCommand(t *testing.T) {
	cases := []struct {
		text string
		want Command
	}{
		{"", Command{Sub: "help", User: "dana"}},
		{"help", Command{Sub: "help", User: "dana"}},
		{"upload", Command{Sub: "upload", User: "dana"}},
		{"UPLOAD", Command{Sub: "upload", User: "dana"}},
		{"status abc-123", Command{Sub: "status", Arg: "abc-123", User: "dana"}},
		{"status", Command{Sub: "status", User: "dana"}},
		{"list", Command{Sub: "list", User: "dana"}},
		{"dance", Command{Sub: "help", User: "dana"}},
		{"  status   xyz  ", Command{Sub: "status", Arg: "xyz", User: "dana"}},
	}
	for _, tc := range cases {
		if got := ParseCommand(tc.text, "dana"); got != tc.want {
			t.Fatalf("ParseCommand(%q) = %+v; want %+v", tc.text, got, tc.want)
		}
	}
}
