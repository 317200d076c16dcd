// Package domain defines the persistence models for document processing
// requests and API credentials. These types are mapped with GORM and are
// shared across the repository, stage, and HTTP layers.
package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/docmill/go-docintake-backend/internal/prefs"
)

// Source identifies the intake channel that produced a request.
type Source string

// Intake channels.
const (
	SourceAPI   Source = "api"
	SourceEmail Source = "email"
	SourceChat  Source = "chat"
)

// OutputRefs maps a rendered output format to its storage reference. It is
// persisted as a JSON text column.
type OutputRefs map[string]string

// Value implements driver.Valuer for the JSON text column.
func (o OutputRefs) Value() (driver.Value, error) {
	if o == nil {
		return "{}", nil
	}
	b, err := json.Marshal(o)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner for the JSON text column written by Value.
func (o *OutputRefs) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*o = OutputRefs{}
		return nil
	case string:
		return json.Unmarshal([]byte(v), o)
	case []byte:
		return json.Unmarshal(v, o)
	}
	return errors.New("domain: unsupported scan source for OutputRefs")
}

// Request is the persisted state of one submitted document through its full
// lifecycle. The record is created once at intake time and thereafter mutated
// only by pipeline stages through the conditional-update operations in the
// repo package; once Status is terminal the record is immutable.
//
// Fields:
//   - ID: stable UUID primary key, generated at creation, never reused.
//   - Sender: identity of the submitter (email address or client id).
//   - Source: intake channel ("api", "email", "chat").
//   - Filename / FileType / SizeBytes: metadata of the submitted document.
//   - StorageRef: blob store reference of the original document.
//   - Status: coarse user-facing state (uploaded/processing/delivered/failed).
//   - Stage: fine-grained pipeline position; drives progress reporting.
//   - Preferences: resolved rendering preferences (JSON column).
//   - Outputs: format → storage reference of rendered artifacts (JSON column).
//   - ErrorKind / ErrorMessage: populated only when Status is "failed".
type Request struct {
	ID           string            `json:"request_id"    gorm:"type:char(36);primaryKey"`
	Sender       string            `json:"sender"        gorm:"type:varchar(255);not null;index:idx_sender_file,priority:1"`
	Source       Source            `json:"source"        gorm:"type:varchar(16);not null;check:source IN ('api','email','chat')"`
	Filename     string            `json:"filename"      gorm:"type:varchar(255);not null;index:idx_sender_file,priority:2"`
	FileType     string            `json:"file_type"     gorm:"type:varchar(16);not null"`
	SizeBytes    int64             `json:"size_bytes"    gorm:"not null"`
	StorageRef   string            `json:"-"             gorm:"type:varchar(512)"`
	Status       Status            `json:"status"        gorm:"type:varchar(16);not null;index"`
	Stage        Stage             `json:"processing_stage" gorm:"type:varchar(16);not null"`
	Preferences  prefs.Preferences `json:"preferences"   gorm:"type:text"`
	Outputs      OutputRefs        `json:"outputs"       gorm:"type:text"`
	ErrorKind    string            `json:"error_kind,omitempty"    gorm:"type:varchar(32)"`
	ErrorMessage string            `json:"error_message,omitempty" gorm:"type:text"`
	CreatedAt    time.Time         `json:"created_at"    gorm:"index"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// TableName returns the database table name for Request.
func (Request) TableName() string { return "requests" }

// Progress returns the monotonic completion percentage for the record's
// current stage. Failed records report the progress of the stage they
// reached before failing.
func (r *Request) Progress() int { return r.Stage.Progress() }

// APIKey is the persisted credential record for one client key. Only the
// one-way SHA-256 hash of the key is stored; the raw key exists transiently
// at creation time and in the caller's hands.
//
// Fields:
//   - KeyHash: hex SHA-256 of the raw key, unique.
//   - ClientID: owning client identifier; rate-limit windows key on it.
//   - Name: human-readable label (e.g. "ci-pipeline").
//   - Active: soft revocation flag.
//   - Tier: rate-limit tier name bound to this key.
//   - Permissions: comma-separated permission set (e.g. "upload,read").
//   - UsageCount / LastUsedAt: updated on every authenticated call.
//   - ExpiresAt: optional hard expiry; nil means the key never expires.
type APIKey struct {
	ID          string     `json:"id"         gorm:"type:char(36);primaryKey"`
	KeyHash     string     `json:"-"          gorm:"type:char(64);not null;uniqueIndex"`
	ClientID    string     `json:"client_id"  gorm:"type:varchar(64);not null;index"`
	Name        string     `json:"name"       gorm:"type:varchar(128);not null"`
	Active      bool       `json:"active"     gorm:"not null;default:true"`
	Tier        string     `json:"tier"       gorm:"type:varchar(32);not null;default:'free'"`
	Permissions string     `json:"permissions" gorm:"type:varchar(255)"`
	UsageCount  int64      `json:"usage_count" gorm:"not null;default:0"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// TableName returns the database table name for APIKey.
func (APIKey) TableName() string { return "api_keys" }

// Expired reports whether the key has a hard expiry in the past.
func (k *APIKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && now.After(*k.ExpiresAt)
}
