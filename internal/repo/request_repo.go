// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file is the request lifecycle store: it owns every
// mutation of a Request row and enforces the state-machine invariants.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
//
// Mutation discipline:
//   - CreateRequest is the only way a row comes into existence.
//   - AdvanceRequest applies a stage transition as a single conditional
//     UPDATE guarded on the current stage. A guard miss is reported as
//     ErrAlreadyAdvanced, which is the idempotency guard against duplicate
//     or out-of-order event redelivery: replaying the same transition twice
//     is a harmless no-op.
//   - FailRequest moves any non-terminal record to "failed"; terminal
//     records reject all further mutation attempts (ErrTerminal).
//
// Error semantics:
//   - When a request is not found, functions return ErrNotFound
//     (alias of gorm.ErrRecordNotFound).
//   - On DB errors, the raw gorm error is propagated.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/docmill/go-docintake-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the stage and handler layers.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrAlreadyAdvanced is returned by AdvanceRequest when the conditional
// update matched no row because the record is no longer at the expected
// prior stage. Callers treat it as "someone else already did this" and
// skip their side effects.
var ErrAlreadyAdvanced = errors.New("request already advanced past expected stage")

// ErrTerminal is returned when a mutation targets a record that has reached
// a terminal status (delivered or failed).
var ErrTerminal = errors.New("request is in a terminal status")

// ErrBadTransition is returned when the requested stage pair is not an edge
// of the lifecycle graph. It indicates a programming error in a stage, not a
// race, so it is never silently swallowed.
var ErrBadTransition = errors.New("illegal stage transition")

// CreateRequest inserts a new Request row for a normalized document intake.
// It assigns a fresh UUID, stamps CreatedAt in UTC, and forces the initial
// status/stage to "uploaded" regardless of what the caller set.
//
// On success the passed record is updated in place and returned.
func CreateRequest(ctx context.Context, db *gorm.DB, r *domain.Request) (*domain.Request, error) {
	r.ID = uuid.NewString()
	r.Status = domain.StatusUploaded
	r.Stage = domain.StageUploaded
	r.CreatedAt = time.Now().UTC()
	if r.Outputs == nil {
		r.Outputs = domain.OutputRefs{}
	}
	if err := db.WithContext(ctx).Create(r).Error; err != nil {
		return nil, err
	}
	return r, nil
}

// AdvanceRequest applies the transition expectPrior→next to the request with
// the given id, together with any extra column updates in attrs (keyed by
// column name). The transition is a single conditional UPDATE: it only takes
// effect when the row's current stage still equals expectPrior and the row is
// not terminal.
//
// Outcomes:
//   - nil: the transition was applied; the returned record reflects it.
//   - ErrBadTransition: next is not the lifecycle successor of expectPrior.
//   - ErrNotFound: no record with this id exists.
//   - ErrTerminal: the record is already delivered or failed.
//   - ErrAlreadyAdvanced: the record exists but moved past expectPrior;
//     the caller's event is a duplicate and must be dropped.
func AdvanceRequest(ctx context.Context, db *gorm.DB, id string, expectPrior, next domain.Stage, attrs map[string]any) (*domain.Request, error) {
	if !expectPrior.CanAdvance(next) {
		return nil, ErrBadTransition
	}

	updates := make(map[string]any, len(attrs)+2)
	for k, v := range attrs {
		updates[k] = v
	}
	updates["stage"] = next
	updates["status"] = domain.StatusForStage(next)

	res := db.WithContext(ctx).
		Model(&domain.Request{}).
		Where("id = ? AND stage = ? AND status NOT IN ?", id, expectPrior,
			[]domain.Status{domain.StatusDelivered, domain.StatusFailed}).
		Updates(updates)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		// Distinguish "gone" from "raced": reload the row once.
		cur, err := getByID(ctx, db, id)
		if err != nil {
			return nil, err
		}
		if cur.Status.Terminal() {
			return nil, ErrTerminal
		}
		return nil, ErrAlreadyAdvanced
	}
	return getByID(ctx, db, id)
}

// FailRequest unconditionally moves the request to the failed terminal state
// with the given error kind and message, unless the record is already
// terminal. Terminal records are left untouched and ErrTerminal is returned
// so a late failure cannot overwrite a delivered result.
func FailRequest(ctx context.Context, db *gorm.DB, id, kind, message string) error {
	res := db.WithContext(ctx).
		Model(&domain.Request{}).
		Where("id = ? AND status NOT IN ?", id,
			[]domain.Status{domain.StatusDelivered, domain.StatusFailed}).
		Updates(map[string]any{
			"status":        domain.StatusFailed,
			"error_kind":    kind,
			"error_message": message,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := getByID(ctx, db, id); err != nil {
			return err
		}
		return ErrTerminal
	}
	return nil
}

// GetRequest resolves a request by reference. The primary lookup is by id;
// when that misses, a secondary lookup by filename or sender is attempted
// with a most-recent-timestamp tie-break before reporting ErrNotFound.
func GetRequest(ctx context.Context, db *gorm.DB, ref string) (*domain.Request, error) {
	r, err := getByID(ctx, db, ref)
	if err == nil {
		return r, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	var fallback domain.Request
	err = db.WithContext(ctx).
		Where("filename = ? OR sender = ?", ref, ref).
		Order("created_at desc").
		First(&fallback).Error
	if err != nil {
		return nil, err
	}
	return &fallback, nil
}

// HistoryFilter narrows a ListHistory query. Zero-valued fields are ignored.
type HistoryFilter struct {
	Sender string
	Source domain.Source
	Status domain.Status
}

// ListHistory returns up to limit requests in reverse-chronological order.
// It is strictly read-only; the status/history API must never mutate records.
func ListHistory(ctx context.Context, db *gorm.DB, limit int, f HistoryFilter) ([]domain.Request, error) {
	if limit <= 0 {
		limit = 20
	}
	q := db.WithContext(ctx).Model(&domain.Request{})
	if f.Sender != "" {
		q = q.Where("sender = ?", f.Sender)
	}
	if f.Source != "" {
		q = q.Where("source = ?", f.Source)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	var out []domain.Request
	err := q.Order("created_at desc").Limit(limit).Find(&out).Error
	return out, err
}

// getByID fetches a request by primary key.
func getByID(ctx context.Context, db *gorm.DB, id string) (*domain.Request, error) {
	var r domain.Request
	if err := db.WithContext(ctx).Where("id = ?", id).First(&r).Error; err != nil {
		return nil, err
	}
	return &r, nil
}
