// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for API key
// records. Raw key material never reaches this package: callers resolve and
// store keys exclusively by their SHA-256 hash.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/docmill/go-docintake-backend/internal/domain"
)

// GetAPIKeyByHash fetches the key record matching the given hex SHA-256
// hash, or ErrNotFound when no such key exists. Active/expiry checks are the
// caller's responsibility (see the auth package) so that "unknown" and
// "revoked" can be reported distinctly in logs.
func GetAPIKeyByHash(ctx context.Context, db *gorm.DB, hash string) (*domain.APIKey, error) {
	var k domain.APIKey
	if err := db.WithContext(ctx).Where("key_hash = ?", hash).First(&k).Error; err != nil {
		return nil, err
	}
	return &k, nil
}

// TouchAPIKey increments the key's usage counter and stamps last_used_at.
// The increment runs as a single UPDATE with a SQL expression so concurrent
// calls for the same key never lose counts. It is invoked on every
// authenticated call, whether or not the request ultimately succeeds.
func TouchAPIKey(ctx context.Context, db *gorm.DB, id string, now time.Time) error {
	return db.WithContext(ctx).
		Model(&domain.APIKey{}).
		Where("id = ?", id).
		UpdateColumns(map[string]any{
			"usage_count":  gorm.Expr("usage_count + 1"),
			"last_used_at": now,
		}).Error
}

// CreateAPIKey inserts a new key record. The caller supplies the hash of the
// raw key (see auth.MintKey); this function only persists it. The record ID
// is a fresh UUID and CreatedAt is stamped in UTC.
func CreateAPIKey(ctx context.Context, db *gorm.DB, k *domain.APIKey) (*domain.APIKey, error) {
	k.ID = uuid.NewString()
	k.CreatedAt = time.Now().UTC()
	if err := db.WithContext(ctx).Create(k).Error; err != nil {
		return nil, err
	}
	return k, nil
}
