// Package repo implements the data persistence layer. This file provides
// repository functions for the Bot model.
//
// Functions follow the thin-repository approach: no business rules, only
// persistence and query composition. Missing rows surface as ErrNotFound
// (an alias of gorm.ErrRecordNotFound); other DB errors are propagated.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/bot-dispatch/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = gorm.ErrRecordNotFound

// CreateBot inserts a bot whose token has already been sealed by the caller.
func CreateBot(ctx context.Context, db *gorm.DB, ownerID, name, encryptedToken string) (*domain.Bot, error) {
	now := time.Now().UTC()
	b := &domain.Bot{
		ID:             uuid.NewString(),
		Name:           name,
		OwnerID:        ownerID,
		EncryptedToken: encryptedToken,
		Active:         true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := db.WithContext(ctx).Create(b).Error; err != nil {
		return nil, err
	}
	return b, nil
}

// GetBot fetches a bot by id regardless of owner.
func GetBot(ctx context.Context, db *gorm.DB, id string) (*domain.Bot, error) {
	var b domain.Bot
	if err := db.WithContext(ctx).Where("id = ?", id).First(&b).Error; err != nil {
		return nil, err
	}
	return &b, nil
}

// ListBots returns bots ordered newest first. An empty ownerID lists every
// bot (admin view).
func ListBots(ctx context.Context, db *gorm.DB, ownerID string, offset, limit int) ([]domain.Bot, error) {
	var out []domain.Bot
	q := db.WithContext(ctx).Order("created_at desc, id desc")
	if ownerID != "" {
		q = q.Where("owner_id = ?", ownerID)
	}
	if limit > 0 {
		q = q.Offset(offset).Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

// CountBots returns the number of bots visible for ownerID (all when empty).
func CountBots(ctx context.Context, db *gorm.DB, ownerID string) (int64, error) {
	var total int64
	q := db.WithContext(ctx).Model(&domain.Bot{})
	if ownerID != "" {
		q = q.Where("owner_id = ?", ownerID)
	}
	err := q.Count(&total).Error
	return total, err
}

// DeleteBot removes a bot. It returns ErrNotFound when no row matched.
func DeleteBot(ctx context.Context, db *gorm.DB, id string) error {
	res := db.WithContext(ctx).Where("id = ?", id).Delete(&domain.Bot{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchBotConnected records the time of the latest successful platform login.
func TouchBotConnected(ctx context.Context, db *gorm.DB, id string, at time.Time) error {
	return db.WithContext(ctx).
		Model(&domain.Bot{}).
		Where("id = ?", id).
		Updates(map[string]any{"last_connected_at": at.UTC(), "updated_at": time.Now().UTC()}).Error
}
