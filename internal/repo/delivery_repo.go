// Package repo implements the data persistence layer. This file provides
// repository functions for DeliveryRecord.
//
// Records are created by the producer and mutated only through RecordAttempt
// and MarkDead. Both updates are guarded in SQL so a terminal record (SENT or
// DEAD) is never touched again, and the attempts counter is incremented in
// the statement itself rather than read-modify-written.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/bot-dispatch/internal/domain"
)

// NewDelivery builds an unsaved QUEUED record with a fresh id.
func NewDelivery(botID string, guildID *string, channelID, content string) *domain.DeliveryRecord {
	now := time.Now().UTC()
	return &domain.DeliveryRecord{
		ID:        uuid.NewString(),
		BotID:     botID,
		GuildID:   guildID,
		ChannelID: channelID,
		Content:   content,
		Status:    domain.StatusQueued,
		Attempts:  0,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// CreateDelivery inserts rec as-is.
func CreateDelivery(ctx context.Context, db *gorm.DB, rec *domain.DeliveryRecord) error {
	return db.WithContext(ctx).Create(rec).Error
}

// GetDelivery fetches a record by id.
func GetDelivery(ctx context.Context, db *gorm.DB, id string) (*domain.DeliveryRecord, error) {
	var d domain.DeliveryRecord
	if err := db.WithContext(ctx).Where("id = ?", id).First(&d).Error; err != nil {
		return nil, err
	}
	return &d, nil
}

// RecordAttempt stores the outcome of one processing attempt: status becomes
// to, attempts is incremented by one and error is replaced by errMsg (nil
// clears it). It reports whether a row was updated; false means the record is
// missing or already terminal.
func RecordAttempt(ctx context.Context, db *gorm.DB, id string, to domain.DeliveryStatus, errMsg *string) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.DeliveryRecord{}).
		Where("id = ? AND status IN ?", id, []domain.DeliveryStatus{domain.StatusQueued, domain.StatusFailed}).
		Updates(map[string]any{
			"status":     to,
			"attempts":   gorm.Expr("attempts + 1"),
			"error":      errMsg,
			"updated_at": time.Now().UTC(),
		})
	return res.RowsAffected > 0, res.Error
}

// MarkDead moves a non-terminal record to DEAD without counting an attempt.
// reason is only written when the record carries no error yet.
func MarkDead(ctx context.Context, db *gorm.DB, id, reason string) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.DeliveryRecord{}).
		Where("id = ? AND status IN ?", id, []domain.DeliveryStatus{domain.StatusQueued, domain.StatusFailed}).
		Updates(map[string]any{
			"status":     domain.StatusDead,
			"error":      gorm.Expr("COALESCE(error, ?)", reason),
			"updated_at": time.Now().UTC(),
		})
	return res.RowsAffected > 0, res.Error
}

// QueuedCursor marks the last record a sweep page ended on.
type QueuedCursor struct {
	CreatedAt time.Time
	ID        string
}

// ListOrphanedQueued returns QUEUED records created before olderThan, oldest
// first, at most limit rows. A non-nil after resumes strictly past that
// record in (created_at, id) order.
func ListOrphanedQueued(ctx context.Context, db *gorm.DB, olderThan time.Time, after *QueuedCursor, limit int) ([]domain.DeliveryRecord, error) {
	var out []domain.DeliveryRecord
	q := db.WithContext(ctx).
		Where("status = ? AND created_at < ?", domain.StatusQueued, olderThan.UTC())
	if after != nil {
		at := after.CreatedAt.UTC()
		q = q.Where("(created_at > ? OR (created_at = ? AND id > ?))", at, at, after.ID)
	}
	err := q.Order("created_at ASC, id ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// CountDeliveries returns the number of records for botID.
func CountDeliveries(ctx context.Context, db *gorm.DB, botID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.DeliveryRecord{}).
		Where("bot_id = ?", botID).
		Count(&total).Error
	return total, err
}

// ListDeliveriesPage returns records for botID newest first.
func ListDeliveriesPage(ctx context.Context, db *gorm.DB, botID string, offset, limit int) ([]domain.DeliveryRecord, error) {
	var out []domain.DeliveryRecord
	err := db.WithContext(ctx).
		Where("bot_id = ?", botID).
		Order("created_at DESC, id DESC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}
