// Package repo implements the data persistence layer. This file provides
// small aggregate queries used for conditional list responses (ETag) and the
// per-bot status summary.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/bot-dispatch/internal/domain"
)

// DeliveriesStats returns the number of records for botID and the greatest
// UpdatedAt among them (nil when there are none).
func DeliveriesStats(ctx context.Context, db *gorm.DB, botID string) (count int64, maxUpdatedAt *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.DeliveryRecord{}).Where("bot_id = ?", botID)

	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Get latest updated_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		UpdatedAt time.Time
	}
	if err = q.Select("updated_at").Order("updated_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.UpdatedAt, nil
}

// StatusCounts returns the number of records per status for botID.
func StatusCounts(ctx context.Context, db *gorm.DB, botID string) (map[domain.DeliveryStatus]int64, error) {
	var rows []struct {
		Status domain.DeliveryStatus
		N      int64
	}
	err := db.WithContext(ctx).
		Model(&domain.DeliveryRecord{}).
		Select("status, COUNT(*) AS n").
		Where("bot_id = ?", botID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[domain.DeliveryStatus]int64, len(rows))
	for _, r := range rows {
		out[r.Status] = r.N
	}
	return out, nil
}
