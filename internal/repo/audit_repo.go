package repo

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/bot-dispatch/internal/domain"
)

// AppendAudit writes one audit row. detail is marshalled to JSON; a nil
// detail is stored as "{}".
func AppendAudit(ctx context.Context, db *gorm.DB, actorID, botID *string, action string, detail map[string]any) error {
	if detail == nil {
		detail = map[string]any{}
	}
	raw, err := json.Marshal(detail)
	if err != nil {
		return err
	}
	e := &domain.AuditEntry{
		ID:        uuid.NewString(),
		ActorID:   actorID,
		BotID:     botID,
		Action:    action,
		Detail:    string(raw),
		CreatedAt: time.Now().UTC(),
	}
	return db.WithContext(ctx).Create(e).Error
}

// ListAudit returns entries for botID, newest first.
func ListAudit(ctx context.Context, db *gorm.DB, botID string, limit int) ([]domain.AuditEntry, error) {
	var out []domain.AuditEntry
	q := db.WithContext(ctx).Where("bot_id = ?", botID).Order("created_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}
