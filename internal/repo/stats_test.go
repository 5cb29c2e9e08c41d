package repo

import (
	"context"
	"testing"
	"time"

	"github.com/tbourn/bot-dispatch/internal/domain"
)

func TestDeliveriesStats_CountError_NoTable(t *testing.T) {
	db := newTestDB(t /* no migrations */)
	if _, _, err := DeliveriesStats(context.Background(), db, "b1"); err == nil {
		t.Fatalf("expected error due to missing deliveries table")
	}
}

func TestDeliveriesStats_ZeroRows(t *testing.T) {
	db := newTestDB(t, &domain.DeliveryRecord{})
	count, maxTS, err := DeliveriesStats(context.Background(), db, "b1")
	if err != nil || count != 0 || maxTS != nil {
		t.Fatalf("want (0, nil, nil), got (%d, %v, %v)", count, maxTS, err)
	}
}

func TestDeliveriesStats_FilterAndMax(t *testing.T) {
	db := newTestDB(t, &domain.DeliveryRecord{})
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	for i, bot := range []string{"b1", "b1", "b2"} {
		r := NewDelivery(bot, nil, "c", "x")
		r.UpdatedAt = base.Add(time.Duration(i) * time.Minute)
		if err := db.Create(r).Error; err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	count, maxTS, err := DeliveriesStats(ctx, db, "b1")
	if err != nil || count != 2 {
		t.Fatalf("count = %d, %v; want 2", count, err)
	}
	if maxTS == nil || !maxTS.Equal(base.Add(time.Minute)) {
		t.Fatalf("max updated_at = %v; want %v", maxTS, base.Add(time.Minute))
	}
}

func TestStatusCounts(t *testing.T) {
	db := newTestDB(t, &domain.DeliveryRecord{})
	ctx := context.Background()

	a := NewDelivery("b1", nil, "c", "x")
	b := NewDelivery("b1", nil, "c", "y")
	c := NewDelivery("b1", nil, "c", "z")
	for _, r := range []*domain.DeliveryRecord{a, b, c} {
		_ = CreateDelivery(ctx, db, r)
	}
	_, _ = RecordAttempt(ctx, db, a.ID, domain.StatusSent, nil)
	_, _ = RecordAttempt(ctx, db, b.ID, domain.StatusFailed, strp("x"))

	got, err := StatusCounts(ctx, db, "b1")
	if err != nil {
		t.Fatalf("StatusCounts: %v", err)
	}
	if got[domain.StatusSent] != 1 || got[domain.StatusFailed] != 1 || got[domain.StatusQueued] != 1 || got[domain.StatusDead] != 0 {
		t.Fatalf("unexpected counts: %v", got)
	}
}
