package repo

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCreateGetBot(t *testing.T) {
	db := newTestDB(t, allModels()...)
	ctx := context.Background()

	b, err := CreateBot(ctx, db, "owner-1", "alpha", "sealed-token")
	if err != nil {
		t.Fatalf("CreateBot: %v", err)
	}
	if b.ID == "" || !b.Active || b.LastConnectedAt != nil {
		t.Fatalf("unexpected bot: %+v", b)
	}

	got, err := GetBot(ctx, db, b.ID)
	if err != nil {
		t.Fatalf("GetBot: %v", err)
	}
	if got.OwnerID != "owner-1" || got.EncryptedToken != "sealed-token" {
		t.Fatalf("readback mismatch: %+v", got)
	}

	if _, err := GetBot(ctx, db, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestListCountBots_OwnerFilter(t *testing.T) {
	db := newTestDB(t, allModels()...)
	ctx := context.Background()

	for _, owner := range []string{"a", "a", "b"} {
		if _, err := CreateBot(ctx, db, owner, "x", "t"); err != nil {
			t.Fatalf("CreateBot: %v", err)
		}
	}

	mine, err := ListBots(ctx, db, "a", 0, 10)
	if err != nil || len(mine) != 2 {
		t.Fatalf("ListBots(a) = %d, %v; want 2", len(mine), err)
	}
	all, err := ListBots(ctx, db, "", 0, 0)
	if err != nil || len(all) != 3 {
		t.Fatalf("ListBots(all) = %d, %v; want 3", len(all), err)
	}
	n, err := CountBots(ctx, db, "b")
	if err != nil || n != 1 {
		t.Fatalf("CountBots(b) = %d, %v; want 1", n, err)
	}
	page, err := ListBots(ctx, db, "", 2, 2)
	if err != nil || len(page) != 1 {
		t.Fatalf("ListBots page = %d, %v; want 1", len(page), err)
	}
}

func TestDeleteBot(t *testing.T) {
	db := newTestDB(t, allModels()...)
	ctx := context.Background()

	b, _ := CreateBot(ctx, db, "o", "x", "t")
	if err := DeleteBot(ctx, db, b.ID); err != nil {
		t.Fatalf("DeleteBot: %v", err)
	}
	if err := DeleteBot(ctx, db, b.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete: want ErrNotFound, got %v", err)
	}
}

func TestTouchBotConnected(t *testing.T) {
	db := newTestDB(t, allModels()...)
	ctx := context.Background()

	b, _ := CreateBot(ctx, db, "o", "x", "t")
	at := time.Now().UTC().Truncate(time.Second)
	if err := TouchBotConnected(ctx, db, b.ID, at); err != nil {
		t.Fatalf("TouchBotConnected: %v", err)
	}
	got, _ := GetBot(ctx, db, b.ID)
	if got.LastConnectedAt == nil || !got.LastConnectedAt.Equal(at) {
		t.Fatalf("last_connected_at = %v; want %v", got.LastConnectedAt, at)
	}
}

func TestGetBot_NoTable(t *testing.T) {
	db := newTestDB(t /* no migrations */)
	if _, err := GetBot(context.Background(), db, "x"); err == nil {
		t.Fatal("expected error due to missing bots table")
	}
}
