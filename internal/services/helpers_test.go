package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/bot-dispatch/internal/credential"
	"github.com/tbourn/bot-dispatch/internal/domain"
	"github.com/tbourn/bot-dispatch/internal/queue"
	"github.com/tbourn/bot-dispatch/internal/repo"
)

// ---------- test helpers ----------

const testKey = "01234567890123456789012345678901"

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", uuid.NewString())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	// One connection keeps worker goroutines from tripping over table locks.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func newTestCipher(t *testing.T) *credential.Cipher {
	t.Helper()
	c, err := credential.NewCipher(testKey)
	if err != nil {
		t.Fatalf("cipher: %v", err)
	}
	return c
}

func seedBot(t *testing.T, db *gorm.DB, c *credential.Cipher, ownerID, token string) *domain.Bot {
	t.Helper()
	sealed, err := c.Encrypt(token)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	bot, err := repo.CreateBot(context.Background(), db, ownerID, "bot-"+ownerID, sealed)
	if err != nil {
		t.Fatalf("create bot: %v", err)
	}
	return bot
}

func seedDelivery(t *testing.T, db *gorm.DB, botID string, guildID *string, channelID string) *domain.DeliveryRecord {
	t.Helper()
	rec := repo.NewDelivery(botID, guildID, channelID, "hi")
	if err := repo.CreateDelivery(context.Background(), db, rec); err != nil {
		t.Fatalf("create delivery: %v", err)
	}
	return rec
}

func mustDelivery(t *testing.T, db *gorm.DB, id string) *domain.DeliveryRecord {
	t.Helper()
	rec, err := repo.GetDelivery(context.Background(), db, id)
	if err != nil {
		t.Fatalf("get delivery %s: %v", id, err)
	}
	return rec
}

func auditActions(t *testing.T, db *gorm.DB, botID string) map[string]int {
	t.Helper()
	entries, err := repo.ListAudit(context.Background(), db, botID, 0)
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	out := make(map[string]int, len(entries))
	for _, e := range entries {
		out[e.Action]++
	}
	return out
}

func errText(rec *domain.DeliveryRecord) string {
	if rec.Error == nil {
		return ""
	}
	return *rec.Error
}

func strp(s string) *string { return &s }

// fastPolicy retries almost immediately.
func fastPolicy(attempts int) queue.Policy {
	return queue.Policy{MaxAttempts: attempts, Backoff: &queue.Fixed{Interval: time.Millisecond}}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}
