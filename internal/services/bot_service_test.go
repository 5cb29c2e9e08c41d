package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/tbourn/bot-dispatch/internal/credential"
	"github.com/tbourn/bot-dispatch/internal/domain"
	"github.com/tbourn/bot-dispatch/internal/repo"
)

type recordingEvicter struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (r *recordingEvicter) Evict(_ context.Context, botID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, botID)
	return r.err
}

func newBotService(t *testing.T) (*BotService, *recordingEvicter) {
	t.Helper()
	ev := &recordingEvicter{}
	return &BotService{
		DB:      newTestDB(t),
		Cipher:  newTestCipher(t),
		Evicter: ev,
		Logger:  zerolog.Nop(),
	}, ev
}

// ---------- Create() ----------

func TestBotService_Create_SealsToken(t *testing.T) {
	s, _ := newBotService(t)
	bot, err := s.Create(context.Background(), Caller{ID: "u1"}, "  Cafe\u0301  ", " secret-token ")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if bot.Name != "Caf\u00e9" {
		t.Fatalf("name not NFC-normalized: %q", bot.Name)
	}
	if bot.OwnerID != "u1" {
		t.Fatalf("owner=%q", bot.OwnerID)
	}

	stored, err := repo.GetBot(context.Background(), s.DB, bot.ID)
	if err != nil {
		t.Fatalf("GetBot: %v", err)
	}
	if stored.EncryptedToken == "secret-token" {
		t.Fatal("token stored in plaintext")
	}
	pt, err := s.Cipher.Decrypt(stored.EncryptedToken)
	if err != nil || pt != "secret-token" {
		t.Fatalf("decrypt=%q err=%v", pt, err)
	}
	if auditActions(t, s.DB, bot.ID)[domain.ActionBotCreated] != 1 {
		t.Fatal("expected BOT_CREATED audit")
	}
}

func TestBotService_Create_Validation(t *testing.T) {
	s, _ := newBotService(t)
	s.MaxNameRunes = 4

	cases := []struct{ name, token, field string }{
		{"", "tok", "name"},
		{"ok", "   ", "token"},
		{"toolong", "tok", "name"},
	}
	for _, tc := range cases {
		_, err := s.Create(context.Background(), Caller{ID: "u1"}, tc.name, tc.token)
		var ve *ValidationError
		if !errors.As(err, &ve) || ve.Field != tc.field {
			t.Fatalf("%q/%q: expected ValidationError on %s, got %v", tc.name, tc.token, tc.field, err)
		}
	}
}

func TestBotService_Create_WithoutKeyIsConfigurationError(t *testing.T) {
	s, _ := newBotService(t)
	s.Cipher = nil
	_, err := s.Create(context.Background(), Caller{ID: "u1"}, "bot", "tok")
	if !errors.Is(err, credential.ErrMissingKey) || ErrorKind(err) != KindConfiguration {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

// ---------- Get() / List() ----------

func TestBotService_GetAndList_Scoping(t *testing.T) {
	s, _ := newBotService(t)
	ctx := context.Background()
	a, _ := s.Create(ctx, Caller{ID: "alice"}, "a", "t1")
	_, _ = s.Create(ctx, Caller{ID: "bob"}, "b", "t2")

	if _, err := s.Get(ctx, Caller{ID: "bob"}, a.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if got, err := s.Get(ctx, Caller{ID: "admin", Role: domain.RoleAdmin}, a.ID); err != nil || got.ID != a.ID {
		t.Fatalf("admin Get: %v %v", got, err)
	}
	if _, err := s.Get(ctx, Caller{ID: "alice"}, "missing"); !errors.Is(err, ErrBotNotFound) {
		t.Fatalf("expected ErrBotNotFound, got %v", err)
	}

	mine, total, err := s.List(ctx, Caller{ID: "alice"}, 1, 10)
	if err != nil || total != 1 || len(mine) != 1 || mine[0].ID != a.ID {
		t.Fatalf("alice list: total=%d len=%d err=%v", total, len(mine), err)
	}
	all, total, err := s.List(ctx, Caller{ID: "admin", Role: domain.RoleAdmin}, 1, 10)
	if err != nil || total != 2 || len(all) != 2 {
		t.Fatalf("admin list: total=%d len=%d err=%v", total, len(all), err)
	}
	none, total, err := s.List(ctx, Caller{ID: "carol"}, 0, 0)
	if err != nil || total != 0 || len(none) != 0 {
		t.Fatalf("carol list: total=%d len=%d err=%v", total, len(none), err)
	}
}

// ---------- Delete() ----------

func TestBotService_Delete_EvictsAndAudits(t *testing.T) {
	s, ev := newBotService(t)
	ctx := context.Background()
	bot, _ := s.Create(ctx, Caller{ID: "u1"}, "bot", "tok")

	if err := s.Delete(ctx, Caller{ID: "other"}, bot.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if err := s.Delete(ctx, Caller{ID: "u1"}, bot.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := repo.GetBot(ctx, s.DB, bot.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("bot still present: %v", err)
	}
	if len(ev.ids) != 1 || ev.ids[0] != bot.ID {
		t.Fatalf("evicted=%v", ev.ids)
	}
	if auditActions(t, s.DB, bot.ID)[domain.ActionBotDeleted] != 1 {
		t.Fatal("expected BOT_DELETED audit")
	}
	if err := s.Delete(ctx, Caller{ID: "u1"}, bot.ID); !errors.Is(err, ErrBotNotFound) {
		t.Fatalf("second delete: %v", err)
	}
}

func TestBotService_Delete_EvictionFailureIsNotFatal(t *testing.T) {
	s, ev := newBotService(t)
	ev.err = errors.New("redis down")
	bot, _ := s.Create(context.Background(), Caller{ID: "u1"}, "bot", "tok")

	if err := s.Delete(context.Background(), Caller{ID: "u1"}, bot.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
}
