package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/tbourn/bot-dispatch/internal/domain"
	"github.com/tbourn/bot-dispatch/internal/queue"
	"github.com/tbourn/bot-dispatch/internal/repo"
)

type failingQueue struct {
	*queue.MemoryQueue
	err error
}

func (f *failingQueue) Enqueue(context.Context, *queue.Job) error { return f.err }

func newDispatch(t *testing.T) (*DispatchService, *queue.MemoryQueue) {
	t.Helper()
	q := queue.NewMemoryQueue()
	return &DispatchService{DB: newTestDB(t), Queue: q, Logger: zerolog.Nop()}, q
}

// ---------- Enqueue() validation ----------

func TestDispatchService_Enqueue_MissingFieldsCreateNothing(t *testing.T) {
	s, q := newDispatch(t)
	bot := seedBot(t, s.DB, newTestCipher(t), "u1", "tok")
	owner := Caller{ID: "u1"}

	cases := []struct {
		name  string
		req   EnqueueRequest
		field string
	}{
		{"no bot", EnqueueRequest{ChannelID: "c1", Content: "hi"}, "botId"},
		{"no channel", EnqueueRequest{BotID: bot.ID, Content: "hi"}, "channelId"},
		{"blank channel", EnqueueRequest{BotID: bot.ID, ChannelID: "   ", Content: "hi"}, "channelId"},
		{"no content", EnqueueRequest{BotID: bot.ID, ChannelID: "c1"}, "content"},
		{"blank content", EnqueueRequest{BotID: bot.ID, ChannelID: "c1", Content: " \t "}, "content"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.Enqueue(context.Background(), owner, tc.req)
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if ve.Field != tc.field {
				t.Fatalf("field=%q want %q", ve.Field, tc.field)
			}
		})
	}

	n, err := repo.CountDeliveries(context.Background(), s.DB, bot.ID)
	if err != nil || n != 0 {
		t.Fatalf("deliveries=%d err=%v, want none", n, err)
	}
	if q.Len() != 0 {
		t.Fatalf("queue len=%d, want 0", q.Len())
	}
}

func TestDispatchService_Enqueue_ContentTooLong(t *testing.T) {
	s, q := newDispatch(t)
	s.MaxContentRunes = 3
	bot := seedBot(t, s.DB, newTestCipher(t), "u1", "tok")

	_, err := s.Enqueue(context.Background(), Caller{ID: "u1"}, EnqueueRequest{BotID: bot.ID, ChannelID: "c1", Content: "héllo"})
	if ErrorKind(err) != KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	if q.Len() != 0 {
		t.Fatalf("queue len=%d", q.Len())
	}
}

// ---------- Enqueue() happy path ----------

func TestDispatchService_Enqueue_OwnerCreatesQueuedRecordAndJob(t *testing.T) {
	s, q := newDispatch(t)
	bot := seedBot(t, s.DB, newTestCipher(t), "u1", "tok")

	res, err := s.Enqueue(context.Background(), Caller{ID: "u1", Role: domain.RoleUser},
		EnqueueRequest{BotID: bot.ID, ChannelID: " c1 ", Content: "hi", GuildID: " g1 "})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if res.Status != domain.StatusQueued || res.Replayed {
		t.Fatalf("unexpected result %+v", res)
	}

	rec := mustDelivery(t, s.DB, res.ID)
	if rec.Status != domain.StatusQueued || rec.Attempts != 0 {
		t.Fatalf("status=%s attempts=%d", rec.Status, rec.Attempts)
	}
	if rec.ChannelID != "c1" || rec.GuildID == nil || *rec.GuildID != "g1" || rec.Content != "hi" {
		t.Fatalf("stored fields not trimmed: %+v", rec)
	}

	ok, err := q.Exists(context.Background(), res.ID)
	if err != nil || !ok {
		t.Fatalf("job for %s not queued (err=%v)", res.ID, err)
	}
	jobs, _ := q.Dequeue(context.Background(), 1)
	if len(jobs) != 1 || jobs[0].DeliveryID != res.ID || jobs[0].MaxAttempts != 5 {
		t.Fatalf("unexpected job %+v", jobs)
	}
	if jobs[0].Backoff.Kind != queue.BackoffExponential || jobs[0].Backoff.InitialDelayMs != 1000 {
		t.Fatalf("unexpected backoff %+v", jobs[0].Backoff)
	}

	if got := auditActions(t, s.DB, bot.ID)[domain.ActionMessageEnqueued]; got != 1 {
		t.Fatalf("MESSAGE_ENQUEUED audits=%d", got)
	}
}

func TestDispatchService_Enqueue_AdminMayUseAnyBot(t *testing.T) {
	s, _ := newDispatch(t)
	bot := seedBot(t, s.DB, newTestCipher(t), "owner", "tok")

	if _, err := s.Enqueue(context.Background(), Caller{ID: "root", Role: "admin"},
		EnqueueRequest{BotID: bot.ID, ChannelID: "c1", Content: "hi"}); err != nil {
		t.Fatalf("admin Enqueue: %v", err)
	}
}

// ---------- Enqueue() errors ----------

func TestDispatchService_Enqueue_Forbidden(t *testing.T) {
	s, q := newDispatch(t)
	bot := seedBot(t, s.DB, newTestCipher(t), "owner", "tok")

	_, err := s.Enqueue(context.Background(), Caller{ID: "intruder"},
		EnqueueRequest{BotID: bot.ID, ChannelID: "c1", Content: "hi"})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if q.Len() != 0 {
		t.Fatal("forbidden request must not queue a job")
	}
}

func TestDispatchService_Enqueue_BotNotFound(t *testing.T) {
	s, _ := newDispatch(t)
	_, err := s.Enqueue(context.Background(), Caller{ID: "u1"},
		EnqueueRequest{BotID: "missing", ChannelID: "c1", Content: "hi"})
	if !errors.Is(err, ErrBotNotFound) {
		t.Fatalf("expected ErrBotNotFound, got %v", err)
	}
}

func TestDispatchService_Enqueue_QueueFailureLeavesRecordQueued(t *testing.T) {
	s, _ := newDispatch(t)
	s.Queue = &failingQueue{MemoryQueue: queue.NewMemoryQueue(), err: errors.New("redis down")}
	bot := seedBot(t, s.DB, newTestCipher(t), "u1", "tok")

	_, err := s.Enqueue(context.Background(), Caller{ID: "u1"},
		EnqueueRequest{BotID: bot.ID, ChannelID: "c1", Content: "hi"})
	if !errors.Is(err, ErrEnqueueFailed) {
		t.Fatalf("expected ErrEnqueueFailed, got %v", err)
	}
	if !strings.Contains(err.Error(), "redis down") {
		t.Fatalf("cause lost: %v", err)
	}

	items, err := repo.ListDeliveriesPage(context.Background(), s.DB, bot.ID, 0, 10)
	if err != nil || len(items) != 1 {
		t.Fatalf("items=%d err=%v", len(items), err)
	}
	if items[0].Status != domain.StatusQueued || items[0].Attempts != 0 {
		t.Fatalf("record should stay QUEUED/0, got %s/%d", items[0].Status, items[0].Attempts)
	}
}

// ---------- idempotency ----------

func TestDispatchService_Enqueue_IdempotencyKeyReplays(t *testing.T) {
	s, q := newDispatch(t)
	bot := seedBot(t, s.DB, newTestCipher(t), "u1", "tok")
	req := EnqueueRequest{BotID: bot.ID, ChannelID: "c1", Content: "hi", IdempotencyKey: "k-1"}

	first, err := s.Enqueue(context.Background(), Caller{ID: "u1"}, req)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := s.Enqueue(context.Background(), Caller{ID: "u1"}, req)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if second.ID != first.ID || !second.Replayed {
		t.Fatalf("expected replay of %s, got %+v", first.ID, second)
	}
	if q.Len() != 1 {
		t.Fatalf("queue len=%d, want 1", q.Len())
	}

	// A different user with the same key gets its own delivery.
	adminReq := req
	third, err := s.Enqueue(context.Background(), Caller{ID: "admin", Role: domain.RoleAdmin}, adminReq)
	if err != nil {
		t.Fatalf("third: %v", err)
	}
	if third.ID == first.ID {
		t.Fatal("idempotency keys must be scoped per user")
	}
}

// ---------- reads ----------

func TestDispatchService_GetAndList(t *testing.T) {
	s, _ := newDispatch(t)
	bot := seedBot(t, s.DB, newTestCipher(t), "u1", "tok")
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		res, err := s.Enqueue(ctx, Caller{ID: "u1"}, EnqueueRequest{BotID: bot.ID, ChannelID: "c1", Content: "hi"})
		if err != nil {
			t.Fatalf("enqueue: %v", err)
		}
		ids = append(ids, res.ID)
	}

	rec, err := s.Get(ctx, Caller{ID: "u1"}, ids[0])
	if err != nil || rec.ID != ids[0] {
		t.Fatalf("Get: rec=%v err=%v", rec, err)
	}
	if _, err := s.Get(ctx, Caller{ID: "other"}, ids[0]); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := s.Get(ctx, Caller{ID: "u1"}, "nope"); !errors.Is(err, ErrDeliveryNotFound) {
		t.Fatalf("expected ErrDeliveryNotFound, got %v", err)
	}

	items, total, err := s.ListByBot(ctx, Caller{ID: "u1"}, bot.ID, 1, 2)
	if err != nil {
		t.Fatalf("ListByBot: %v", err)
	}
	if total != 3 || len(items) != 2 {
		t.Fatalf("total=%d len=%d", total, len(items))
	}

	counts, err := s.Stats(ctx, Caller{ID: "u1"}, bot.ID)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if counts[domain.StatusQueued] != 3 {
		t.Fatalf("queued=%d", counts[domain.StatusQueued])
	}
}

func TestDispatchService_Get_OrphanedRecordVisibleToAdminOnly(t *testing.T) {
	s, _ := newDispatch(t)
	rec := seedDelivery(t, s.DB, "gone-bot", nil, "c1")
	ctx := context.Background()

	if _, err := s.Get(ctx, Caller{ID: "u1"}, rec.ID); !errors.Is(err, ErrDeliveryNotFound) {
		t.Fatalf("expected ErrDeliveryNotFound, got %v", err)
	}
	got, err := s.Get(ctx, Caller{ID: "root", Role: domain.RoleAdmin}, rec.ID)
	if err != nil || got.ID != rec.ID {
		t.Fatalf("admin Get: %v %v", got, err)
	}
}

func TestDispatchService_StatsAndVersion(t *testing.T) {
	s, _ := newDispatch(t)
	bot := seedBot(t, s.DB, newTestCipher(t), "u1", "tok")
	owner := Caller{ID: "u1"}
	ctx := context.Background()

	v0, err := s.Version(ctx, owner, bot.ID)
	if err != nil || !strings.HasPrefix(v0, bot.ID+":0:") {
		t.Fatalf("empty version=%q err=%v", v0, err)
	}

	first, err := s.Enqueue(ctx, owner, EnqueueRequest{BotID: bot.ID, ChannelID: "c1", Content: "one"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := s.Enqueue(ctx, owner, EnqueueRequest{BotID: bot.ID, ChannelID: "c1", Content: "two"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := repo.RecordAttempt(ctx, s.DB, first.ID, domain.StatusSent, nil); err != nil {
		t.Fatalf("record attempt: %v", err)
	}

	v1, err := s.Version(ctx, owner, bot.ID)
	if err != nil || v1 == v0 || !strings.HasPrefix(v1, bot.ID+":2:") {
		t.Fatalf("version after enqueue=%q (was %q) err=%v", v1, v0, err)
	}

	counts, err := s.Stats(ctx, owner, bot.ID)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if counts[domain.StatusQueued] != 1 || counts[domain.StatusSent] != 1 {
		t.Fatalf("counts=%v", counts)
	}

	if _, err := s.Version(ctx, Caller{ID: "intruder"}, bot.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("foreign version err=%v", err)
	}
	if _, err := s.Stats(ctx, owner, "missing"); !errors.Is(err, ErrBotNotFound) {
		t.Fatalf("missing bot stats err=%v", err)
	}
}
