// Package services – DispatchService
//
// DispatchService is the producer side of the pipeline. It validates an
// enqueue request, authorizes the caller against the bot's owner, persists a
// QUEUED DeliveryRecord and hands a job to the queue. It never talks to the
// chat platform.
//
// Observability: public methods are OpenTelemetry-instrumented.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/bot-dispatch/internal/domain"
	"github.com/tbourn/bot-dispatch/internal/queue"
	"github.com/tbourn/bot-dispatch/internal/repo"
	"github.com/tbourn/bot-dispatch/internal/utils"

	// OpenTelemetry
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// EnqueueRequest is a request to deliver Content through bot BotID.
type EnqueueRequest struct {
	BotID     string
	ChannelID string
	Content   string
	GuildID   string
	// IdempotencyKey, when set, makes retries of the same request return the
	// first delivery instead of creating another.
	IdempotencyKey string
}

// EnqueueResult is what the producer returns to the caller.
type EnqueueResult struct {
	ID       string                `json:"id"`
	Status   domain.DeliveryStatus `json:"status"`
	Replayed bool                  `json:"-"`
}

// DispatchService accepts delivery requests.
type DispatchService struct {
	DB    *gorm.DB
	Queue queue.Queue
	// Policy is applied to every job; zero value means queue.DefaultPolicy.
	Policy queue.Policy
	// IdempotencyTTL is how long an idempotency key is honoured.
	IdempotencyTTL time.Duration
	// MaxContentRunes rejects longer content when > 0.
	MaxContentRunes int
	Logger          zerolog.Logger
}

func (s *DispatchService) tracer() trace.Tracer { return otel.Tracer("services/DispatchService") }

func (s *DispatchService) policy() queue.Policy {
	if s.Policy.MaxAttempts <= 0 || s.Policy.Backoff == nil {
		return queue.DefaultPolicy()
	}
	return s.Policy
}

// Enqueue validates req, authorizes caller and creates a QUEUED delivery
// backed by a queued job.
//
// Validation failures create nothing. If the record is stored but the job
// cannot be queued, ErrEnqueueFailed is returned and the record stays QUEUED
// for the sweeper.
func (s *DispatchService) Enqueue(ctx context.Context, caller Caller, req EnqueueRequest) (*EnqueueResult, error) {
	ctx, span := s.tracer().Start(ctx, "Enqueue",
		trace.WithAttributes(
			attribute.String("bot.id", req.BotID),
			attribute.String("user.id", caller.ID),
		),
	)
	defer span.End()

	botID := strings.TrimSpace(req.BotID)
	channelID := strings.TrimSpace(req.ChannelID)
	content := strings.TrimSpace(req.Content)
	switch {
	case botID == "":
		return nil, required("botId")
	case channelID == "":
		return nil, required("channelId")
	case content == "":
		return nil, required("content")
	}
	if s.MaxContentRunes > 0 && utf8.RuneCountInString(content) > s.MaxContentRunes {
		return nil, &ValidationError{Field: "content", Reason: "is too long"}
	}
	var guildID *string
	if g := strings.TrimSpace(req.GuildID); g != "" {
		guildID = &g
	}

	bot, err := repo.GetBot(ctx, s.DB, botID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrBotNotFound
	}
	if err != nil {
		return nil, err
	}
	if !caller.CanManage(bot.OwnerID) {
		return nil, ErrForbidden
	}

	key := strings.TrimSpace(req.IdempotencyKey)
	if key != "" {
		if res, ok := s.replay(ctx, caller.ID, key); ok {
			span.SetAttributes(attribute.Bool("idempotent.replay", true))
			return res, nil
		}
	}

	rec := repo.NewDelivery(bot.ID, guildID, channelID, content)
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repo.CreateDelivery(ctx, tx, rec); err != nil {
			return err
		}
		if key != "" {
			if _, err := repo.CreateIdempotency(ctx, tx, caller.ID, key, rec.ID, s.ttl()); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, repo.ErrDuplicate) {
		// Lost a race with a concurrent request using the same key.
		if res, ok := s.replay(ctx, caller.ID, key); ok {
			return res, nil
		}
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist delivery")
		return nil, err
	}
	span.SetAttributes(attribute.String("delivery.id", rec.ID))

	log := s.Logger.With().Str("delivery_id", rec.ID).Str("bot_id", bot.ID).Logger()

	if err := s.Queue.Enqueue(ctx, queue.NewJob(rec.ID, s.policy())); err != nil && !errors.Is(err, queue.ErrDuplicateJob) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "enqueue job")
		log.Error().Err(err).Msg("enqueue failed; record left QUEUED for the sweeper")
		return nil, errors.Join(ErrEnqueueFailed, err)
	}

	actor := caller.ID
	if err := repo.AppendAudit(ctx, s.DB, &actor, &bot.ID, domain.ActionMessageEnqueued, map[string]any{
		"delivery_id": rec.ID,
		"channel_id":  channelID,
	}); err != nil {
		log.Warn().Err(err).Msg("audit MESSAGE_ENQUEUED failed")
	}

	log.Info().Msg("message enqueued")
	return &EnqueueResult{ID: rec.ID, Status: rec.Status}, nil
}

func (s *DispatchService) ttl() time.Duration {
	if s.IdempotencyTTL > 0 {
		return s.IdempotencyTTL
	}
	return 24 * time.Hour
}

func (s *DispatchService) replay(ctx context.Context, userID, key string) (*EnqueueResult, bool) {
	idem, err := repo.GetIdempotency(ctx, s.DB, userID, key, time.Now().UTC())
	if err != nil {
		return nil, false
	}
	rec, err := repo.GetDelivery(ctx, s.DB, idem.DeliveryID)
	if err != nil {
		return nil, false
	}
	return &EnqueueResult{ID: rec.ID, Status: rec.Status, Replayed: true}, true
}

// Get returns a delivery the caller may see.
func (s *DispatchService) Get(ctx context.Context, caller Caller, id string) (*domain.DeliveryRecord, error) {
	ctx, span := s.tracer().Start(ctx, "Get",
		trace.WithAttributes(
			attribute.String("delivery.id", id),
			attribute.String("user.id", caller.ID),
		),
	)
	defer span.End()

	rec, err := repo.GetDelivery(ctx, s.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrDeliveryNotFound
	}
	if err != nil {
		return nil, err
	}
	if _, err := authorizeBot(ctx, s.DB, caller, rec.BotID); err != nil {
		// A record whose bot is gone is only visible to elevated callers.
		if errors.Is(err, ErrBotNotFound) && caller.Elevated() {
			return rec, nil
		}
		if errors.Is(err, ErrBotNotFound) {
			return nil, ErrDeliveryNotFound
		}
		return nil, err
	}
	return rec, nil
}

// ListByBot returns a page of deliveries for botID, newest first.
func (s *DispatchService) ListByBot(ctx context.Context, caller Caller, botID string, page, pageSize int) ([]domain.DeliveryRecord, int64, error) {
	ctx, span := s.tracer().Start(ctx, "ListByBot",
		trace.WithAttributes(
			attribute.String("bot.id", botID),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	if _, err := authorizeBot(ctx, s.DB, caller, botID); err != nil {
		return nil, 0, err
	}

	page, pageSize = utils.NormalizePage(page, pageSize)
	total, err := repo.CountDeliveries(ctx, s.DB, botID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.DeliveryRecord{}, 0, nil
	}
	items, err := repo.ListDeliveriesPage(ctx, s.DB, botID, utils.Offset(page, pageSize), pageSize)
	return items, total, err
}

// Stats returns per-status counts for botID.
func (s *DispatchService) Stats(ctx context.Context, caller Caller, botID string) (map[domain.DeliveryStatus]int64, error) {
	ctx, span := s.tracer().Start(ctx, "Stats", trace.WithAttributes(attribute.String("bot.id", botID)))
	defer span.End()

	if _, err := authorizeBot(ctx, s.DB, caller, botID); err != nil {
		return nil, err
	}
	return repo.StatusCounts(ctx, s.DB, botID)
}

// Version returns an opaque token that changes whenever the deliveries of
// botID change. The HTTP layer uses it as an ETag.
func (s *DispatchService) Version(ctx context.Context, caller Caller, botID string) (string, error) {
	ctx, span := s.tracer().Start(ctx, "Version", trace.WithAttributes(attribute.String("bot.id", botID)))
	defer span.End()

	if _, err := authorizeBot(ctx, s.DB, caller, botID); err != nil {
		return "", err
	}
	count, maxUpdated, err := repo.DeliveriesStats(ctx, s.DB, botID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "stats failed")
		return "", err
	}
	var ts int64
	if maxUpdated != nil {
		ts = maxUpdated.UnixNano()
	}
	return fmt.Sprintf("%s:%d:%d", botID, count, ts), nil
}

// authorizeBot loads botID and checks the caller may act on it.
func authorizeBot(ctx context.Context, db *gorm.DB, caller Caller, botID string) (*domain.Bot, error) {
	bot, err := repo.GetBot(ctx, db, botID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrBotNotFound
	}
	if err != nil {
		return nil, err
	}
	if !caller.CanManage(bot.OwnerID) {
		return nil, ErrForbidden
	}
	return bot, nil
}
