// Package services – Consumer
//
// Consumer is the worker side of the pipeline. For each job it loads the
// delivery and its bot, decrypts the bot token, obtains a pooled session,
// resolves the target and sends. Every processing attempt increments the
// record's attempts counter exactly once; SENT records are never touched
// again.
//
// Outcome mapping:
//
//	success                      -> SENT,   Done
//	record missing               -> -,      Permanent
//	record already SENT/DEAD     -> -,      Done
//	bot missing                  -> FAILED, Permanent
//	decrypt or login failure     -> FAILED, Absorbed
//	no target                    -> FAILED, Permanent
//	any other send failure/panic -> FAILED, Transient
package services

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/bot-dispatch/internal/credential"
	"github.com/tbourn/bot-dispatch/internal/domain"
	"github.com/tbourn/bot-dispatch/internal/platform"
	"github.com/tbourn/bot-dispatch/internal/queue"
	"github.com/tbourn/bot-dispatch/internal/repo"

	// OpenTelemetry
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Error texts stored on FAILED records.
const (
	errTextBotNotFound = "bot not found"
	errTextDecrypt     = "failed to decrypt token"
	errTextLogin       = "failed to login bot token"
)

// Bounds for writing SENT after a successful send.
const (
	sentWriteAttempts = 4
	sentWriteBackoff  = 25 * time.Millisecond
	sentWriteTimeout  = 5 * time.Second
)

// SessionCache yields a live session for a bot, creating it on first use.
type SessionCache interface {
	GetOrCreate(ctx context.Context, botID, token string) (platform.Session, error)
}

// Consumer delivers queued messages.
type Consumer struct {
	DB     *gorm.DB
	Cipher *credential.Cipher
	Cache  SessionCache
	Logger zerolog.Logger
}

var _ queue.Handler = (*Consumer)(nil)

func (c *Consumer) tracer() trace.Tracer { return otel.Tracer("services/Consumer") }

// Handle processes one job and reports how the queue should settle it.
func (c *Consumer) Handle(ctx context.Context, j *queue.Job) queue.Outcome {
	ctx, span := c.tracer().Start(ctx, "Handle",
		trace.WithAttributes(
			attribute.String("job.id", j.ID),
			attribute.String("delivery.id", j.DeliveryID),
			attribute.Int("job.attempt", j.Attempt),
		),
	)
	defer span.End()

	log := c.Logger.With().Str("delivery_id", j.DeliveryID).Int("attempt", j.Attempt).Logger()

	rec, err := repo.GetDelivery(ctx, c.DB, j.DeliveryID)
	if errors.Is(err, repo.ErrNotFound) {
		log.Warn().Msg("delivery record not found")
		return queue.Permanent("delivery record not found")
	}
	if err != nil {
		span.RecordError(err)
		return queue.Transient(fmt.Sprintf("load delivery: %v", err))
	}
	if rec.Status.Terminal() {
		log.Debug().Str("status", string(rec.Status)).Msg("delivery already settled")
		return queue.Done()
	}
	log = log.With().Str("bot_id", rec.BotID).Logger()
	span.SetAttributes(attribute.String("bot.id", rec.BotID))

	bot, err := repo.GetBot(ctx, c.DB, rec.BotID)
	if errors.Is(err, repo.ErrNotFound) {
		c.fail(ctx, log, rec, errTextBotNotFound)
		return queue.Permanent(errTextBotNotFound)
	}
	if err != nil {
		span.RecordError(err)
		return queue.Transient(fmt.Sprintf("load bot: %v", err))
	}

	out := c.deliver(ctx, log, rec, bot)
	if out.Kind != queue.OutcomeDone {
		span.SetStatus(codes.Error, out.Reason)
	}
	return out
}

// deliver runs the decrypt/login/send steps, turning a panic into a
// recorded transient failure.
func (c *Consumer) deliver(ctx context.Context, log zerolog.Logger, rec *domain.DeliveryRecord, bot *domain.Bot) (out queue.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("panic: %v", r)
			log.Error().Str("panic", msg).Bytes("stack", debug.Stack()).Msg("delivery panicked")
			c.fail(ctx, log, rec, msg)
			out = queue.Transient(msg)
		}
	}()

	if c.Cipher == nil {
		c.fail(ctx, log, rec, errTextDecrypt)
		return queue.Absorbed(errTextDecrypt)
	}
	token, err := c.Cipher.Decrypt(bot.EncryptedToken)
	if err != nil {
		log.Error().Err(err).Msg("token decrypt failed")
		c.fail(ctx, log, rec, errTextDecrypt)
		return queue.Absorbed(errTextDecrypt)
	}

	session, err := c.Cache.GetOrCreate(ctx, bot.ID, token)
	if err != nil {
		log.Error().Err(err).Msg("bot login failed")
		c.fail(ctx, log, rec, errTextLogin)
		return queue.Absorbed(errTextLogin)
	}

	target, err := rec.Target()
	if err == nil {
		err = Deliver(ctx, session, target, rec.Content)
	}
	if errors.Is(err, domain.ErrNoTarget) {
		c.fail(ctx, log, rec, err.Error())
		return queue.Permanent(err.Error())
	}
	if err != nil {
		log.Warn().Err(err).Msg("send failed")
		c.fail(ctx, log, rec, err.Error())
		c.audit(ctx, log, rec, domain.ActionMessageFailed, map[string]any{"error": err.Error()})
		return queue.Transient(err.Error())
	}

	c.recordSent(ctx, log, rec)
	c.audit(ctx, log, rec, domain.ActionMessageSent, nil)
	log.Info().Msg("message sent")
	return queue.Done()
}

// OnDeadLetter marks the delivery DEAD once its job is parked for good.
func (c *Consumer) OnDeadLetter(ctx context.Context, j *queue.Job, reason string) {
	log := c.Logger.With().Str("delivery_id", j.DeliveryID).Logger()
	ok, err := repo.MarkDead(ctx, c.DB, j.DeliveryID, reason)
	if err != nil {
		log.Error().Err(err).Msg("mark DEAD failed")
		return
	}
	if !ok {
		return
	}
	rec, err := repo.GetDelivery(ctx, c.DB, j.DeliveryID)
	if err != nil {
		return
	}
	c.audit(ctx, log, rec, domain.ActionMessageDead, map[string]any{"reason": reason, "attempts": rec.Attempts})
	log.Warn().Str("reason", reason).Msg("delivery dead-lettered")
}

// recordSent writes SENT after the platform accepted the message. The job is
// acked either way; a record left QUEUED would be re-sent by the sweeper, so
// the write is retried a few times outside the job deadline.
func (c *Consumer) recordSent(ctx context.Context, log zerolog.Logger, rec *domain.DeliveryRecord) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sentWriteTimeout)
	defer cancel()

	var err error
retry:
	for attempt := 1; attempt <= sentWriteAttempts; attempt++ {
		if _, err = repo.RecordAttempt(ctx, c.DB, rec.ID, domain.StatusSent, nil); err == nil {
			return
		}
		log.Warn().Err(err).Int("write_attempt", attempt).Msg("record SENT failed")
		if attempt == sentWriteAttempts {
			break
		}
		select {
		case <-ctx.Done():
			break retry
		case <-time.After(time.Duration(attempt) * sentWriteBackoff):
		}
	}
	log.Error().Err(err).Msg("message sent but SENT not recorded; the sweeper may send it again")
}

func (c *Consumer) fail(ctx context.Context, log zerolog.Logger, rec *domain.DeliveryRecord, msg string) {
	if _, err := repo.RecordAttempt(ctx, c.DB, rec.ID, domain.StatusFailed, &msg); err != nil {
		log.Error().Err(err).Msg("record FAILED failed")
	}
}

func (c *Consumer) audit(ctx context.Context, log zerolog.Logger, rec *domain.DeliveryRecord, action string, detail map[string]any) {
	if detail == nil {
		detail = map[string]any{}
	}
	detail["delivery_id"] = rec.ID
	botID := rec.BotID
	if err := repo.AppendAudit(ctx, c.DB, nil, &botID, action, detail); err != nil {
		log.Warn().Err(err).Str("action", action).Msg("audit failed")
	}
}
