// Package services – Sweeper
//
// A delivery is orphaned when its record is QUEUED but the queue holds no
// job for it, e.g. the process died between the insert and the enqueue, or
// Redis lost data. The sweeper periodically scans for such records and
// re-enqueues them. Job ids equal delivery ids, so a job that still exists is
// left alone and concurrent sweepers cannot double-queue a delivery.
package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/bot-dispatch/internal/domain"
	"github.com/tbourn/bot-dispatch/internal/queue"
	"github.com/tbourn/bot-dispatch/internal/repo"

	// OpenTelemetry
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// SweepObserver receives sweeper results for metrics.
type SweepObserver interface {
	Swept(requeued, failed int)
}

// SweepResult summarizes one cycle.
type SweepResult struct {
	Scanned  int
	Requeued int
	Failed   int
}

// Sweeper re-enqueues QUEUED deliveries whose job has gone missing.
type Sweeper struct {
	DB     *gorm.DB
	Queue  queue.Queue
	Policy queue.Policy
	// Interval between cycles. Default 1 minute.
	Interval time.Duration
	// Threshold is the minimum record age before it counts as orphaned.
	// Default 5 minutes.
	Threshold time.Duration
	// BatchSize caps records examined per cycle. Default 100.
	BatchSize int
	Logger    zerolog.Logger
	Observer  SweepObserver

	// clock is overridable in tests.
	clock func() time.Time

	// cursor is where the next cycle resumes, so records whose job is still
	// live cannot fill every batch. nil starts from the oldest record.
	mu     sync.Mutex
	cursor *repo.QueuedCursor
}

func (s *Sweeper) tracer() trace.Tracer { return otel.Tracer("services/Sweeper") }

func (s *Sweeper) interval() time.Duration {
	if s.Interval > 0 {
		return s.Interval
	}
	return time.Minute
}

func (s *Sweeper) threshold() time.Duration {
	if s.Threshold > 0 {
		return s.Threshold
	}
	return 5 * time.Minute
}

func (s *Sweeper) batch() int {
	if s.BatchSize > 0 {
		return s.BatchSize
	}
	return 100
}

func (s *Sweeper) now() time.Time {
	if s.clock != nil {
		return s.clock().UTC()
	}
	return time.Now().UTC()
}

func (s *Sweeper) policy() queue.Policy {
	if s.Policy.MaxAttempts <= 0 || s.Policy.Backoff == nil {
		return queue.DefaultPolicy()
	}
	return s.Policy
}

// Run sweeps once immediately and then every Interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval())
	defer ticker.Stop()

	s.Logger.Info().
		Dur("interval", s.interval()).
		Dur("threshold", s.threshold()).
		Int("batch", s.batch()).
		Msg("sweeper started")

	s.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			s.Logger.Info().Msg("sweeper stopped")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep cycle.
func (s *Sweeper) RunOnce(ctx context.Context) SweepResult {
	ctx, span := s.tracer().Start(ctx, "RunOnce")
	defer span.End()

	var res SweepResult
	cutoff := s.now().Add(-s.threshold())

	s.mu.Lock()
	defer s.mu.Unlock()

	orphans, err := repo.ListOrphanedQueued(ctx, s.DB, cutoff, s.cursor, s.batch())
	if err != nil {
		// Retried next interval.
		span.RecordError(err)
		s.Logger.Error().Err(err).Msg("sweeper: list queued deliveries failed")
		return res
	}
	if len(orphans) < s.batch() {
		s.cursor = nil
	} else {
		last := orphans[len(orphans)-1]
		s.cursor = &repo.QueuedCursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}
	res.Scanned = len(orphans)
	if res.Scanned == 0 {
		return res
	}

	for i := range orphans {
		if ctx.Err() != nil {
			s.Logger.Info().Int("processed", res.Requeued+res.Failed).Int("total", res.Scanned).Msg("sweeper: cycle interrupted")
			break
		}
		rec := &orphans[i]
		log := s.Logger.With().Str("delivery_id", rec.ID).Str("bot_id", rec.BotID).Logger()

		exists, err := s.Queue.Exists(ctx, rec.ID)
		if err != nil {
			log.Warn().Err(err).Msg("sweeper: job lookup failed")
			res.Failed++
			continue
		}
		if exists {
			continue
		}

		err = s.Queue.Enqueue(ctx, queue.NewJob(rec.ID, s.policy()))
		if errors.Is(err, queue.ErrDuplicateJob) {
			// Another sweeper or the producer got there first.
			continue
		}
		if err != nil {
			log.Warn().Err(err).Msg("sweeper: re-enqueue failed")
			res.Failed++
			continue
		}
		res.Requeued++

		age := s.now().Sub(rec.CreatedAt)
		botID := rec.BotID
		if err := repo.AppendAudit(ctx, s.DB, nil, &botID, domain.ActionMessageRequeued, map[string]any{
			"delivery_id": rec.ID,
			"age_ms":      age.Milliseconds(),
		}); err != nil {
			log.Warn().Err(err).Msg("sweeper: audit failed")
		}
		log.Info().Dur("age", age.Round(time.Second)).Msg("sweeper: re-enqueued orphaned delivery")
	}

	span.SetAttributes(
		attribute.Int("sweep.scanned", res.Scanned),
		attribute.Int("sweep.requeued", res.Requeued),
		attribute.Int("sweep.failed", res.Failed),
	)
	if s.Observer != nil {
		s.Observer.Swept(res.Requeued, res.Failed)
	}
	if res.Requeued > 0 || res.Failed > 0 {
		s.Logger.Info().Int("requeued", res.Requeued).Int("failed", res.Failed).Msg("sweeper: cycle complete")
	}
	return res
}
