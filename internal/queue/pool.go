package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Observer receives pool events for metrics. Implementations must not block.
type Observer interface {
	JobFinished(kind OutcomeKind, d time.Duration)
	JobRetried(attempt int)
	JobDeadLettered()
	StaleRequeued(n int)
}

type noopObserver struct{}

func (noopObserver) JobFinished(OutcomeKind, time.Duration) {}
func (noopObserver) JobRetried(int)                         {}
func (noopObserver) JobDeadLettered()                       {}
func (noopObserver) StaleRequeued(int)                      {}

// Pool runs a set of worker goroutines that poll a Queue, pass each claimed
// job to the Handler and settle it according to the returned Outcome.
type Pool struct {
	queue        Queue
	handler      Handler
	logger       zerolog.Logger
	concurrency  int
	pollInterval time.Duration
	visibility   time.Duration
	jobTimeout   time.Duration
	onDead       DeadLetterHook
	observer     Observer
	now          func() time.Time

	stopCh     chan struct{}
	wg         sync.WaitGroup
	mu         sync.Mutex
	running    bool
	activeJobs map[string]context.CancelFunc
	activeMu   sync.Mutex
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithConcurrency sets the number of worker goroutines.
func WithConcurrency(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithPollInterval sets how long an idle worker waits before polling again.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) {
		if d > 0 {
			p.pollInterval = d
		}
	}
}

// WithVisibilityTimeout enables stale-claim recovery: jobs claimed longer
// than d ago are returned to the ready set. Zero disables it.
func WithVisibilityTimeout(d time.Duration) PoolOption {
	return func(p *Pool) { p.visibility = d }
}

// WithJobTimeout bounds each handler call. Zero means no bound.
func WithJobTimeout(d time.Duration) PoolOption {
	return func(p *Pool) { p.jobTimeout = d }
}

// WithDeadLetterHook registers a callback run after a job is dead-lettered.
func WithDeadLetterHook(h DeadLetterHook) PoolOption {
	return func(p *Pool) { p.onDead = h }
}

// WithObserver sets the metrics observer.
func WithObserver(o Observer) PoolOption {
	return func(p *Pool) {
		if o != nil {
			p.observer = o
		}
	}
}

// WithLogger sets the pool logger.
func WithLogger(l zerolog.Logger) PoolOption {
	return func(p *Pool) { p.logger = l }
}

// NewPool creates a worker pool over q running h.
func NewPool(q Queue, h Handler, opts ...PoolOption) *Pool {
	p := &Pool{
		queue:        q,
		handler:      h,
		logger:       zerolog.Nop(),
		concurrency:  4,
		pollInterval: time.Second,
		observer:     noopObserver{},
		now:          func() time.Time { return time.Now().UTC() },
		stopCh:       make(chan struct{}),
		activeJobs:   make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the worker goroutines. It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true

	p.logger.Info().
		Int("concurrency", p.concurrency).
		Dur("poll_interval", p.pollInterval).
		Dur("visibility_timeout", p.visibility).
		Msg("worker pool starting")

	for range p.concurrency {
		p.wg.Add(1)
		go p.dequeueLoop()
	}
	if p.visibility > 0 {
		p.wg.Add(1)
		go p.reaperLoop()
	}
	return nil
}

// Stop signals all workers to stop and waits for in-flight jobs. If ctx
// ends first, active handlers are cancelled and Stop waits for them to
// return.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info().Msg("worker pool stopping")
	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info().Msg("worker pool stopped gracefully")
		return nil
	case <-ctx.Done():
		p.logger.Warn().Msg("worker pool shutdown timed out, cancelling active jobs")
		p.cancelActiveJobs()
		<-done
		return ctx.Err()
	}
}

func (p *Pool) dequeueLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		jobs, err := p.queue.Dequeue(context.Background(), 1)
		if err != nil {
			p.logger.Error().Err(err).Msg("dequeue error")
			p.sleep()
			continue
		}
		if len(jobs) == 0 {
			p.sleep()
			continue
		}
		for _, j := range jobs {
			p.process(j)
		}
	}
}

// process runs one job through the handler and settles it.
func (p *Pool) process(j *Job) {
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if p.jobTimeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), p.jobTimeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}
	p.trackJob(j.ID, cancel)
	defer func() {
		p.untrackJob(j.ID)
		cancel()
	}()

	start := time.Now()
	out := p.run(ctx, j)
	elapsed := time.Since(start)
	p.observer.JobFinished(out.Kind, elapsed)

	log := p.logger.With().
		Str("job_id", j.ID).
		Str("delivery_id", j.DeliveryID).
		Int("attempt", j.Attempt).
		Int("max_attempts", j.MaxAttempts).
		Str("outcome", out.Kind.String()).
		Logger()

	// Settle even if the handler context was cancelled during shutdown.
	settle := context.WithoutCancel(ctx)

	switch out.Kind {
	case OutcomeDone, OutcomeAbsorbed:
		if err := p.queue.Ack(settle, j); err != nil {
			log.Error().Err(err).Msg("ack failed")
			return
		}
		if out.Kind == OutcomeAbsorbed {
			log.Info().Str("reason", out.Reason).Msg("job failed permanently; recorded without retry")
		} else {
			log.Debug().Dur("elapsed", elapsed).Msg("job done")
		}

	case OutcomePermanent:
		p.deadLetter(settle, log, j, out.Reason)

	case OutcomeTransient:
		if j.Exhausted() {
			p.deadLetter(settle, log, j, out.Reason)
			return
		}
		delay := j.Strategy().Delay(j.Attempt)
		runAt := p.now().Add(delay)
		if err := p.queue.Retry(settle, j, runAt, out.Reason); err != nil {
			log.Error().Err(err).Msg("retry scheduling failed")
			return
		}
		p.observer.JobRetried(j.Attempt)
		log.Info().Dur("delay", delay).Str("reason", out.Reason).Msg("job scheduled for retry")
	}
}

// run calls the handler, turning a panic into a transient outcome.
func (p *Pool) run(ctx context.Context, j *Job) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().Str("job_id", j.ID).Interface("panic", r).Msg("handler panicked")
			out = Transient(fmt.Sprintf("panic: %v", r))
		}
	}()
	return p.handler.Handle(ctx, j)
}

func (p *Pool) deadLetter(ctx context.Context, log zerolog.Logger, j *Job, reason string) {
	if err := p.queue.DeadLetter(ctx, j, reason); err != nil {
		log.Error().Err(err).Msg("dead-letter failed")
		return
	}
	p.observer.JobDeadLettered()
	log.Warn().Str("reason", reason).Msg("job moved to dead-letter set")
	if p.onDead != nil {
		p.onDead(ctx, j, reason)
	}
}

func (p *Pool) reaperLoop() {
	defer p.wg.Done()

	interval := p.visibility / 2
	if interval <= 0 {
		interval = p.visibility
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			n, err := p.queue.RequeueStale(context.Background(), p.visibility)
			if err != nil {
				p.logger.Error().Err(err).Msg("requeue stale jobs error")
				continue
			}
			if n > 0 {
				p.observer.StaleRequeued(n)
				p.logger.Warn().Int("count", n).Msg("requeued stale jobs")
			}
		}
	}
}

func (p *Pool) sleep() {
	select {
	case <-time.After(p.pollInterval):
	case <-p.stopCh:
	}
}

func (p *Pool) trackJob(jobID string, cancel context.CancelFunc) {
	p.activeMu.Lock()
	p.activeJobs[jobID] = cancel
	p.activeMu.Unlock()
}

func (p *Pool) untrackJob(jobID string) {
	p.activeMu.Lock()
	delete(p.activeJobs, jobID)
	p.activeMu.Unlock()
}

func (p *Pool) cancelActiveJobs() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for jobID, cancel := range p.activeJobs {
		p.logger.Warn().Str("job_id", jobID).Msg("cancelling active job")
		cancel()
	}
}
