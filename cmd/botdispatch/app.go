package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/bot-dispatch/internal/config"
	"github.com/tbourn/bot-dispatch/internal/connpool"
	"github.com/tbourn/bot-dispatch/internal/credential"
	"github.com/tbourn/bot-dispatch/internal/observability"
	"github.com/tbourn/bot-dispatch/internal/platform"
	"github.com/tbourn/bot-dispatch/internal/platform/discord"
	"github.com/tbourn/bot-dispatch/internal/queue"
	"github.com/tbourn/bot-dispatch/internal/repo"
	"github.com/tbourn/bot-dispatch/internal/services"
)

// app holds the process-wide dependencies shared by serve and worker.
type app struct {
	cfg      config.Config
	logger   zerolog.Logger
	db       *gorm.DB
	cipher   *credential.Cipher
	queue    queue.Queue
	redis    goredis.UniversalClient // nil with the in-memory queue
	registry *prometheus.Registry
	metrics  *observability.DispatchMetrics

	otelShutdown func(context.Context) error
}

// newApp opens the database, builds the cipher and connects the queue.
func newApp(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*app, error) {
	if err := cfg.RequireEncryptionKey(); err != nil {
		return nil, err
	}
	cipher, err := credential.NewCipher(cfg.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("cipher: %w", err)
	}

	shutdown, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		return nil, fmt.Errorf("otel: %w", err)
	}

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		_ = shutdown(ctx)
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		_ = shutdown(ctx)
		return nil, fmt.Errorf("migrate: %w", err)
	}

	a := &app{
		cfg:          cfg,
		logger:       logger,
		db:           db,
		cipher:       cipher,
		registry:     prometheus.NewRegistry(),
		otelShutdown: shutdown,
	}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = observability.NewDispatchMetrics(a.registry, logger)

	q, client, err := openQueue(ctx, cfg.Queue)
	if err != nil {
		a.close(ctx)
		return nil, err
	}
	a.queue, a.redis = q, client
	if client == nil {
		logger.Warn().Msg("REDIS_URL not set, using the in-memory queue; jobs do not survive restarts")
	}
	return a, nil
}

// openQueue returns a Redis-backed queue when a URL is configured and the
// in-memory queue otherwise.
func openQueue(ctx context.Context, qc config.QueueConfig) (queue.Queue, goredis.UniversalClient, error) {
	if qc.RedisURL == "" {
		return queue.NewMemoryQueue(), nil, nil
	}
	opts, err := goredis.ParseURL(qc.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("redis url: %w", err)
	}
	client := goredis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}
	return queue.NewRedisQueue(client, qc.Name), client, nil
}

func (a *app) policy() queue.Policy {
	return queue.Policy{
		MaxAttempts: a.cfg.Queue.MaxAttempts,
		Backoff:     queue.NewExponential(a.cfg.Queue.BackoffInitial, a.cfg.Queue.BackoffMax),
	}
}

func (a *app) botService(ev services.SessionEvicter) *services.BotService {
	return &services.BotService{
		DB:           a.db,
		Cipher:       a.cipher,
		Evicter:      ev,
		MaxNameRunes: a.cfg.Queue.MaxBotNameRunes,
		Logger:       a.logger.With().Str("component", "bots").Logger(),
	}
}

func (a *app) dispatchService() *services.DispatchService {
	return &services.DispatchService{
		DB:              a.db,
		Queue:           a.queue,
		Policy:          a.policy(),
		IdempotencyTTL:  a.cfg.Queue.IdempotencyTTL,
		MaxContentRunes: a.cfg.Queue.MaxContentRunes,
		Logger:          a.logger.With().Str("component", "dispatch").Logger(),
	}
}

// evicter picks how bot deletions reach worker session caches.
func (a *app) evicter(local *connpool.Cache) services.SessionEvicter {
	if local != nil {
		return connpool.Local{Cache: local}
	}
	if a.redis != nil {
		return connpool.NewRedisNotifier(a.redis, a.cfg.Queue.EvictChannel)
	}
	return nil
}

// close releases the queue client, the database and the tracer provider.
func (a *app) close(ctx context.Context) {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("close redis")
		}
	}
	if sqlDB, err := a.db.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("close db")
		}
	}
	if a.otelShutdown != nil {
		if err := a.otelShutdown(ctx); err != nil {
			a.logger.Warn().Err(err).Msg("otel shutdown")
		}
	}
}

// workerRuntime is a running consumer pool with its session cache, eviction
// listener and sweeper.
type workerRuntime struct {
	pool   *queue.Pool
	cache  *connpool.Cache
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger zerolog.Logger
}

// startWorker launches the consumer pool against a.queue using client to
// open platform sessions.
func (a *app) startWorker(ctx context.Context, client platform.Client) (*workerRuntime, error) {
	logger := a.logger.With().Str("component", "worker").Logger()

	cache := connpool.New(client,
		connpool.WithLogger(logger),
		connpool.WithObserver(a.metrics),
		connpool.WithLoginTimeout(a.cfg.Worker.LoginTimeout),
		connpool.WithConnectHook(func(ctx context.Context, botID string, at time.Time) {
			if err := repo.TouchBotConnected(ctx, a.db, botID, at); err != nil {
				logger.Warn().Err(err).Str("bot_id", botID).Msg("record bot connect")
			}
		}),
	)

	consumer := &services.Consumer{DB: a.db, Cipher: a.cipher, Cache: cache, Logger: logger}
	pool := queue.NewPool(a.queue, consumer,
		queue.WithConcurrency(a.cfg.Worker.Concurrency),
		queue.WithPollInterval(a.cfg.Worker.PollInterval),
		queue.WithVisibilityTimeout(a.cfg.Worker.VisibilityTimeout),
		queue.WithJobTimeout(a.cfg.Worker.JobTimeout),
		queue.WithDeadLetterHook(consumer.OnDeadLetter),
		queue.WithObserver(a.metrics),
		queue.WithLogger(logger),
	)

	bg, cancel := context.WithCancel(ctx)
	rt := &workerRuntime{pool: pool, cache: cache, cancel: cancel, logger: logger}

	if err := pool.Start(bg); err != nil {
		cancel()
		return nil, fmt.Errorf("start pool: %w", err)
	}

	if a.redis != nil {
		notifier := connpool.NewRedisNotifier(a.redis, a.cfg.Queue.EvictChannel)
		rt.wg.Add(1)
		go func() {
			defer rt.wg.Done()
			if err := notifier.Listen(bg, cache, logger); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Msg("eviction listener stopped")
			}
		}()
	}

	if a.cfg.Sweep.Enabled {
		sweeper := &services.Sweeper{
			DB:        a.db,
			Queue:     a.queue,
			Policy:    a.policy(),
			Interval:  a.cfg.Sweep.Interval,
			Threshold: a.cfg.Sweep.Threshold,
			BatchSize: a.cfg.Sweep.BatchSize,
			Logger:    logger.With().Str("component", "sweeper").Logger(),
			Observer:  a.metrics,
		}
		rt.wg.Add(1)
		go func() {
			defer rt.wg.Done()
			sweeper.Run(bg)
		}()
	}

	logger.Info().
		Int("concurrency", a.cfg.Worker.Concurrency).
		Bool("sweeper", a.cfg.Sweep.Enabled).
		Bool("redis", a.redis != nil).
		Msg("worker started")
	return rt, nil
}

// stop drains in-flight jobs, then closes every cached session.
func (rt *workerRuntime) stop(ctx context.Context) {
	if err := rt.pool.Stop(ctx); err != nil {
		rt.logger.Warn().Err(err).Msg("pool stop")
	}
	rt.cancel()
	rt.wg.Wait()
	if err := rt.cache.Close(ctx); err != nil {
		rt.logger.Warn().Err(err).Msg("close sessions")
	}
	rt.logger.Info().Msg("worker stopped")
}

func newDiscordClient() platform.Client { return discord.NewClient() }
