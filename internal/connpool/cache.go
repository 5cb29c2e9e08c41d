// Package connpool keeps one live platform session per bot for the lifetime
// of a worker process.
//
// Lookups for an existing session take a read lock and perform no network
// I/O. A miss goes through a singleflight group keyed by bot id, so
// concurrent callers for the same bot share a single login while different
// bots log in in parallel. A session is registered only after its login
// succeeded.
package connpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/tbourn/bot-dispatch/internal/platform"
)

var (
	// ErrCacheClosed is returned by GetOrCreate after Close.
	ErrCacheClosed = errors.New("connpool: cache closed")
	// ErrPermanentCredential wraps a login failure. Retrying the same token
	// is not expected to help.
	ErrPermanentCredential = errors.New("connpool: login failed")
	// ErrEvicted is returned to callers whose login finished after the bot
	// was evicted. The new session is closed, not registered.
	ErrEvicted = errors.New("connpool: bot evicted during login")
)

// Observer receives cache events for metrics.
type Observer interface {
	SessionOpened()
	SessionClosed()
	LoginFailed()
}

type noopObserver struct{}

func (noopObserver) SessionOpened() {}
func (noopObserver) SessionClosed() {}
func (noopObserver) LoginFailed()   {}

// ConnectHook runs after a session for botID has been registered.
type ConnectHook func(ctx context.Context, botID string, at time.Time)

// Cache maps bot ids to live sessions.
type Cache struct {
	client       platform.Client
	logger       zerolog.Logger
	observer     Observer
	onConnect    ConnectHook
	loginTimeout time.Duration

	mu       sync.RWMutex
	sessions map[string]platform.Session
	// epochs counts evictions per bot; a login only registers if the
	// epoch it started under is still current.
	epochs map[string]uint64
	closed bool
	group  singleflight.Group
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the cache logger.
func WithLogger(l zerolog.Logger) Option { return func(c *Cache) { c.logger = l } }

// WithObserver sets the metrics observer.
func WithObserver(o Observer) Option {
	return func(c *Cache) {
		if o != nil {
			c.observer = o
		}
	}
}

// WithConnectHook registers a callback run after each successful login.
func WithConnectHook(h ConnectHook) Option { return func(c *Cache) { c.onConnect = h } }

// WithLoginTimeout bounds each login. The login is detached from the
// caller's cancellation because its result is shared by every waiter.
func WithLoginTimeout(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.loginTimeout = d
		}
	}
}

// New creates an empty cache that logs in through client.
func New(client platform.Client, opts ...Option) *Cache {
	c := &Cache{
		client:       client,
		logger:       zerolog.Nop(),
		observer:     noopObserver{},
		loginTimeout: 30 * time.Second,
		sessions:     make(map[string]platform.Session),
		epochs:       make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetOrCreate returns the session for botID, logging in with token on the
// first call.
func (c *Cache) GetOrCreate(ctx context.Context, botID, token string) (platform.Session, error) {
	if s, ok, err := c.lookup(botID); ok || err != nil {
		return s, err
	}

	v, err, shared := c.group.Do(botID, func() (any, error) {
		// Another flight may have registered it between our miss and now.
		if s, ok, err := c.lookup(botID); ok || err != nil {
			return s, err
		}
		return c.login(ctx, botID, token)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		c.logger.Debug().Str("bot_id", botID).Msg("joined in-flight login")
	}
	return v.(platform.Session), nil
}

func (c *Cache) lookup(botID string) (platform.Session, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, false, ErrCacheClosed
	}
	s, ok := c.sessions[botID]
	return s, ok, nil
}

func (c *Cache) login(ctx context.Context, botID, token string) (platform.Session, error) {
	lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.loginTimeout)
	defer cancel()

	c.mu.RLock()
	epoch := c.epochs[botID]
	c.mu.RUnlock()

	s, err := c.client.Login(lctx, token)
	if err != nil {
		c.observer.LoginFailed()
		c.logger.Warn().Str("bot_id", botID).Err(err).Msg("bot login failed")
		return nil, fmt.Errorf("%w: %w", ErrPermanentCredential, err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = s.Close()
		return nil, ErrCacheClosed
	}
	if c.epochs[botID] != epoch {
		c.mu.Unlock()
		_ = s.Close()
		c.logger.Info().Str("bot_id", botID).Msg("login finished after eviction, session discarded")
		return nil, ErrEvicted
	}
	c.sessions[botID] = s
	c.mu.Unlock()

	now := time.Now().UTC()
	c.observer.SessionOpened()
	c.logger.Info().Str("bot_id", botID).Msg("bot session opened")
	if c.onConnect != nil {
		c.onConnect(context.WithoutCancel(ctx), botID, now)
	}
	return s, nil
}

// Evict closes and forgets the session for botID, if any. A login for botID
// still in flight will discard its session instead of registering it.
func (c *Cache) Evict(botID string) error {
	c.mu.Lock()
	s, ok := c.sessions[botID]
	delete(c.sessions, botID)
	c.epochs[botID]++
	c.mu.Unlock()
	c.group.Forget(botID)
	if !ok {
		return nil
	}
	c.observer.SessionClosed()
	return s.Close()
}

// Len returns the number of live sessions.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sessions)
}

// Close closes every session and rejects later GetOrCreate calls. Sessions
// are closed concurrently; Close returns when all are closed or ctx ends.
func (c *Cache) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	sessions := c.sessions
	c.sessions = make(map[string]platform.Session)
	c.mu.Unlock()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for id, s := range sessions {
		wg.Add(1)
		go func(id string, s platform.Session) {
			defer wg.Done()
			if err := s.Close(); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("close %s: %w", id, err))
				mu.Unlock()
			}
			c.observer.SessionClosed()
		}(id, s)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	c.logger.Info().Int("sessions", len(sessions)).Msg("connection cache closed")
	return errors.Join(errs...)
}
