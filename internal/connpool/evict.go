package connpool

import (
	"context"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultEvictChannel is the Redis pub/sub channel carrying bot ids whose
// sessions must be dropped.
const DefaultEvictChannel = "botdispatch:bot-evict"

// RedisNotifier broadcasts session evictions from the API process to every
// worker over Redis pub/sub.
type RedisNotifier struct {
	client  goredis.UniversalClient
	channel string
}

// NewRedisNotifier returns a notifier on channel (DefaultEvictChannel when
// empty).
func NewRedisNotifier(client goredis.UniversalClient, channel string) *RedisNotifier {
	if channel == "" {
		channel = DefaultEvictChannel
	}
	return &RedisNotifier{client: client, channel: channel}
}

// Evict publishes botID. Workers that are not listening miss it; their
// session for a deleted bot simply goes unused.
func (n *RedisNotifier) Evict(ctx context.Context, botID string) error {
	return n.client.Publish(ctx, n.channel, botID).Err()
}

// Listen evicts every announced bot from c until ctx ends.
func (n *RedisNotifier) Listen(ctx context.Context, c *Cache, logger zerolog.Logger) error {
	sub := n.client.Subscribe(ctx, n.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if err := c.Evict(msg.Payload); err != nil {
				logger.Warn().Err(err).Str("bot_id", msg.Payload).Msg("evict session")
				continue
			}
			logger.Debug().Str("bot_id", msg.Payload).Msg("session evicted on notice")
		}
	}
}

// Local evicts directly from an in-process cache.
type Local struct {
	Cache *Cache
}

// Evict drops botID from the cache.
func (l Local) Evict(_ context.Context, botID string) error { return l.Cache.Evict(botID) }
