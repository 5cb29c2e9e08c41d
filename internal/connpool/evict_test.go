package connpool

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbourn/bot-dispatch/internal/platform/platformtest"
)

func TestRedisNotifier_ListenEvicts(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	c := New(&platformtest.Client{})
	s, err := c.GetOrCreate(context.Background(), "bot-1", "tok")
	require.NoError(t, err)

	n := NewRedisNotifier(client, "")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Listen(ctx, c, zerolog.Nop()) }()

	// Publish until the subscriber is attached.
	assert.Eventually(t, func() bool {
		return client.Publish(context.Background(), DefaultEvictChannel, "unknown").Val() > 0
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, n.Evict(context.Background(), "bot-1"))
	assert.Eventually(t, func() bool { return s.(*platformtest.Session).IsClosed() }, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, c.Len())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Listen did not return after cancel")
	}
}

func TestLocal_Evict(t *testing.T) {
	c := New(&platformtest.Client{})
	_, err := c.GetOrCreate(context.Background(), "bot-1", "tok")
	require.NoError(t, err)

	require.NoError(t, Local{Cache: c}.Evict(context.Background(), "bot-1"))
	assert.Zero(t, c.Len())
}
