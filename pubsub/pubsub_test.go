package pubsub

import (
	"context"
	"testing"
	"time"

	"tablecache/codec"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupPubSub(t *testing.T) (*PubSub, *miniredis.Miniredis) {
	t.Helper()

	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { client.Close() })

	ps := New(client, zap.NewNop())
	t.Cleanup(func() { ps.Close() })
	return ps, server
}

func TestPublishAndListen(t *testing.T) {
	ps, _ := setupPubSub(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, ps.Subscribe(ctx, "events"))

	// First event confirms the subscription
	msg, err := ps.Listen(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, TypeSubscribe, msg.Type)
	assert.Equal(t, "events", msg.Channel)
	assert.Equal(t, int64(1), msg.Data)

	n, err := ps.Publish(ctx, "events", map[string]any{"table": "items"}, true)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	msg, err = ps.Listen(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, TypeMessage, msg.Type)
	assert.Equal(t, "events", msg.Channel)
	assert.Equal(t, map[string]any{"table": "items"}, msg.Data)
}

func TestListenRawPayload(t *testing.T) {
	ps, server := setupPubSub(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, ps.Subscribe(ctx, "raw"))
	_, err := ps.Listen(ctx, true)
	require.NoError(t, err)

	// Text whose first byte is a valid msgpack value is not unpacked
	for _, payload := range []string{string([]byte{0xc1}), "hello", "1 2"} {
		server.Publish("raw", payload)

		msg, err := ps.Listen(ctx, true)
		require.NoError(t, err)
		assert.Equal(t, payload, msg.Data)
	}
}

func TestPublishUnpacked(t *testing.T) {
	ps, _ := setupPubSub(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, ps.Subscribe(ctx, "plain"))
	_, err := ps.Listen(ctx, false)
	require.NoError(t, err)

	n, err := ps.Publish(ctx, "plain", "hello", false)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	msg, err := ps.Listen(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, "hello", msg.Data)

	// Packed payloads are left packed when unpacking is not requested
	_, err = ps.Publish(ctx, "plain", "hello", true)
	require.NoError(t, err)
	msg, err = ps.Listen(ctx, false)
	require.NoError(t, err)
	packed, err := codec.Pack("hello")
	require.NoError(t, err)
	assert.Equal(t, string(packed), msg.Data)
}

func TestListenWithoutSubscription(t *testing.T) {
	ps, _ := setupPubSub(t)

	_, err := ps.Listen(context.Background(), true)
	assert.ErrorIs(t, err, ErrNotSubscribed)

	n, err := ps.Publish(context.Background(), "nobody", "hello", true)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}
