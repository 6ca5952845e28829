package feed

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisBroker(t *testing.T) (*RedisBroker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisBroker(client), mr
}

func receive(t *testing.T, sub Subscription) Message {
	t.Helper()
	select {
	case msg, ok := <-sub.Messages():
		require.True(t, ok, "subscription closed")
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
	return Message{}
}

// brokerContract runs the behavior every Broker must share.
func brokerContract(t *testing.T, b Broker) {
	ctx := context.Background()

	t.Run("subscribe ack then messages", func(t *testing.T) {
		sub, err := b.Subscribe(ctx, "topic")
		require.NoError(t, err)
		defer sub.Close()

		ack := receive(t, sub)
		assert.Equal(t, KindSubscribe, ack.Kind)
		assert.Equal(t, "topic", ack.Channel)

		require.NoError(t, b.Publish(ctx, "other", []byte("ignored")))
		require.NoError(t, b.Publish(ctx, "topic", []byte("hello")))
		msg := receive(t, sub)
		assert.Equal(t, KindMessage, msg.Kind)
		assert.Equal(t, "hello", string(msg.Payload))
	})

	t.Run("close ends the message channel", func(t *testing.T) {
		sub, err := b.Subscribe(ctx, "topic")
		require.NoError(t, err)
		require.NoError(t, sub.Close())
		require.Eventually(t, func() bool {
			select {
			case _, ok := <-sub.Messages():
				return !ok
			default:
				return false
			}
		}, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("cancelled context ends the subscription", func(t *testing.T) {
		subCtx, cancel := context.WithCancel(ctx)
		sub, err := b.Subscribe(subCtx, "topic")
		require.NoError(t, err)
		defer sub.Close()
		receive(t, sub)
		cancel()
		require.Eventually(t, func() bool {
			select {
			case _, ok := <-sub.Messages():
				return !ok
			default:
				return false
			}
		}, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("push range unlink", func(t *testing.T) {
		for _, p := range []string{"a", "b", "c"} {
			require.NoError(t, b.Push(ctx, "seen", []byte(p), 2))
		}
		items, err := b.Range(ctx, "seen")
		require.NoError(t, err)
		assert.Equal(t, [][]byte{[]byte("c"), []byte("b")}, items)

		require.NoError(t, b.Unlink(ctx, "seen"))
		items, err = b.Range(ctx, "seen")
		require.NoError(t, err)
		assert.Empty(t, items)
	})

	t.Run("healthy", func(t *testing.T) {
		assert.True(t, b.Healthy(ctx))
	})
}

func TestInMemoryBroker(t *testing.T) {
	brokerContract(t, NewInMemory(8))
}

func TestInMemoryDropsWhenFull(t *testing.T) {
	ctx := context.Background()
	b := NewInMemory(1)
	sub, err := b.Subscribe(ctx, "topic")
	require.NoError(t, err)
	defer sub.Close()
	assert.Equal(t, 1, b.Subscribers("topic"))

	for i := 0; i < 5; i++ {
		require.NoError(t, b.Publish(ctx, "topic", []byte{byte('0' + i)}))
	}
	assert.Equal(t, KindSubscribe, receive(t, sub).Kind)
	assert.Equal(t, "0", string(receive(t, sub).Payload))
	select {
	case msg := <-sub.Messages():
		t.Fatalf("unexpected message %q", msg.Payload)
	default:
	}

	require.NoError(t, sub.Close())
	assert.Zero(t, b.Subscribers("topic"))
}

func TestRedisBroker(t *testing.T) {
	b, _ := newRedisBroker(t)
	brokerContract(t, b)
}

func TestRedisBrokerUnhealthy(t *testing.T) {
	b, mr := newRedisBroker(t)
	mr.Close()
	assert.False(t, b.Healthy(context.Background()))
}
