package feed

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisBroker implements Broker with Redis PUBLISH/SUBSCRIBE and a list.
type RedisBroker struct {
	client *redis.Client
}

// NewRedisBroker wraps an existing client.
func NewRedisBroker(client *redis.Client) *RedisBroker {
	return &RedisBroker{client: client}
}

// Publish sends payload to every subscriber of channel.
func (b *RedisBroker) Publish(ctx context.Context, channel string, payload []byte) error {
	return b.client.Publish(ctx, channel, payload).Err()
}

// Subscribe opens a dedicated pub/sub connection. It waits for the subscribe
// ack so connection errors surface here rather than on the stream. The
// subscription is closed when ctx ends.
func (b *RedisBroker) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	ps := b.client.Subscribe(ctx, channel)
	ack, err := ps.Receive(ctx)
	if err != nil {
		_ = ps.Close()
		return nil, err
	}
	s := &redisSub{ps: ps, out: make(chan Message, 16), done: make(chan struct{})}
	go s.pump(ctx, ack)
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-s.done:
		}
	}()
	return s, nil
}

type redisSub struct {
	ps   *redis.PubSub
	out  chan Message
	done chan struct{}
	once sync.Once
}

func (s *redisSub) Messages() <-chan Message { return s.out }

func (s *redisSub) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.ps.Close()
	})
	return err
}

func (s *redisSub) pump(ctx context.Context, first interface{}) {
	defer close(s.out)
	in := s.ps.ChannelWithSubscriptions(redis.WithChannelSize(64))
	if !s.send(ctx, first) {
		_ = s.Close()
		return
	}
	for v := range in {
		if !s.send(ctx, v) {
			_ = s.Close()
			return
		}
	}
}

func (s *redisSub) send(ctx context.Context, v interface{}) bool {
	var msg Message
	switch m := v.(type) {
	case *redis.Message:
		msg = Message{Kind: KindMessage, Channel: m.Channel, Payload: []byte(m.Payload)}
	case *redis.Subscription:
		msg = Message{Kind: KindUnsubscribe, Channel: m.Channel}
		if m.Kind == "subscribe" || m.Kind == "psubscribe" {
			msg.Kind = KindSubscribe
		}
	default:
		return true
	}
	select {
	case s.out <- msg:
		return true
	case <-s.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// Push prepends to the list and trims it when limit > 0.
func (b *RedisBroker) Push(ctx context.Context, key string, payload []byte, limit int) error {
	_, err := b.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LPush(ctx, key, payload)
		if limit > 0 {
			p.LTrim(ctx, key, 0, int64(limit-1))
		}
		return nil
	})
	return err
}

// Range reads the whole list.
func (b *RedisBroker) Range(ctx context.Context, key string) ([][]byte, error) {
	items, err := b.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([][]byte, len(items))
	for i, it := range items {
		out[i] = []byte(it)
	}
	return out, nil
}

// Unlink deletes the list.
func (b *RedisBroker) Unlink(ctx context.Context, key string) error {
	return b.client.Unlink(ctx, key).Err()
}

// Healthy verifies redis connectivity.
func (b *RedisBroker) Healthy(ctx context.Context) bool {
	return b.client != nil && b.client.Ping(ctx).Err() == nil
}
