package feed

import (
	"context"
	"sync"
)

// Kind tags an inbound broker message.
type Kind int

const (
	// KindMessage carries a published payload.
	KindMessage Kind = iota
	// KindSubscribe and KindUnsubscribe are protocol acks; viewers never see them.
	KindSubscribe
	KindUnsubscribe
)

// Message is one item received on a subscription.
type Message struct {
	Kind    Kind
	Channel string
	Payload []byte
}

// Subscription is a live listen on one channel. Messages is closed after
// Close or when the broker connection ends.
type Subscription interface {
	Messages() <-chan Message
	Close() error
}

// Broker is the pub/sub abstraction over different backends, plus the small
// list operations used for the "recently seen" buffer.
type Broker interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (Subscription, error)
	// Push prepends payload to the list at key, keeping at most limit items
	// when limit > 0.
	Push(ctx context.Context, key string, payload []byte, limit int) error
	// Range returns the whole list at key, most recent first.
	Range(ctx context.Context, key string) ([][]byte, error)
	Unlink(ctx context.Context, key string) error
	Healthy(ctx context.Context) bool
}

// InMemory is a minimal channel-backed broker for dev/testing. Delivery is
// best effort: a subscriber whose buffer is full misses the message.
type InMemory struct {
	mu    sync.Mutex
	size  int
	subs  map[string]map[*memSub]struct{}
	lists map[string][][]byte
}

// NewInMemory creates a broker whose subscribers buffer up to size messages.
func NewInMemory(size int) *InMemory {
	if size <= 0 {
		size = 64
	}
	return &InMemory{
		size:  size,
		subs:  make(map[string]map[*memSub]struct{}),
		lists: make(map[string][][]byte),
	}
}

type memSub struct {
	b       *InMemory
	channel string
	ch      chan Message
	done    chan struct{}
	once    sync.Once
}

func (s *memSub) Messages() <-chan Message { return s.ch }

func (s *memSub) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.b.mu.Lock()
		delete(s.b.subs[s.channel], s)
		close(s.ch)
		s.b.mu.Unlock()
	})
	return nil
}

// Publish fans payload out to every current subscriber of channel.
func (b *InMemory) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subs[channel] {
		select {
		case s.ch <- Message{Kind: KindMessage, Channel: channel, Payload: payload}:
		default:
		}
	}
	return nil
}

// Subscribe registers a listener. The first message is the subscribe ack.
// The subscription is closed when ctx ends.
func (b *InMemory) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	s := &memSub{b: b, channel: channel, ch: make(chan Message, b.size+1), done: make(chan struct{})}
	s.ch <- Message{Kind: KindSubscribe, Channel: channel}
	b.mu.Lock()
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[*memSub]struct{})
	}
	b.subs[channel][s] = struct{}{}
	b.mu.Unlock()
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-s.done:
		}
	}()
	return s, nil
}

// Subscribers returns the number of live subscriptions on channel.
func (b *InMemory) Subscribers(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[channel])
}

func (b *InMemory) Push(_ context.Context, key string, payload []byte, limit int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := append([][]byte{payload}, b.lists[key]...)
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	b.lists[key] = list
	return nil
}

func (b *InMemory) Range(_ context.Context, key string) ([][]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]byte(nil), b.lists[key]...), nil
}

func (b *InMemory) Unlink(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.lists, key)
	return nil
}

func (b *InMemory) Healthy(context.Context) bool { return true }
