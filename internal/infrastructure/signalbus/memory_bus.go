package signalbus

import (
	"context"
	"sync"

	"livebid/internal/core/domain"
	"livebid/internal/core/ports"
)

// MemoryBus is an in-process signaling channel with the same fan-out
// semantics as the Redis bus. It backs tests and single-node runs without
// Redis.
type MemoryBus struct {
	mu     sync.RWMutex
	topics map[string][]*memorySubscription
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		topics: make(map[string][]*memorySubscription),
	}
}

func (b *MemoryBus) Publish(ctx context.Context, topic string, env *domain.Envelope) error {
	b.mu.RLock()
	subs := make([]*memorySubscription, len(b.topics[topic]))
	copy(subs, b.topics[topic])
	b.mu.RUnlock()

	// Deliver to every subscriber, sender included. Per-subscriber order
	// follows publish order for a single sender.
	for _, sub := range subs {
		sub.deliver(env)
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, topic string) (ports.Subscription, error) {
	sub := &memorySubscription{
		bus:   b,
		topic: topic,
		out:   make(chan *domain.Envelope, 64),
	}

	b.mu.Lock()
	b.topics[topic] = append(b.topics[topic], sub)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		sub.Close()
	}()

	return sub, nil
}

type memorySubscription struct {
	bus   *MemoryBus
	topic string
	out   chan *domain.Envelope

	closeOnce sync.Once
	mu        sync.Mutex
	closed    bool
}

func (s *memorySubscription) deliver(env *domain.Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.out <- env:
	default:
		// Slow subscriber: the channel is best-effort, drop rather than
		// block the publisher.
	}
}

func (s *memorySubscription) Messages() <-chan *domain.Envelope {
	return s.out
}

func (s *memorySubscription) Close() error {
	s.closeOnce.Do(func() {
		s.bus.mu.Lock()
		subs := s.bus.topics[s.topic]
		for i, sub := range subs {
			if sub == s {
				s.bus.topics[s.topic] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		s.bus.mu.Unlock()

		s.mu.Lock()
		s.closed = true
		close(s.out)
		s.mu.Unlock()
	})
	return nil
}
