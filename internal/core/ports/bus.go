package ports

import (
	"context"

	"livebid/internal/core/domain"
)

// SignalBus is the topic-scoped broadcast channel peers and the coordinator
// cooperate through. Delivery is at-least-once and fan-out: every current
// subscriber of a topic receives every envelope, including the sender.
// Ordering is preserved per sender only.
type SignalBus interface {
	Publish(ctx context.Context, topic string, env *domain.Envelope) error
	Subscribe(ctx context.Context, topic string) (Subscription, error)
}

type Subscription interface {
	// Messages is closed when the subscription is closed or the context
	// passed to Subscribe is cancelled.
	Messages() <-chan *domain.Envelope
	Close() error
}

// SessionTopic names the bus topic carrying all traffic for one session.
func SessionTopic(id domain.SessionID) string {
	return "livebid:session:" + string(id)
}
