package queue

import (
	"context"
	"errors"
	"sync"

	"fraudScoringApp/internal/domain/model"
	"fraudScoringApp/internal/domain/repository"
	"fraudScoringApp/internal/metrics"
)

var (
	ErrBusClosed = errors.New("decision bus closed")
	ErrBusFull   = errors.New("decision bus full")
)

// ChannelBus is the in-process decision sink used when no Kafka brokers are
// configured. It is both the publisher and the consumer. Commit is a no-op.
type ChannelBus struct {
	mu     sync.RWMutex
	ch     chan *model.DecisionEvent
	closed bool
}

func NewChannelBus(buffer int) *ChannelBus {
	if buffer <= 0 {
		buffer = 1000
	}
	return &ChannelBus{ch: make(chan *model.DecisionEvent, buffer)}
}

var (
	_ repository.DecisionPublisher = (*ChannelBus)(nil)
	_ DecisionConsumer             = (*ChannelBus)(nil)
)

// PublishDecision never blocks. When the buffer is full the event is
// dropped and ErrBusFull returned.
func (b *ChannelBus) PublishDecision(ctx context.Context, event *model.DecisionEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrBusClosed
	}
	select {
	case b.ch <- event:
		return nil
	default:
		metrics.DecisionEventsDropped.WithLabelValues("channel").Inc()
		return ErrBusFull
	}
}

// Subscribe returns the shared channel. Only one subscriber is expected.
func (b *ChannelBus) Subscribe(context.Context) (<-chan *model.DecisionEvent, error) {
	return b.ch, nil
}

func (b *ChannelBus) Commit(context.Context, *model.DecisionEvent) error { return nil }

func (b *ChannelBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.closed {
		b.closed = true
		close(b.ch)
	}
	return nil
}
