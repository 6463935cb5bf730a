// Package events fans engine transitions out to subscribers.
package events

import (
	"sync"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_block/internal/domain"
)

// Bus is a non-blocking in-process publisher. A subscriber that falls
// behind loses events rather than stalling an engine.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan domain.Event
	nextID int
	logger *zap.Logger
}

// NewBus creates an empty bus.
func NewBus(logger *zap.Logger) *Bus {
	return &Bus{subs: make(map[int]chan domain.Event), logger: logger}
}

// Subscribe returns a channel receiving every event published after the call,
// and a cancel func that unsubscribes and closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan domain.Event, func()) {
	ch := make(chan domain.Event, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers e to every subscriber with room in its buffer.
func (b *Bus) Publish(e domain.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.logger.Debug("dropping event for slow subscriber",
				zap.Int("subscriber", id),
				zap.String("kind", string(e.Kind)))
		}
	}
}

// Ensure Bus implements domain.EventPublisher.
var _ domain.EventPublisher = (*Bus)(nil)

// Discard is a publisher that drops everything.
type Discard struct{}

func (Discard) Publish(domain.Event) {}
