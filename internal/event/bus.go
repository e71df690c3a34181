package event

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Bus fans events out to subscribers. Publishing never blocks the engine: a
// subscriber that falls behind its buffer loses events, which is acceptable
// for progress-style consumers.
type Bus struct {
	log    *slog.Logger
	buffer int

	mu   sync.RWMutex
	subs map[int]chan Event
	next int
}

// NewBus creates a Bus whose subscriber channels hold up to buffer events.
func NewBus(log *slog.Logger, buffer int) *Bus {
	if log == nil {
		log = slog.Default()
	}
	if buffer <= 0 {
		buffer = 16
	}
	return &Bus{log: log, buffer: buffer, subs: make(map[int]chan Event)}
}

// Subscribe registers a consumer for the lifetime of the engine. The returned
// cancel func unsubscribes deterministically and closes the channel.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	id := b.next
	b.next++
	ch := make(chan Event, b.buffer)
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber. Events published with an
// empty ID are assigned one.
func (b *Bus) Publish(e Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.log.Warn("dropping event for slow subscriber", "event_type", e.Type)
		}
	}
}

var _ Reporter = (*Bus)(nil)
