package lockstate

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/xtrakernel/freqlockd/internal/domain"
)

// DefaultEventBuffer is the per-subscriber event buffer.
const DefaultEventBuffer = 64

// Events broadcasts ThermalEvents to subscribers. Events published before a
// subscription are never delivered to it.
type Events struct {
	mu      sync.RWMutex
	subs    map[int]chan domain.ThermalEvent
	nextID  int
	buffer  int
	dropped atomic.Int64
}

// NewEvents creates a broadcaster with the given per-subscriber buffer.
func NewEvents(buffer int) *Events {
	if buffer <= 0 {
		buffer = DefaultEventBuffer
	}
	return &Events{
		subs:   make(map[int]chan domain.ThermalEvent),
		buffer: buffer,
	}
}

// Publish delivers ev to every subscriber without blocking.
func (e *Events) Publish(ev domain.ThermalEvent) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, ch := range e.subs {
		select {
		case ch <- ev:
		default:
			e.dropped.Add(1)
		}
	}
}

// Subscribe returns a channel of events published from now on. The channel is
// closed when ctx is done.
func (e *Events) Subscribe(ctx context.Context) <-chan domain.ThermalEvent {
	ch := make(chan domain.ThermalEvent, e.buffer)

	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.subs[id] = ch
	e.mu.Unlock()

	go func() {
		<-ctx.Done()
		e.mu.Lock()
		delete(e.subs, id)
		close(ch)
		e.mu.Unlock()
	}()
	return ch
}

// Dropped returns how many deliveries were skipped because a subscriber's
// buffer was full.
func (e *Events) Dropped() int64 {
	return e.dropped.Load()
}
