package manager

import (
	"log/slog"
	"sync"

	"github.com/agentmux/agentmux/event"
)

// Broadcaster fans out canonical events to multiple subscriber channels.
// Each subscriber has its own buffered channel; if a subscriber falls
// behind, the oldest event is dropped so the stream never blocks.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[int]chan event.Event
	nextID      int
	closed      bool
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[int]chan event.Event),
	}
}

// Subscribe creates a subscriber channel with the given buffer size and
// returns its id (for Unsubscribe) and the read-only channel.
func (b *Broadcaster) Subscribe(bufSize int) (int, <-chan event.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++

	ch := make(chan event.Event, bufSize)
	if b.closed {
		close(ch)
		return id, ch
	}
	b.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broadcaster) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.subscribers[id]; ok {
		delete(b.subscribers, id)
		close(ch)
	}
}

// Broadcast delivers one event to every subscriber. A full subscriber
// loses its oldest event, never the stream.
func (b *Broadcaster) Broadcast(ev event.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subscribers {
		select {
		case ch <- ev:
		default:
			select {
			case <-ch:
				slog.Warn("subscriber behind, dropping oldest event", "subscriber", id)
			default:
			}
			select {
			case ch <- ev:
			default:
				slog.Warn("could not deliver event to subscriber", "subscriber", id)
			}
		}
	}
}

// Close closes every subscriber channel. Later subscriptions get an
// already-closed channel.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	for id, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, id)
	}
}
