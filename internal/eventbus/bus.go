// Package eventbus is an in-process publish/subscribe channel keyed by
// event name. It keeps nothing beyond process lifetime and knows nothing
// about chats; callers layer their own filters on top.
package eventbus

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/chatline/chat-server/internal/metrics"
)

// Listener receives a published payload. It runs on the publisher's
// goroutine and must not block.
type Listener func(payload any)

type Bus struct {
	mu        sync.RWMutex
	listeners map[string]map[uint64]Listener
	nextID    uint64
}

func New() *Bus {
	return &Bus{
		listeners: make(map[string]map[uint64]Listener),
	}
}

// Listen registers fn for event and returns the function that removes it.
// The returned function is idempotent.
func (b *Bus) Listen(event string, fn Listener) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	if b.listeners[event] == nil {
		b.listeners[event] = make(map[uint64]Listener)
	}
	b.listeners[event][id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if set, ok := b.listeners[event]; ok {
				delete(set, id)
				if len(set) == 0 {
					delete(b.listeners, event)
				}
			}
		})
	}
}

// Publish delivers payload once to every listener registered for event at
// the time of the call. Zero listeners is a no-op. A panicking listener is
// logged and does not affect the publisher or the other listeners.
func (b *Bus) Publish(event string, payload any) {
	b.mu.RLock()
	set := b.listeners[event]
	snapshot := make([]Listener, 0, len(set))
	for _, fn := range set {
		snapshot = append(snapshot, fn)
	}
	b.mu.RUnlock()

	metrics.BusPublishedTotal.WithLabelValues(event).Inc()

	for _, fn := range snapshot {
		deliver(event, fn, payload)
	}
}

func deliver(event string, fn Listener, payload any) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("event", event).
				Interface("panic", r).
				Msg("event listener panicked")
		}
	}()
	fn(payload)
}

func (b *Bus) ListenerCount(event string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners[event])
}
