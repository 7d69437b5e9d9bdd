package eventbus

import (
	"context"
	"errors"
	"iter"
	"sync"

	"github.com/chatline/chat-server/internal/metrics"
)

var ErrClosed = errors.New("eventbus: subscription closed")

// Subscription buffers the payloads of one event name for one consumer.
// The buffer is unbounded so the publisher never blocks and never drops;
// payloads come out in publish order.
type Subscription struct {
	mu     sync.Mutex
	queue  []any
	closed bool
	notify chan struct{}
	done   chan struct{}
	remove func()
}

// Subscribe registers a subscription that lives until ctx is cancelled or
// Close is called, whichever comes first. Tying ctx to the transport
// connection is enough to release the listener.
func (b *Bus) Subscribe(ctx context.Context, event string) *Subscription {
	s := &Subscription{
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	s.remove = b.Listen(event, s.push)
	metrics.BusSubscriptions.Inc()

	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.done:
		}
	}()

	return s
}

func (s *Subscription) push(payload any) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, payload)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Next blocks until a payload is available, the subscription is closed, or
// ctx is done.
func (s *Subscription) Next(ctx context.Context) (any, error) {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return nil, ErrClosed
		}
		if len(s.queue) > 0 {
			payload := s.queue[0]
			s.queue[0] = nil
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return payload, nil
		}
		s.mu.Unlock()

		select {
		case <-s.notify:
		case <-s.done:
			return nil, ErrClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// All returns the subscription as a lazy, infinite sequence. It ends when
// the subscription is closed; breaking out of the loop closes it.
func (s *Subscription) All() iter.Seq[any] {
	return func(yield func(any) bool) {
		defer s.Close()
		for {
			payload, err := s.Next(context.Background())
			if err != nil {
				return
			}
			if !yield(payload) {
				return
			}
		}
	}
}

// Close removes the listener and releases buffered payloads. Safe to call
// more than once.
func (s *Subscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.queue = nil
	close(s.done)
	s.mu.Unlock()

	s.remove()
	metrics.BusSubscriptions.Dec()
}

// Done is closed once the subscription has ended.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}
