package connectivity

import "sync"

// broadcaster publishes events of type T to many subscribers.
type broadcaster[T any] struct {
	mu     sync.RWMutex
	subs   map[chan T]struct{}
	buffer int
}

func newBroadcaster[T any](buffer int) *broadcaster[T] {
	if buffer <= 0 {
		buffer = 1
	}
	return &broadcaster[T]{
		subs:   make(map[chan T]struct{}),
		buffer: buffer,
	}
}

func (b *broadcaster[T]) subscribe() chan T {
	ch := make(chan T, b.buffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// unsubscribe removes a subscription and closes its channel.
func (b *broadcaster[T]) unsubscribe(ch chan T) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()
}

// publish never blocks. When a subscriber falls behind its oldest pending
// event is dropped, so the newest one is always delivered.
func (b *broadcaster[T]) publish(evt T) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	dropped := 0
	for ch := range b.subs {
		select {
		case ch <- evt:
			continue
		default:
		}
		select {
		case <-ch:
			dropped++
		default:
		}
		select {
		case ch <- evt:
		default:
			dropped++
		}
	}
	return dropped
}

func (b *broadcaster[T]) close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for ch := range b.subs {
		delete(b.subs, ch)
		close(ch)
	}
}
