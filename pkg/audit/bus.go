package audit

import "sync"

// Bus fans committed records out to in-process subscribers.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Record]struct{}
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[chan Record]struct{})}
}

// Publish delivers r to every subscriber without blocking.
func (b *Bus) Publish(r Record) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- r:
		default:
			// subscriber is behind; drop rather than stall the writer
		}
	}
}

// Subscribe returns a buffered channel that receives all new records.
func (b *Bus) Subscribe() chan Record {
	ch := make(chan Record, 64)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(ch chan Record) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()
}

// Subscribers returns the current subscriber count.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
