package ledger

import "sync"

type subscriber struct {
	id int
	fn func()
}

// Bus is the process-wide change-event fan-out. Publish runs every
// current subscriber synchronously on the caller's goroutine, in
// subscription order, so an already-mounted consumer reacts in the
// same tick as the write that triggered it.
type Bus struct {
	mu     sync.Mutex
	nextID int
	subs   map[ChangeEvent][]subscriber
}

func NewBus() *Bus {
	return &Bus{subs: map[ChangeEvent][]subscriber{}}
}

// Subscribe registers fn for event and returns a cancel func. Core
// consumers (repositories, sync) never cancel; the cancel path exists
// for transient consumers such as websocket feeds.
func (b *Bus) Subscribe(event ChangeEvent, fn func()) func() {
	if b == nil || fn == nil {
		return func() {}
	}
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[event] = append(b.subs[event], subscriber{id: id, fn: fn})
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		current := b.subs[event]
		for i := range current {
			if current[i].id == id {
				b.subs[event] = append(current[:i:i], current[i+1:]...)
				return
			}
		}
	}
}

// Publish delivers event to all current subscribers.
func (b *Bus) Publish(event ChangeEvent) {
	if b == nil {
		return
	}
	b.mu.Lock()
	handlers := make([]func(), 0, len(b.subs[event]))
	for _, sub := range b.subs[event] {
		handlers = append(handlers, sub.fn)
	}
	b.mu.Unlock()
	for _, fn := range handlers {
		fn()
	}
}
