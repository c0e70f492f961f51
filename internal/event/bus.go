// Package event is a small typed publish/subscribe bus with explicit
// unsubscribe handles.
package event

import (
	"sync"
)

// Subscription is returned by Subscribe; Unsubscribe is idempotent.
type Subscription interface {
	Unsubscribe()
}

type handler[T any] struct {
	id uint64
	fn func(T)
}

// Bus delivers each published value to every current subscriber, synchronously,
// in subscription order. Handlers run outside the bus lock and may subscribe or
// unsubscribe from inside the callback.
type Bus[T any] struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers []handler[T]
}

func NewBus[T any]() *Bus[T] { return &Bus[T]{} }

func (b *Bus[T]) Subscribe(fn func(T)) Subscription {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.handlers = append(b.handlers, handler[T]{id: id, fn: fn})
	b.mu.Unlock()
	return &subscription[T]{bus: b, id: id}
}

func (b *Bus[T]) Publish(v T) {
	b.mu.RLock()
	hs := make([]handler[T], len(b.handlers))
	copy(hs, b.handlers)
	b.mu.RUnlock()

	for _, h := range hs {
		h.fn(v)
	}
}

// Len returns the number of live subscriptions.
func (b *Bus[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers)
}

func (b *Bus[T]) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, h := range b.handlers {
		if h.id == id {
			b.handlers = append(b.handlers[:i:i], b.handlers[i+1:]...)
			return
		}
	}
}

type subscription[T any] struct {
	bus  *Bus[T]
	id   uint64
	once sync.Once
}

func (s *subscription[T]) Unsubscribe() {
	s.once.Do(func() { s.bus.remove(s.id) })
}

// Group unsubscribes a set of subscriptions together.
type Group struct {
	mu   sync.Mutex
	subs []Subscription
}

func (g *Group) Add(s Subscription) {
	g.mu.Lock()
	g.subs = append(g.subs, s)
	g.mu.Unlock()
}

// Unsubscribe releases every subscription added so far and empties the group.
func (g *Group) Unsubscribe() {
	g.mu.Lock()
	subs := g.subs
	g.subs = nil
	g.mu.Unlock()
	for _, s := range subs {
		s.Unsubscribe()
	}
}
