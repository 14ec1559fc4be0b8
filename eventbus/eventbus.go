// Package eventbus implements the broadcast/callback-list event sources
// the socket and channel layers expose (socket-opened, socket-closed,
// socket-errored, socket-received-message, channel-message, push-response
// — spec §9). Each subscription is independently cancellable and the bus
// retains no listener beyond an explicit Unsubscribe or the bus itself
// being dropped.
package eventbus

import (
	"sync"

	"github.com/google/uuid"
)

// Subscription identifies one registered listener, returned by Subscribe
// and consumed by Unsubscribe. Using a uuid rather than an index lets a
// listener be removed independently of subscription order, matching
// spec §9's "each listener must be cancellable independently."
type Subscription = uuid.UUID

// Bus is a typed fan-out broadcaster: N listeners, each delivered every
// event Emit is called with, in subscription order. Emit is synchronous —
// unlike the teacher's fire-and-forget `go handler(payload)` dispatch —
// because the socket/channel layers need inbound-frame delivery order to
// be preserved (spec §5); callers that want concurrency can hop to a
// goroutine inside their own listener.
type Bus[T any] struct {
	mu        sync.Mutex
	listeners map[Subscription]func(T)
	order     []Subscription
}

// New creates an empty event bus for events of type T.
func New[T any]() *Bus[T] {
	return &Bus[T]{listeners: make(map[Subscription]func(T))}
}

// Subscribe registers fn to be called on every future Emit, and returns a
// handle that Unsubscribe accepts to stop delivery.
func (b *Bus[T]) Subscribe(fn func(T)) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := uuid.New()
	b.listeners[id] = fn
	b.order = append(b.order, id)
	return id
}

// Unsubscribe removes a listener. It is a no-op if the subscription is
// unknown or was already removed.
func (b *Bus[T]) Unsubscribe(id Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.listeners[id]; !ok {
		return
	}
	delete(b.listeners, id)
	for i, sub := range b.order {
		if sub == id {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
}

// Emit delivers event to every currently-subscribed listener, in
// subscription order. Listeners registered or removed from within a
// listener callback take effect on the next Emit, not the current one.
func (b *Bus[T]) Emit(event T) {
	b.mu.Lock()
	fns := make([]func(T), 0, len(b.order))
	for _, id := range b.order {
		if fn, ok := b.listeners[id]; ok {
			fns = append(fns, fn)
		}
	}
	b.mu.Unlock()

	for _, fn := range fns {
		fn(event)
	}
}

// Len reports the current listener count, mainly for diagnostics/tests.
func (b *Bus[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.order)
}

// Clear removes every listener, used when the owning Socket/Channel is
// being torn down so no stale callback can fire afterward.
func (b *Bus[T]) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = make(map[Subscription]func(T))
	b.order = nil
}
