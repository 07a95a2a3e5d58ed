package vehicle

import (
	"sync"

	"github.com/kasuganosora/roleplay/server/game/world"
)

// Entered is raised when a client gets into a vehicle.
type Entered struct {
	ClientID int64        `json:"client_id"`
	Handle   world.Handle `json:"handle"`
}

// Exited is raised when a client leaves a vehicle.
type Exited struct {
	ClientID int64        `json:"client_id"`
	Handle   world.Handle `json:"handle"`
}

// Destroyed is raised when a live vehicle is destroyed.
type Destroyed struct {
	Handle world.Handle `json:"handle"`
}

// Token identifies one subscription.
type Token uint64

type subscription[T any] struct {
	token Token
	fn    func(T)
}

// Topic is an ordered list of handlers for one event kind. The zero value is
// ready to use.
type Topic[T any] struct {
	mu   sync.Mutex
	next Token
	subs []subscription[T]
}

// Subscribe appends fn and returns a token for Unsubscribe.
func (t *Topic[T]) Subscribe(fn func(T)) Token {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.next++
	t.subs = append(t.subs, subscription[T]{token: t.next, fn: fn})
	return t.next
}

// Unsubscribe removes the handler for tok. Unknown tokens are ignored.
func (t *Topic[T]) Unsubscribe(tok Token) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, s := range t.subs {
		if s.token == tok {
			// Copy so an in-flight Publish keeps its own snapshot.
			subs := make([]subscription[T], 0, len(t.subs)-1)
			subs = append(subs, t.subs[:i]...)
			t.subs = append(subs, t.subs[i+1:]...)
			return
		}
	}
}

// Publish calls every handler synchronously, in subscription order.
func (t *Topic[T]) Publish(ev T) {
	t.mu.Lock()
	subs := t.subs
	t.mu.Unlock()
	for _, s := range subs {
		s.fn(ev)
	}
}

// Len returns the number of subscribers.
func (t *Topic[T]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

// Bus groups the vehicle event topics.
type Bus struct {
	Entered   Topic[Entered]
	Exited    Topic[Exited]
	Destroyed Topic[Destroyed]
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{}
}
