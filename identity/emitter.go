package identity

import (
	"sync"

	"github.com/goliatone/go-hostel"
)

type listener struct {
	id uint64
	fn func(hostel.AuthEvent)
}

// emitter delivers events synchronously, in subscription order.
type emitter struct {
	mu        sync.Mutex
	listeners []listener
	next      uint64
}

func (e *emitter) subscribe(fn func(hostel.AuthEvent)) hostel.Subscription {
	if fn == nil {
		return hostel.SubscriptionFunc(nil)
	}

	e.mu.Lock()
	e.next++
	id := e.next
	e.listeners = append(e.listeners, listener{id: id, fn: fn})
	e.mu.Unlock()

	var once sync.Once
	return hostel.SubscriptionFunc(func() {
		once.Do(func() { e.unsubscribe(id) })
	})
}

func (e *emitter) unsubscribe(id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	kept := e.listeners[:0]
	for _, l := range e.listeners {
		if l.id != id {
			kept = append(kept, l)
		}
	}
	e.listeners = kept
}

func (e *emitter) emit(kind hostel.AuthEventKind, session *hostel.Session) {
	e.mu.Lock()
	listeners := make([]listener, len(e.listeners))
	copy(listeners, e.listeners)
	e.mu.Unlock()

	for _, l := range listeners {
		l.fn(hostel.AuthEvent{Kind: kind, Session: cloneSession(session)})
	}
}

func (e *emitter) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners)
}
