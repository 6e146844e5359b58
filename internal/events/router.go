// Package events provides the in-process publish/subscribe router used for
// device lifecycle and input events.
//
// Delivery is synchronous: Publish invokes the matching handlers in
// subscription order on the caller's goroutine, after releasing the
// router's lock. Events from one source are therefore seen in the order
// the source published them, and a handler may subscribe or unsubscribe
// without deadlocking.
package events

import (
	"sync"
	"sync/atomic"
)

// All subscribes a handler to every topic.
const All = "*"

// Event is one published occurrence.
type Event struct {
	Topic   string
	Payload any
}

// Handler receives events.
type Handler func(Event)

// Logger is used to report recovered handler panics.
type Logger interface {
	Error(msg string, args ...any)
}

type subscription struct {
	id      uint64
	topic   string
	handler Handler
}

// Router dispatches events to topic subscribers.
//
// The zero value is not usable; create routers with NewRouter.
type Router struct {
	subs   []subscription
	mu     sync.RWMutex
	nextID atomic.Uint64

	logger   Logger
	loggerMu sync.RWMutex

	published atomic.Uint64
	panics    atomic.Uint64
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{}
}

// Subscribe registers h for topic (or All) and returns a function that
// removes the subscription. Calling the returned function more than once
// is harmless.
func (r *Router) Subscribe(topic string, h Handler) (unsubscribe func()) {
	if h == nil {
		return func() {}
	}

	id := r.nextID.Add(1)
	r.mu.Lock()
	r.subs = append(r.subs, subscription{id: id, topic: topic, handler: h})
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { r.remove(id) })
	}
}

// Once registers h for a single delivery on topic.
func (r *Router) Once(topic string, h Handler) (unsubscribe func()) {
	var fired atomic.Bool
	var unsub func()
	var mu sync.Mutex

	mu.Lock()
	unsub = r.Subscribe(topic, func(e Event) {
		if !fired.CompareAndSwap(false, true) {
			return
		}
		mu.Lock()
		u := unsub
		mu.Unlock()
		u()
		h(e)
	})
	mu.Unlock()
	return unsub
}

// Publish delivers an event to the topic's subscribers and to All
// subscribers, in subscription order.
func (r *Router) Publish(topic string, payload any) {
	r.mu.RLock()
	var handlers []Handler
	for _, s := range r.subs {
		if s.topic == topic || s.topic == All {
			handlers = append(handlers, s.handler)
		}
	}
	r.mu.RUnlock()

	r.published.Add(1)
	e := Event{Topic: topic, Payload: payload}
	for _, h := range handlers {
		r.deliver(h, e)
	}
}

// Count returns the number of subscribers registered for exactly topic.
func (r *Router) Count(topic string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, s := range r.subs {
		if s.topic == topic {
			n++
		}
	}
	return n
}

// Clear removes every subscription.
func (r *Router) Clear() {
	r.mu.Lock()
	r.subs = nil
	r.mu.Unlock()
}

// Published returns how many events have been published.
func (r *Router) Published() uint64 {
	return r.published.Load()
}

// SetLogger sets the logger for recovered handler panics.
func (r *Router) SetLogger(logger Logger) {
	r.loggerMu.Lock()
	r.logger = logger
	r.loggerMu.Unlock()
}

func (r *Router) remove(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]subscription, 0, len(r.subs))
	for _, s := range r.subs {
		if s.id != id {
			out = append(out, s)
		}
	}
	r.subs = out
}

// deliver runs one handler; a panicking handler does not stop the others.
func (r *Router) deliver(h Handler, e Event) {
	defer func() {
		if rec := recover(); rec != nil {
			r.panics.Add(1)
			r.loggerMu.RLock()
			logger := r.logger
			r.loggerMu.RUnlock()
			if logger != nil {
				logger.Error("event handler panic recovered", "topic", e.Topic, "panic", rec)
			}
		}
	}()
	h(e)
}
