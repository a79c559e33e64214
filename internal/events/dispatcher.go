// Package events provides the typed publish/subscribe registry shared by the
// streaming and duplex subsystems.
package events

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/Warmaster-Hoshino/findshop-go/internal/log"
)

// Handler receives the payload published under a tag.
type Handler func(data any)

// Subscription identifies one registered handler so it can be removed.
type Subscription int

type entry struct {
	id Subscription
	fn Handler
}

// Dispatcher maps event tags to ordered subscriber lists. Handlers for one
// tag run synchronously in registration order; a panicking handler is
// recovered and logged so the remaining handlers still run.
type Dispatcher struct {
	mu     sync.Mutex
	subs   map[string][]entry
	nextID Subscription
	logger zerolog.Logger
}

func New() *Dispatcher {
	return &Dispatcher{
		subs:   make(map[string][]entry),
		logger: log.WithComponent("events"),
	}
}

// Subscribe registers fn under tag and returns a handle for Unsubscribe.
func (d *Dispatcher) Subscribe(tag string, fn Handler) Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	d.subs[tag] = append(d.subs[tag], entry{id: d.nextID, fn: fn})
	return d.nextID
}

// Unsubscribe removes the handler registered under tag with the given handle.
// Unknown handles are ignored.
func (d *Dispatcher) Unsubscribe(tag string, sub Subscription) {
	d.mu.Lock()
	defer d.mu.Unlock()
	list := d.subs[tag]
	for i, e := range list {
		if e.id == sub {
			d.subs[tag] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// Publish invokes every subscriber currently registered under tag, in
// registration order, on the calling goroutine.
func (d *Dispatcher) Publish(tag string, data any) {
	d.mu.Lock()
	list := make([]entry, len(d.subs[tag]))
	copy(list, d.subs[tag])
	d.mu.Unlock()

	for _, e := range list {
		d.invoke(tag, e, data)
	}
}

func (d *Dispatcher) invoke(tag string, e entry, data any) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().Str("event", tag).Any("panic", r).Msg("subscriber panicked")
		}
	}()
	e.fn(data)
}
