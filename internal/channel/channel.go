// Package channel implements ref-counted publish/subscribe channels whose
// event sources are started lazily on the first handler and stopped with the
// last one.
package channel

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"rpcobserver/internal/metrics"
)

// Handler receives an event payload
type Handler func(payload any)

// HandlerID identifies a registered handler within a Channel
type HandlerID uint64

type handlerEntry struct {
	id HandlerID
	fn Handler
}

// Channel is a named set of events, each with an ordered handler list and an
// optional EventSource feeding it.
type Channel struct {
	id       string
	name     string
	registry *Registry
	sources  map[string]*EventSource
	logger   zerolog.Logger

	// lifecycleMu serializes On/Off so source start/stop follows handler counts
	lifecycleMu sync.Mutex

	mu       sync.RWMutex
	handlers map[string][]handlerEntry
	total    int
	nextID   atomic.Uint64

	deliverMu  sync.Mutex
	deliverCnd *sync.Cond
	delivering int
}

// NewChannel creates a Channel. sources maps event names to their backing
// source; several names may share one source. Events without a source can
// still be subscribed to and emitted.
func NewChannel(name string, registry *Registry, sources map[string]*EventSource, logger zerolog.Logger) *Channel {
	if sources == nil {
		sources = make(map[string]*EventSource)
	}
	id := uuid.NewString()
	c := &Channel{
		id:       id,
		name:     name,
		registry: registry,
		sources:  sources,
		logger:   logger.With().Str("component", "channel").Str("channel", name).Logger(),
		handlers: make(map[string][]handlerEntry),
	}
	c.deliverCnd = sync.NewCond(&c.deliverMu)
	return c
}

// ID returns the unique channel ID
func (c *Channel) ID() string {
	return c.id
}

// Name returns the channel name
func (c *Channel) Name() string {
	return c.name
}

// Source returns the source backing event, or nil
func (c *Channel) Source(event string) *EventSource {
	return c.sources[event]
}

// On registers handler for event. The first handler of an event starts its
// source, the first handler of the channel registers it with the registry.
// The source's init emitter runs after registration.
func (c *Channel) On(event string, handler Handler) *Subscription {
	sub := c.newSubscription(event)
	c.register(sub, handler)
	return sub
}

// Once registers handler to run at most once. The handler is removed before
// it is invoked.
func (c *Channel) Once(event string, handler Handler) *Subscription {
	sub := c.newSubscription(event)
	var fired atomic.Bool
	c.register(sub, func(payload any) {
		if !fired.CompareAndSwap(false, true) {
			return
		}
		sub.Unsubscribe()
		handler(payload)
	})
	return sub
}

func (c *Channel) newSubscription(event string) *Subscription {
	return &Subscription{
		channel: c,
		event:   event,
		id:      HandlerID(c.nextID.Add(1)),
	}
}

func (c *Channel) register(sub *Subscription, handler Handler) {
	event := sub.event
	src := c.sources[event]

	c.lifecycleMu.Lock()
	c.mu.Lock()
	c.handlers[event] = append(c.handlers[event], handlerEntry{id: sub.id, fn: handler})
	c.total++
	firstForEvent := len(c.handlers[event]) == 1
	firstOverall := c.total == 1
	c.mu.Unlock()

	if firstOverall && c.registry != nil {
		c.registry.Register(c)
	}
	if firstForEvent && src != nil {
		c.logger.Debug().Str("event", event).Str("source", src.Name()).Msg("first handler, starting source")
		src.TryStart(event)
	}
	c.lifecycleMu.Unlock()

	if src != nil {
		src.InitEmit(event)
	}
}

// Off removes the handler with the given ID. It reports whether a handler
// was removed.
func (c *Channel) Off(event string, id HandlerID) bool {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	c.mu.Lock()
	list := c.handlers[event]
	idx := -1
	for i, h := range list {
		if h.id == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		c.mu.Unlock()
		return false
	}

	next := make([]handlerEntry, 0, len(list)-1)
	next = append(next, list[:idx]...)
	next = append(next, list[idx+1:]...)
	if len(next) == 0 {
		delete(c.handlers, event)
	} else {
		c.handlers[event] = next
	}
	c.total--
	c.mu.Unlock()

	c.afterRemoval(event, len(next) == 0)
	return true
}

// OffEvent removes every handler of event
func (c *Channel) OffEvent(event string) {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()
	c.offEventLocked(event)
}

// OffAll removes every handler of every event
func (c *Channel) OffAll() {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	c.mu.RLock()
	events := make([]string, 0, len(c.handlers))
	for event := range c.handlers {
		events = append(events, event)
	}
	c.mu.RUnlock()

	for _, event := range events {
		c.offEventLocked(event)
	}
}

func (c *Channel) offEventLocked(event string) {
	c.mu.Lock()
	n := len(c.handlers[event])
	if n == 0 {
		c.mu.Unlock()
		return
	}
	delete(c.handlers, event)
	c.total -= n
	c.mu.Unlock()

	c.afterRemoval(event, true)
}

// afterRemoval stops sources and unregisters on the 1->0 transitions.
// Must be called with lifecycleMu held and mu released.
func (c *Channel) afterRemoval(event string, lastForEvent bool) {
	if lastForEvent {
		if src := c.sources[event]; src != nil {
			c.logger.Debug().Str("event", event).Str("source", src.Name()).Msg("last handler, stopping source")
			src.TryStop(event)
		}
	}

	c.mu.RLock()
	empty := c.total == 0
	c.mu.RUnlock()

	if empty && c.registry != nil {
		c.registry.Unregister(c)
	}
}

// Emit synchronously invokes the handlers of event in registration order.
// Handlers may subscribe or unsubscribe while being invoked; the handler list
// is captured when Emit starts.
func (c *Channel) Emit(event string, payload any) {
	c.mu.RLock()
	list := c.handlers[event]
	if len(list) == 0 {
		c.mu.RUnlock()
		return
	}
	snapshot := make([]handlerEntry, len(list))
	copy(snapshot, list)
	c.beginDelivery()
	c.mu.RUnlock()

	defer c.endDelivery()

	metrics.EventsEmitted.WithLabelValues(c.name, event).Inc()
	for _, h := range snapshot {
		c.invoke(event, h, payload)
	}
}

func (c *Channel) invoke(event string, h handlerEntry, payload any) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().Interface("panic", r).Str("event", event).Msg("handler panic")
		}
	}()
	h.fn(payload)
}

// HandlerCount returns the number of handlers registered for event
func (c *Channel) HandlerCount(event string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.handlers[event])
}

// TotalHandlers returns the number of handlers across all events
func (c *Channel) TotalHandlers() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.total
}

func (c *Channel) beginDelivery() {
	c.deliverMu.Lock()
	c.delivering++
	c.deliverMu.Unlock()
}

func (c *Channel) endDelivery() {
	c.deliverMu.Lock()
	c.delivering--
	if c.delivering == 0 {
		c.deliverCnd.Broadcast()
	}
	c.deliverMu.Unlock()
}

// drain blocks until no Emit is delivering. It must not be called from a handler.
func (c *Channel) drain() {
	c.deliverMu.Lock()
	for c.delivering > 0 {
		c.deliverCnd.Wait()
	}
	c.deliverMu.Unlock()
}

// Subscription is the handle returned by On
type Subscription struct {
	channel *Channel
	event   string
	id      HandlerID
	done    atomic.Bool
}

// ID returns the handler ID
func (s *Subscription) ID() HandlerID {
	return s.id
}

// Event returns the event name
func (s *Subscription) Event() string {
	return s.event
}

// Unsubscribe removes the handler. Calling it again has no effect.
func (s *Subscription) Unsubscribe() {
	if !s.done.CompareAndSwap(false, true) {
		return
	}
	s.channel.Off(s.event, s.id)
}
