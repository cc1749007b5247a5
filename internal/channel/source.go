package channel

import (
	"sync"

	"rpcobserver/internal/metrics"
)

// StartFunc starts the mechanism behind an event source and returns its stopper.
// event is the name of the first event that needed the source.
type StartFunc func(event string) func()

// SourceState is the lifecycle state of an EventSource
type SourceState int

const (
	Stopped SourceState = iota
	Running
)

func (s SourceState) String() string {
	if s == Running {
		return "running"
	}
	return "stopped"
}

// EventSource is a ref-counted start/stop pair shared by one or more event
// names of a Channel. The mechanism runs while at least one of those names
// is served.
type EventSource struct {
	name     string
	start    StartFunc
	initEmit func(event string)

	mu     sync.Mutex
	state  SourceState
	refs   int
	served map[string]bool
	stop   func()
}

// SourceOption configures an EventSource
type SourceOption func(*EventSource)

// WithInitEmitter sets a callback invoked after every subscription so the new
// handler receives the current value without waiting for the next update.
func WithInitEmitter(fn func(event string)) SourceOption {
	return func(s *EventSource) {
		s.initEmit = fn
	}
}

// NewEventSource creates a stopped EventSource
func NewEventSource(name string, start StartFunc, opts ...SourceOption) *EventSource {
	s := &EventSource{
		name:   name,
		start:  start,
		served: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the source name
func (s *EventSource) Name() string {
	return s.name
}

// State returns the current lifecycle state
func (s *EventSource) State() SourceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Running reports whether the mechanism is started
func (s *EventSource) Running() bool {
	return s.State() == Running
}

// Refs returns the number of served event names
func (s *EventSource) Refs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refs
}

// TryStart marks event as served and starts the mechanism if no other event
// was served. It is a no-op for an event that is already served.
func (s *EventSource) TryStart(event string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.served[event] {
		return
	}
	s.served[event] = true
	s.refs++

	if s.state == Stopped {
		s.stop = s.start(event)
		s.state = Running
		metrics.SourcesRunning.WithLabelValues(s.name).Inc()
	}
}

// TryStop marks event as no longer served and stops the mechanism when it was
// the last served event. It is a no-op for an event that is not served.
func (s *EventSource) TryStop(event string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.served[event] {
		return
	}
	delete(s.served, event)
	s.refs--

	if s.refs == 0 && s.state == Running {
		stop := s.stop
		s.stop = nil
		s.state = Stopped
		metrics.SourcesRunning.WithLabelValues(s.name).Dec()
		if stop != nil {
			stop()
		}
	}
}

// InitEmit runs the init emitter for event, if one is configured
func (s *EventSource) InitEmit(event string) {
	if s.initEmit != nil {
		s.initEmit(event)
	}
}
