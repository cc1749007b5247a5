package channel

import (
	"sync"

	"github.com/rs/zerolog"

	"rpcobserver/internal/metrics"
)

// Registry tracks every Channel that has at least one handler so a whole
// session can be torn down at once.
type Registry struct {
	mu       sync.Mutex
	channels map[string]*Channel
	logger   zerolog.Logger
}

// NewRegistry creates an empty Registry
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		channels: make(map[string]*Channel),
		logger:   logger.With().Str("component", "channel-registry").Logger(),
	}
}

// Register adds ch. Registering a member again has no effect.
func (r *Registry) Register(ch *Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.channels[ch.ID()]; ok {
		return
	}
	r.channels[ch.ID()] = ch
	metrics.ChannelsActive.Set(float64(len(r.channels)))

	r.logger.Debug().Str("channel", ch.Name()).Str("id", ch.ID()).Msg("channel registered")
}

// Unregister removes ch. Unregistering a non-member has no effect.
func (r *Registry) Unregister(ch *Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.channels[ch.ID()]; !ok {
		return
	}
	delete(r.channels, ch.ID())
	metrics.ChannelsActive.Set(float64(len(r.channels)))

	r.logger.Debug().Str("channel", ch.Name()).Str("id", ch.ID()).Msg("channel unregistered")
}

// Contains reports whether ch is registered
func (r *Registry) Contains(ch *Channel) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.channels[ch.ID()]
	return ok
}

// Len returns the number of registered channels
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.channels)
}

// CleanUp removes every handler from every registered channel, stopping all
// of their sources, and waits for deliveries in progress to finish. Once it
// returns no handler of those channels runs again.
//
// CleanUp must not be called from within a handler.
func (r *Registry) CleanUp() {
	r.mu.Lock()
	snapshot := make([]*Channel, 0, len(r.channels))
	for _, ch := range r.channels {
		snapshot = append(snapshot, ch)
	}
	r.mu.Unlock()

	for _, ch := range snapshot {
		ch.OffAll()
	}
	for _, ch := range snapshot {
		ch.drain()
	}

	r.mu.Lock()
	clear(r.channels)
	metrics.ChannelsActive.Set(0)
	r.mu.Unlock()

	r.logger.Info().Int("channels", len(snapshot)).Msg("registry cleaned up")
}
