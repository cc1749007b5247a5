package provider

import (
	"sync"
	"time"

	"rpcobserver/internal/metrics"
)

// Connection pairs an endpoint with its health. A zero nextRetry means the
// endpoint is assumed alive; a time in the future means it is cooling down.
type Connection struct {
	endpoint Endpoint

	mu        sync.Mutex
	nextRetry time.Time
	lastError error
}

// NewConnection creates an alive connection for ep
func NewConnection(ep Endpoint) *Connection {
	return &Connection{endpoint: ep}
}

// Endpoint returns the wrapped endpoint
func (c *Connection) Endpoint() Endpoint {
	return c.endpoint
}

// Name returns the endpoint name
func (c *Connection) Name() string {
	return c.endpoint.Name()
}

// Alive reports whether the cool-down window has elapsed at now
func (c *Connection) Alive(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nextRetry.IsZero() || !now.Before(c.nextRetry)
}

// NextRetry returns the end of the cool-down window, zero when alive
func (c *Connection) NextRetry() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nextRetry
}

// LastError returns the error that caused the last cool-down
func (c *Connection) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastError
}

// MarkAlive clears the cool-down
func (c *Connection) MarkAlive() {
	c.mu.Lock()
	c.nextRetry = time.Time{}
	c.lastError = nil
	c.mu.Unlock()
	metrics.EndpointAlive.WithLabelValues(c.Name()).Set(1)
}

// MarkDead deprioritizes the connection until the given time
func (c *Connection) MarkDead(until time.Time, cause error) {
	c.mu.Lock()
	c.nextRetry = until
	c.lastError = cause
	c.mu.Unlock()
	metrics.EndpointAlive.WithLabelValues(c.Name()).Set(0)
}

// selectCandidate returns the first connection alive at now, in priority
// order, or the one whose cool-down ends first
func selectCandidate(conns []*Connection, now time.Time) *Connection {
	var earliest *Connection
	var earliestAt time.Time

	for _, c := range conns {
		next := c.NextRetry()
		if next.IsZero() || !now.Before(next) {
			return c
		}
		if earliest == nil || next.Before(earliestAt) {
			earliest = c
			earliestAt = next
		}
	}
	return earliest
}
