package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
)

// EndpointStatus is a snapshot of one connection
type EndpointStatus struct {
	Name        string        `json:"name"`
	User        bool          `json:"user,omitempty"`
	Alive       bool          `json:"alive"`
	NextRetry   time.Time     `json:"nextRetry,omitempty"`
	LastError   string        `json:"lastError,omitempty"`
	BlockNumber uint64        `json:"blockNumber,omitempty"`
	Latency     time.Duration `json:"latency,omitempty"`
}

// Status returns the health of every connection, user connection last
func (p *RetryProvider) Status() []EndpointStatus {
	conns := p.connections()
	now := p.now()

	out := make([]EndpointStatus, len(conns))
	for i, conn := range conns {
		out[i] = p.statusOf(conn, now, i >= len(p.conns))
	}
	return out
}

func (p *RetryProvider) statusOf(conn *Connection, now time.Time, user bool) EndpointStatus {
	st := EndpointStatus{
		Name:      conn.Name(),
		User:      user,
		Alive:     conn.Alive(now),
		NextRetry: conn.NextRetry(),
	}
	if err := conn.LastError(); err != nil {
		st.LastError = err.Error()
	}
	return st
}

// Probe queries the block number of every connection concurrently, updating
// their health. It fails only when no endpoint answered.
func (p *RetryProvider) Probe(ctx context.Context) ([]EndpointStatus, error) {
	conns := p.connections()
	if len(conns) == 0 {
		return nil, ErrNoConnections
	}

	out := make([]EndpointStatus, len(conns))
	errs := make([]error, len(conns))

	var wg sync.WaitGroup
	for i, conn := range conns {
		i, conn := i, conn
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := time.Now()
			res, err := p.attempt(ctx, conn, "eth_blockNumber", func(ctx context.Context, ep Endpoint) (json.RawMessage, error) {
				return ep.Perform(ctx, "eth_blockNumber", []any{})
			})
			if err == nil {
				out[i].BlockNumber, err = decodeQuantity(res)
			}
			out[i].Latency = time.Since(start)
			errs[i] = err
		}()
	}
	wg.Wait()

	now := p.now()
	var merr *multierror.Error
	for i, conn := range conns {
		st := p.statusOf(conn, now, i >= len(p.conns))
		st.BlockNumber = out[i].BlockNumber
		st.Latency = out[i].Latency
		if errs[i] != nil {
			st.LastError = errs[i].Error()
			merr = multierror.Append(merr, fmt.Errorf("%s: %w", conn.Name(), errs[i]))
		}
		out[i] = st
	}

	if merr != nil && len(merr.Errors) == len(conns) {
		return out, fmt.Errorf("%w: %w", ErrNoHealthyEndpoint, merr.ErrorOrNil())
	}
	return out, nil
}
