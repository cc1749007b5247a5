package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/jpillora/backoff"
	"github.com/rs/zerolog"

	"rpcobserver/internal/config"
	"rpcobserver/internal/metrics"
)

// MethodSendRawTransaction is broadcast to every connection instead of retried
const MethodSendRawTransaction = "eth_sendRawTransaction"

// Default retry policy
const (
	DefaultRequestTimeout  = 10 * time.Second
	DefaultCooldown        = time.Minute
	DefaultRetryLoopLimit  = 3
	DefaultBackoffAttempts = 5
	DefaultBackoffMin      = 500 * time.Millisecond
	DefaultBackoffMax      = 16 * time.Second
	DefaultBackoffFactor   = 2
)

// Options holds the retry policy of a RetryProvider
type Options struct {
	// RequestTimeout bounds a single attempt
	RequestTimeout time.Duration
	// Cooldown is how long an endpoint is deprioritized after a retryable failure
	Cooldown time.Duration
	// RetryLoopLimit is the number of passes over the connection list
	RetryLoopLimit int
	// BackoffAttempts is the number of delayed attempts once the loop is exhausted.
	// A negative value disables the backoff phase.
	BackoffAttempts int
	BackoffMin      time.Duration
	BackoffMax      time.Duration
	BackoffFactor   float64
}

// OptionsFromConfig builds Options from the global config
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		RequestTimeout:  cfg.GetRequestTimeoutDuration(),
		Cooldown:        cfg.GetCooldownDuration(),
		RetryLoopLimit:  cfg.RetryLoopLimit,
		BackoffAttempts: cfg.BackoffAttempts,
		BackoffMin:      cfg.GetBackoffMinDuration(),
		BackoffMax:      cfg.GetBackoffMaxDuration(),
	}
}

func (o *Options) applyDefaults() {
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = DefaultRequestTimeout
	}
	if o.Cooldown <= 0 {
		o.Cooldown = DefaultCooldown
	}
	if o.RetryLoopLimit <= 0 {
		o.RetryLoopLimit = DefaultRetryLoopLimit
	}
	if o.BackoffAttempts == 0 {
		o.BackoffAttempts = DefaultBackoffAttempts
	}
	if o.BackoffMin <= 0 {
		o.BackoffMin = DefaultBackoffMin
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = DefaultBackoffMax
	}
	if o.BackoffFactor <= 1 {
		o.BackoffFactor = DefaultBackoffFactor
	}
}

// operation is one attempt of a logical request against a single endpoint
type operation func(ctx context.Context, ep Endpoint) (json.RawMessage, error)

// RetryProvider exposes a prioritized list of endpoints, plus an optional
// user endpoint, as a single one. Reads fail over between endpoints with
// health tracking and backoff; raw transactions are broadcast to all of them.
type RetryProvider struct {
	conns  []*Connection
	opts   Options
	logger zerolog.Logger

	userMu sync.RWMutex
	user   *Connection

	now func() time.Time
}

// NewRetryProvider creates a RetryProvider. endpoints are in priority order.
func NewRetryProvider(endpoints []Endpoint, opts Options, logger zerolog.Logger) *RetryProvider {
	opts.applyDefaults()

	conns := make([]*Connection, len(endpoints))
	for i, ep := range endpoints {
		conns[i] = NewConnection(ep)
		metrics.EndpointAlive.WithLabelValues(ep.Name()).Set(1)
	}

	return &RetryProvider{
		conns:  conns,
		opts:   opts,
		logger: logger.With().Str("component", "retry-provider").Logger(),
		now:    time.Now,
	}
}

// Options returns the effective retry policy
func (p *RetryProvider) Options() Options {
	return p.opts
}

// SetUserEndpoint attaches ep after the fixed endpoints, replacing any
// previously attached user endpoint
func (p *RetryProvider) SetUserEndpoint(ep Endpoint) {
	p.userMu.Lock()
	p.user = NewConnection(ep)
	p.userMu.Unlock()
	p.logger.Info().Str("endpoint", ep.Name()).Msg("user endpoint attached")
}

// RemoveUserEndpoint detaches the user endpoint and returns it, or nil.
// The caller owns the returned endpoint.
func (p *RetryProvider) RemoveUserEndpoint() Endpoint {
	p.userMu.Lock()
	defer p.userMu.Unlock()

	if p.user == nil {
		return nil
	}
	ep := p.user.Endpoint()
	p.user = nil
	p.logger.Info().Str("endpoint", ep.Name()).Msg("user endpoint detached")
	return ep
}

// UserEndpoint returns the attached user endpoint, or nil
func (p *RetryProvider) UserEndpoint() Endpoint {
	p.userMu.RLock()
	defer p.userMu.RUnlock()
	if p.user == nil {
		return nil
	}
	return p.user.Endpoint()
}

// connections returns the fixed connections followed by the user connection
func (p *RetryProvider) connections() []*Connection {
	p.userMu.RLock()
	defer p.userMu.RUnlock()

	conns := make([]*Connection, 0, len(p.conns)+1)
	conns = append(conns, p.conns...)
	if p.user != nil {
		conns = append(conns, p.user)
	}
	return conns
}

// Perform sends a request through the provider. Raw transactions are
// broadcast; everything else fails over between endpoints.
func (p *RetryProvider) Perform(ctx context.Context, method string, params any) (json.RawMessage, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ProviderRequestDuration.WithLabelValues(method))

	op := func(ctx context.Context, ep Endpoint) (json.RawMessage, error) {
		return ep.Perform(ctx, method, params)
	}

	if method == MethodSendRawTransaction {
		return p.broadcast(ctx, method, op)
	}
	return p.iterateProviders(ctx, method, op)
}

// iterateProviders retries op on health-ordered candidates, then enters an
// exponential backoff phase. Non-retryable errors are returned unchanged.
func (p *RetryProvider) iterateProviders(ctx context.Context, method string, op operation) (json.RawMessage, error) {
	conns := p.connections()
	if len(conns) == 0 {
		return nil, ErrNoConnections
	}

	var errs *multierror.Error
	attempts := 0

	limit := p.opts.RetryLoopLimit * len(conns)
	for i := 0; i < limit; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		conn := selectCandidate(conns, p.now())
		attempts++
		res, err := p.attempt(ctx, conn, method, op)
		if err == nil {
			return res, nil
		}
		if ctx.Err() != nil || !IsRetryable(err) {
			return nil, err
		}
		errs = multierror.Append(errs, fmt.Errorf("%s: %w", conn.Name(), err))
	}

	b := &backoff.Backoff{
		Min:    p.opts.BackoffMin,
		Max:    p.opts.BackoffMax,
		Factor: p.opts.BackoffFactor,
	}
	for i := 0; i < p.opts.BackoffAttempts; i++ {
		delay := b.Duration()
		p.logger.Warn().
			Str("method", method).
			Int("attempt", int(b.Attempt())).
			Dur("delay", delay).
			Msg("all endpoints failed, backing off")

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}

		conn := selectCandidate(p.connections(), p.now())
		if conn == nil {
			break
		}
		attempts++
		res, err := p.attempt(ctx, conn, method, op)
		if err == nil {
			return res, nil
		}
		if ctx.Err() != nil || !IsRetryable(err) {
			return nil, err
		}
		errs = multierror.Append(errs, fmt.Errorf("%s: %w", conn.Name(), err))
	}

	p.logger.Error().
		Str("method", method).
		Int("attempts", attempts).
		Msg("max retries reached")

	return nil, &MaxRetriesError{Method: method, Attempts: attempts, Errors: errs}
}

type attemptResult struct {
	res json.RawMessage
	err error
}

// attempt races op against the request timeout and updates the connection's health
func (p *RetryProvider) attempt(ctx context.Context, conn *Connection, method string, op operation) (json.RawMessage, error) {
	actx, cancel := context.WithTimeout(ctx, p.opts.RequestTimeout)
	defer cancel()

	done := make(chan attemptResult, 1)
	go func() {
		res, err := op(actx, conn.Endpoint())
		done <- attemptResult{res: res, err: err}
	}()

	var r attemptResult
	select {
	case r = <-done:
	case <-actx.Done():
		r.err = actx.Err()
	}

	if r.err == nil {
		conn.MarkAlive()
		metrics.ProviderAttempts.WithLabelValues(conn.Name(), metrics.OutcomeSuccess).Inc()
		return r.res, nil
	}

	// the caller gave up; this says nothing about the endpoint
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	err := r.err
	if errors.Is(err, context.DeadlineExceeded) && actx.Err() != nil {
		err = fmt.Errorf("%w after %s", ErrTimeout, p.opts.RequestTimeout)
	}

	if !IsRetryable(err) {
		metrics.ProviderAttempts.WithLabelValues(conn.Name(), metrics.OutcomeFatal).Inc()
		p.logger.Debug().Err(err).Str("endpoint", conn.Name()).Str("method", method).Msg("request failed, not retryable")
		return nil, err
	}

	until := p.now().Add(p.opts.Cooldown)
	conn.MarkDead(until, err)
	metrics.ProviderAttempts.WithLabelValues(conn.Name(), metrics.OutcomeRetryable).Inc()
	p.logger.Warn().
		Err(err).
		Str("endpoint", conn.Name()).
		Str("method", method).
		Time("deadUntil", until).
		Msg("request failed, endpoint cooling down")
	return nil, err
}

// broadcast sends op to every connection at once and returns the first
// success. When all fail it returns the first error that arrived.
// Attempts that lose the race keep running until they finish on their own.
func (p *RetryProvider) broadcast(ctx context.Context, method string, op operation) (json.RawMessage, error) {
	conns := p.connections()
	if len(conns) == 0 {
		return nil, ErrNoConnections
	}

	results := make(chan attemptResult, len(conns))
	sendCtx := context.WithoutCancel(ctx)
	for _, conn := range conns {
		go func(conn *Connection) {
			res, err := p.attempt(sendCtx, conn, method, op)
			if err != nil {
				err = fmt.Errorf("%s: %w", conn.Name(), err)
			}
			results <- attemptResult{res: res, err: err}
		}(conn)
	}

	var firstErr error
	for range conns {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case r := <-results:
			if r.err == nil {
				return r.res, nil
			}
			if firstErr == nil {
				firstErr = r.err
			}
		}
	}

	p.logger.Warn().Err(firstErr).Str("method", method).Int("endpoints", len(conns)).Msg("broadcast rejected by every endpoint")
	return nil, firstErr
}

// Close closes the fixed endpoints. The user endpoint is owned by the caller.
func (p *RetryProvider) Close() {
	for _, conn := range p.conns {
		conn.Endpoint().Close()
	}
}
