package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"rpcobserver/internal/config"
	"rpcobserver/internal/jsonrpc"
)

// Endpoint is a single JSON-RPC node
type Endpoint interface {
	Name() string
	// Perform sends one request and returns its raw result. A JSON-RPC error
	// object is returned as *jsonrpc.Error.
	Perform(ctx context.Context, method string, params any) (json.RawMessage, error)
	Close()
}

// EndpointConfig configures a single endpoint
type EndpointConfig struct {
	Name string
	URL  string

	// HTTPTimeout bounds a whole HTTP exchange, independent of the caller's context
	HTTPTimeout time.Duration

	WSMessageTimeout    time.Duration
	WSReconnectInterval time.Duration
	WSPingInterval      time.Duration
}

// EndpointConfigFromConfig builds the endpoint settings for ep from the global config
func EndpointConfigFromConfig(ep config.EndpointConfig, cfg *config.Config) EndpointConfig {
	return EndpointConfig{
		Name:                ep.Name,
		URL:                 ep.URL,
		HTTPTimeout:         cfg.GetRequestTimeoutDuration(),
		WSMessageTimeout:    cfg.GetWSMessageTimeoutDuration(),
		WSReconnectInterval: cfg.GetWSReconnectIntervalDuration(),
		WSPingInterval:      cfg.GetWSPingIntervalDuration(),
	}
}

// NewEndpoint creates an HTTP or WebSocket endpoint depending on the URL scheme.
// WebSocket endpoints are connected before they are returned.
func NewEndpoint(ctx context.Context, cfg EndpointConfig, logger zerolog.Logger) (Endpoint, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid url for endpoint %s: %w", cfg.Name, err)
	}

	switch u.Scheme {
	case "http", "https":
		return NewHTTPEndpoint(cfg, logger), nil
	case "ws", "wss":
		ws := NewWSEndpoint(cfg, logger)
		if err := ws.Connect(ctx); err != nil {
			return nil, err
		}
		return ws, nil
	default:
		return nil, fmt.Errorf("unsupported scheme %q for endpoint %s", u.Scheme, cfg.Name)
	}
}

// HTTPEndpoint sends JSON-RPC requests over HTTP POST
type HTTPEndpoint struct {
	name       string
	url        string
	httpClient *http.Client
	reqID      atomic.Int64
	logger     zerolog.Logger
}

// NewHTTPEndpoint creates an HTTPEndpoint with a pooled transport
func NewHTTPEndpoint(cfg EndpointConfig, logger zerolog.Logger) *HTTPEndpoint {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
		DisableCompression:  true,
	}

	return &HTTPEndpoint{
		name: cfg.Name,
		url:  cfg.URL,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.HTTPTimeout,
		},
		logger: logger.With().Str("endpoint", cfg.Name).Logger(),
	}
}

// Name returns the endpoint name
func (e *HTTPEndpoint) Name() string {
	return e.name
}

// URL returns the endpoint URL
func (e *HTTPEndpoint) URL() string {
	return e.url
}

// Perform sends a JSON-RPC request via HTTP
func (e *HTTPEndpoint) Perform(ctx context.Context, method string, params any) (json.RawMessage, error) {
	reqBytes, err := jsonrpc.EncodeRequest(method, params, e.reqID.Add(1))
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &TransportError{Endpoint: e.name, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Endpoint: e.name, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	rpcResp, err := jsonrpc.ParseResponse(body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if rpcResp.HasError() {
		e.logger.Debug().
			Str("method", method).
			Int("errorCode", rpcResp.Error.Code).
			Str("errorMessage", rpcResp.Error.Message).
			Msg("RPC error response")
		return nil, rpcResp.Error
	}

	return rpcResp.Result, nil
}

// Close releases idle connections
func (e *HTTPEndpoint) Close() {
	e.httpClient.CloseIdleConnections()
}
