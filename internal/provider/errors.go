package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/hashicorp/go-multierror"

	"rpcobserver/internal/jsonrpc"
)

var (
	// ErrMaxRetries is matched by the error returned when every endpoint and
	// every backoff attempt failed
	ErrMaxRetries = errors.New("max retries reached")

	// ErrNoConnections is returned when the provider has no endpoint at all
	ErrNoConnections = errors.New("no connections configured")

	// ErrTimeout is returned when an attempt exceeds the per-request timeout
	ErrTimeout = errors.New("request timed out")

	// ErrNoHealthyEndpoint is returned by Probe when no endpoint answered
	ErrNoHealthyEndpoint = errors.New("no healthy endpoint")

	// ErrNotConnected is returned by a WebSocket endpoint without a live connection
	ErrNotConnected = errors.New("websocket not connected")
)

// HTTPError is a non-200 answer from an HTTP endpoint
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP error %d: %s", e.StatusCode, e.Body)
}

// TransportError is a failure to get any answer from an endpoint
type TransportError struct {
	Endpoint string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("endpoint %s: %v", e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// MaxRetriesError carries every error recorded while retrying a request
type MaxRetriesError struct {
	Method   string
	Attempts int
	Errors   *multierror.Error
}

func (e *MaxRetriesError) Error() string {
	return fmt.Sprintf("%s: %s after %d attempts: %v", ErrMaxRetries, e.Method, e.Attempts, e.Errors.ErrorOrNil())
}

func (e *MaxRetriesError) Is(target error) bool {
	return target == ErrMaxRetries
}

func (e *MaxRetriesError) Unwrap() error {
	return e.Errors.ErrorOrNil()
}

// IsRetryable reports whether err describes a transient condition of the
// endpoint rather than a problem with the request itself
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var rpcErr *jsonrpc.Error
	if errors.As(err, &rpcErr) {
		return rpcErr.IsTransient()
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= http.StatusInternalServerError ||
			httpErr.StatusCode == http.StatusTooManyRequests ||
			jsonrpc.IsTransientMessage(httpErr.Body)
	}

	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return true
	}

	return jsonrpc.IsTransientMessage(err.Error())
}
