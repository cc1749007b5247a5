package jsonrpc

import (
	"encoding/json"
	"strings"
)

// Response represents a JSON-RPC response
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	ID      ID              `json:"id"`
}

// HasError returns true if the response contains an error
func (r *Response) HasError() bool {
	return r.Error != nil
}

// ParseResponse parses a JSON-RPC response from bytes
func ParseResponse(data []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// transientMessages are node error messages that describe a temporary
// condition of the node rather than a problem with the request.
var transientMessages = []string{
	"rate limit",
	"too many requests",
	"request limit",
	"capacity exceeded",
	"timeout",
	"timed out",
	"header not found",
	"temporarily unavailable",
	"service unavailable",
	"try again",
	"bad gateway",
}

// IsTransient reports whether the node error is worth retrying on another
// endpoint. Only quota, overload and sync-lag conditions qualify; reverts,
// invalid params and rejected transactions are always final.
func (e *Error) IsTransient() bool {
	if e == nil {
		return false
	}

	switch e.Code {
	case CodeLimitExceeded, CodeInternalError:
		return !isExecutionError(e.Message)
	case CodeParseError, CodeInvalidRequest, CodeInvalidParams, CodeMethodNotFound:
		return false
	}

	return containsAny(e.Message, transientMessages)
}

// IsTransientMessage reports whether an error message from a node or a proxy
// in front of it describes a temporary condition
func IsTransientMessage(message string) bool {
	return containsAny(message, transientMessages) && !isExecutionError(message)
}

// isExecutionError checks for messages that are about the call itself
func isExecutionError(message string) bool {
	return containsAny(message, []string{
		"execution reverted",
		"insufficient funds",
		"nonce too low",
		"nonce too high",
		"already known",
		"replacement transaction underpriced",
	})
}

// containsAny checks if s contains any of the substrings (case insensitive)
func containsAny(s string, substrs []string) bool {
	lower := strings.ToLower(s)
	for _, sub := range substrs {
		if strings.Contains(lower, sub) {
			return true
		}
	}
	return false
}
